// Package messenger implements the chat application on top of the overlay:
// registration, chats, message delivery status and user presence. It talks
// to the network exclusively through the event bus and reports to the UI
// through a Notifier.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyland-inc/meshchat/pkg/bus"
	"github.com/tinyland-inc/meshchat/pkg/event"
	"github.com/tinyland-inc/meshchat/pkg/model"
	"github.com/tinyland-inc/meshchat/pkg/storage"
)

var (
	// ErrNotRegistered is returned by operations that need a local user
	// profile before Register was called.
	ErrNotRegistered = errors.New("not registered")

	// ErrAlreadyRegistered is returned by a second Register call.
	ErrAlreadyRegistered = errors.New("already registered")
)

// Mesh is the slice of the overlay the messenger depends on.
type Mesh interface {
	ConnectToNetwork(ctx context.Context, token string) error
	Token() string
}

// Notifier receives everything the UI should show. Implementations must not
// block; they are called from the messenger's event loop.
type Notifier interface {
	RequireRegistration()
	ReceiveMessage(m model.Message)
	MessageStatusChanged(id model.ID, status model.MessageStatus)
	AddChat(c model.Chat, other model.User)
	NewUser(u model.User)
	UserOffline(id model.ID)
	ChatRead(chatID model.ID)
	ReceiveToken(token string)
	Error(msg string)
}

// Messenger is the application core of one node.
type Messenger struct {
	selfID model.ID
	bus    *bus.Bus
	store  *storage.Store
	mesh   Mesh

	mu       sync.RWMutex
	notifier Notifier
	self     model.User
	ready    bool
}

func New(selfID model.ID, b *bus.Bus, store *storage.Store, mesh Mesh) *Messenger {
	return &Messenger{
		selfID: selfID,
		bus:    b,
		store:  store,
		mesh:   mesh,
	}
}

// SetNotifier swaps in the UI sink. A nil notifier silences the messenger.
func (m *Messenger) SetNotifier(n Notifier) {
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

func (m *Messenger) notify(f func(Notifier)) {
	m.mu.RLock()
	n := m.notifier
	m.mu.RUnlock()
	if n != nil {
		f(n)
	}
}

// SelfID returns this node's id.
func (m *Messenger) SelfID() model.ID {
	return m.selfID
}

// Registered reports whether the local user profile exists.
func (m *Messenger) Registered() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Self returns the local user profile.
func (m *Messenger) Self() (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return model.User{}, ErrNotRegistered
	}
	return m.self, nil
}

// Register creates the local user profile. It can only happen once per node
// lifetime; identity is the node id.
func (m *Messenger) Register(username, name, lastName string) (model.User, error) {
	m.mu.Lock()
	if m.ready {
		u := m.self
		m.mu.Unlock()
		return u, ErrAlreadyRegistered
	}
	u := model.User{
		ID:       m.selfID,
		Username: username,
		Name:     name,
		LastName: lastName,
		Online:   true,
	}
	m.self = u
	m.ready = true
	m.mu.Unlock()

	if err := m.store.AddUser(u); err != nil {
		return u, err
	}
	return u, nil
}

// ConnectToNetwork joins the mesh through an invite token.
func (m *Messenger) ConnectToNetwork(ctx context.Context, token string) error {
	return m.mesh.ConnectToNetwork(ctx, token)
}

// GenerateToken hands the UI this node's invite token.
func (m *Messenger) GenerateToken() string {
	token := m.mesh.Token()
	m.notify(func(n Notifier) { n.ReceiveToken(token) })
	return token
}

// SendMessage creates a message in SENDING state, stores it, and routes it
// to the chat's other member. An attachment is pushed to the receiver's
// upload endpoint before the message itself.
func (m *Messenger) SendMessage(chatID model.ID, text, attachment string) (model.Message, error) {
	if !m.Registered() {
		return model.Message{}, ErrNotRegistered
	}
	chat, err := m.store.GetChat(chatID)
	if err != nil {
		return model.Message{}, err
	}
	other, err := chat.Other(m.selfID)
	if err != nil {
		return model.Message{}, err
	}

	msg := model.Message{
		ID:         model.NewID(),
		AuthorID:   m.selfID,
		ChatID:     chatID,
		SentAt:     time.Now().UnixMilli(),
		Status:     model.StatusSending,
		Attachment: attachment,
		Text:       text,
	}
	if err := m.store.AddMessage(msg); err != nil {
		return model.Message{}, err
	}

	if attachment != "" {
		if err := m.bus.Post(event.SendFileToPeer{
			ProducerID: m.selfID,
			ReceiverID: other,
			Filename:   attachment,
		}); err != nil {
			return msg, err
		}
	}
	if err := m.bus.Post(event.SendToPeer{
		ProducerID: m.selfID,
		ReceiverID: other,
		Payload:    event.NewMessage{ProducerID: m.selfID, Message: msg},
	}); err != nil {
		return msg, err
	}
	return msg, nil
}

// CreateChat starts (or returns) the chat shared with userID. When no chat
// exists yet the remote side is asked first, so both nodes agree on one
// chat id; the resulting chat arrives through the notifier.
func (m *Messenger) CreateChat(userID model.ID) (model.Chat, bool, error) {
	if !m.Registered() {
		return model.Chat{}, false, ErrNotRegistered
	}
	if userID == m.selfID {
		return model.Chat{}, false, fmt.Errorf("chat with self: %w", model.ErrNotAMember)
	}
	if chat, err := m.store.ChatForUser(userID); err == nil {
		return chat, true, nil
	}
	err := m.bus.Post(event.SendToPeer{
		ProducerID: m.selfID,
		ReceiverID: userID,
		Payload:    event.NewChatRequest{ProducerID: m.selfID},
	})
	return model.Chat{}, false, err
}

// ReadMessages marks every message from the chat's other member as READ and
// tells them so.
func (m *Messenger) ReadMessages(chatID model.ID) error {
	if !m.Registered() {
		return ErrNotRegistered
	}
	chat, err := m.store.GetChat(chatID)
	if err != nil {
		return err
	}
	other, err := chat.Other(m.selfID)
	if err != nil {
		return err
	}
	msgs, err := m.store.MessagesFromChat(chatID)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if msg.AuthorID != m.selfID && msg.Status != model.StatusRead {
			_ = m.store.SetMessageStatus(msg.ID, model.StatusRead)
		}
	}
	return m.bus.Post(event.SendToPeer{
		ProducerID: m.selfID,
		ReceiverID: other,
		Payload:    event.ChatRead{ProducerID: m.selfID, ChatID: chatID},
	})
}

// Store exposes the node's local state for read access by the UI.
func (m *Messenger) Store() *storage.Store {
	return m.store
}
