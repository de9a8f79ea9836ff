package messenger

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinyland-inc/meshchat/pkg/event"
	"github.com/tinyland-inc/meshchat/pkg/logger"
	"github.com/tinyland-inc/meshchat/pkg/model"
	"github.com/tinyland-inc/meshchat/pkg/storage"
)

// Run consumes messenger events from the bus until ctx is cancelled or the
// bus closes. Connection lifecycle events are also observed here, to drive
// presence and introductions; routing itself stays with the overlay.
func (m *Messenger) Run(ctx context.Context) {
	sub := m.bus.Subscribe()
	defer sub.Cancel()
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			m.handleEvent(e)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Messenger) handleEvent(e event.Event) {
	switch ev := e.(type) {
	case event.ConnectionOpened:
		m.handleConnectionOpened(ev)
	case event.ConnectionClosed:
		m.handleConnectionClosed(ev)
	case event.NewMessage:
		m.handleNewMessage(ev)
	case event.ChangeMessageStatus:
		m.handleChangeMessageStatus(ev)
	case event.IntroductionRequest:
		m.handleIntroductionRequest(ev)
	case event.Introduction:
		m.handleIntroduction(ev)
	case event.NewChatRequest:
		m.handleNewChatRequest(ev)
	case event.NewChat:
		m.handleNewChat(ev)
	case event.NoSuchChat:
		m.handleNoSuchChat(ev)
	case event.ChatRead:
		m.handleChatRead(ev)
	}
}

func (m *Messenger) sendTo(receiver model.ID, payload event.Event) {
	err := m.bus.Post(event.SendToPeer{
		ProducerID: m.selfID,
		ReceiverID: receiver,
		Payload:    payload,
	})
	if err != nil {
		logger.WarnCF("messenger", "posting outbound event failed", map[string]any{
			"receiver": receiver, "kind": payload.Kind(), "error": err.Error(),
		})
	}
}

// handleConnectionOpened asks the freshly connected peer to introduce
// themselves and restores their presence if we already know them.
func (m *Messenger) handleConnectionOpened(ev event.ConnectionOpened) {
	if ev.ProducerID == m.selfID {
		return
	}
	if m.store.IsUserPresent(ev.ProducerID) {
		_ = m.store.SetUserOnline(ev.ProducerID, true)
		if u, err := m.store.GetUser(ev.ProducerID); err == nil {
			m.notify(func(n Notifier) { n.NewUser(u) })
		}
	}
	if !m.Registered() {
		m.notify(func(n Notifier) { n.RequireRegistration() })
		return
	}
	m.sendTo(ev.ProducerID, event.IntroductionRequest{ProducerID: m.selfID, UserID: ev.ProducerID})
}

func (m *Messenger) handleConnectionClosed(ev event.ConnectionClosed) {
	if !m.store.IsUserPresent(ev.ProducerID) {
		return
	}
	_ = m.store.SetUserOnline(ev.ProducerID, false)
	m.notify(func(n Notifier) { n.UserOffline(ev.ProducerID) })
}

// handleNewMessage stores an incoming message as DELIVERED and acknowledges
// it to the author. A duplicate (same id) is dropped without a second ack.
// A message for a chat we have not seen yet implies the chat; it is created
// on the spot.
func (m *Messenger) handleNewMessage(ev event.NewMessage) {
	if !m.Registered() {
		m.notify(func(n Notifier) { n.RequireRegistration() })
		return
	}
	msg := ev.Message
	if m.store.IsMessagePresent(msg.ID) {
		return
	}
	if !m.store.IsUserPresent(msg.AuthorID) {
		_ = m.store.AddUser(model.User{ID: msg.AuthorID, Online: true})
	}
	if !m.store.IsChatPresent(msg.ChatID) {
		m.acceptChat(model.Chat{ID: msg.ChatID, Members: [2]model.ID{m.selfID, ev.ProducerID}})
	}
	msg.Status = model.StatusDelivered
	if err := m.store.AddMessage(msg); err != nil {
		logger.WarnCF("messenger", "storing incoming message failed", map[string]any{
			"message": msg.ID, "chat": msg.ChatID, "error": err.Error(),
		})
		m.notify(func(n Notifier) { n.Error(fmt.Sprintf("could not store message %d: %v", msg.ID, err)) })
		return
	}
	m.notify(func(n Notifier) { n.ReceiveMessage(msg) })
	m.sendTo(ev.ProducerID, event.ChangeMessageStatus{
		ProducerID: m.selfID,
		MessageID:  msg.ID,
		NewStatus:  model.StatusDelivered,
	})
}

// handleChangeMessageStatus applies a status transition, last write wins.
// A status for a message we do not hold is dropped.
func (m *Messenger) handleChangeMessageStatus(ev event.ChangeMessageStatus) {
	if err := m.store.SetMessageStatus(ev.MessageID, ev.NewStatus); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.WarnCF("messenger", "status update failed", map[string]any{
				"message": ev.MessageID, "error": err.Error(),
			})
		}
		return
	}
	m.notify(func(n Notifier) { n.MessageStatusChanged(ev.MessageID, ev.NewStatus) })
}

func (m *Messenger) handleIntroductionRequest(ev event.IntroductionRequest) {
	if ev.UserID != m.selfID {
		return
	}
	self, err := m.Self()
	if err != nil {
		m.notify(func(n Notifier) { n.RequireRegistration() })
		return
	}
	m.sendTo(ev.ProducerID, event.Introduction{ProducerID: m.selfID, User: self})
}

// handleIntroduction records the remote user's profile, or refreshes their
// presence if the profile is already known.
func (m *Messenger) handleIntroduction(ev event.Introduction) {
	if ev.User.ID == m.selfID {
		return
	}
	u := ev.User
	u.Online = true
	if m.store.IsUserPresent(u.ID) {
		_ = m.store.SetUserOnline(u.ID, true)
	} else if err := m.store.AddUser(u); err != nil {
		logger.WarnCF("messenger", "storing introduced user failed", map[string]any{
			"user": u.ID, "error": err.Error(),
		})
		m.notify(func(n Notifier) { n.Error(fmt.Sprintf("could not store user %d: %v", u.ID, err)) })
		return
	}
	m.notify(func(n Notifier) { n.NewUser(u) })
}

// handleNewChatRequest answers with our copy of the shared chat, or
// NoSuchChat if none exists, handing chat creation back to the requester.
func (m *Messenger) handleNewChatRequest(ev event.NewChatRequest) {
	if chat, err := m.store.ChatForUser(ev.ProducerID); err == nil {
		m.sendTo(ev.ProducerID, event.NewChat{ProducerID: m.selfID, Chat: chat})
		return
	}
	m.sendTo(ev.ProducerID, event.NoSuchChat{ProducerID: m.selfID, MemberID: ev.ProducerID})
}

func (m *Messenger) handleNewChat(ev event.NewChat) {
	chat := ev.Chat
	if !chat.HasMember(m.selfID) || m.store.IsChatPresent(chat.ID) {
		return
	}
	m.acceptChat(chat)
}

// handleNoSuchChat creates the shared chat on our side and sends it to the
// other member, retrying the random id until it is locally fresh.
func (m *Messenger) handleNoSuchChat(ev event.NoSuchChat) {
	if ev.MemberID != m.selfID {
		return
	}
	if _, err := m.store.ChatForUser(ev.ProducerID); err == nil {
		return
	}
	id := model.NewID()
	for m.store.IsChatPresent(id) {
		id = model.NewID()
	}
	chat := model.Chat{ID: id, Members: [2]model.ID{m.selfID, ev.ProducerID}}
	if !m.acceptChat(chat) {
		return
	}
	m.sendTo(ev.ProducerID, event.NewChat{ProducerID: m.selfID, Chat: chat})
}

// acceptChat stores the chat and surfaces it together with the other
// member's profile.
func (m *Messenger) acceptChat(chat model.Chat) bool {
	if err := m.store.AddChat(chat); err != nil {
		logger.WarnCF("messenger", "storing chat failed", map[string]any{
			"chat": chat.ID, "error": err.Error(),
		})
		m.notify(func(n Notifier) { n.Error(fmt.Sprintf("could not store chat %d: %v", chat.ID, err)) })
		return false
	}
	other, err := chat.Other(m.selfID)
	if err != nil {
		return false
	}
	u, err := m.store.GetUser(other)
	if err != nil {
		u = model.User{ID: other}
	}
	m.notify(func(n Notifier) { n.AddChat(chat, u) })
	return true
}

// handleChatRead marks every message we authored in the chat as READ.
func (m *Messenger) handleChatRead(ev event.ChatRead) {
	chat, err := m.store.GetChat(ev.ChatID)
	if err != nil {
		return
	}
	if !chat.HasMember(ev.ProducerID) {
		return
	}
	msgs, err := m.store.MessagesFromChat(ev.ChatID)
	if err != nil {
		return
	}
	for _, msg := range msgs {
		if msg.AuthorID == m.selfID && msg.Status != model.StatusRead {
			_ = m.store.SetMessageStatus(msg.ID, model.StatusRead)
		}
	}
	m.notify(func(n Notifier) { n.ChatRead(ev.ChatID) })
}
