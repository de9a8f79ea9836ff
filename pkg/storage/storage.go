// Package storage is the node-local in-memory index of users, chats and
// messages. Nothing here survives a restart and nothing here talks to the
// network; divergent state between peers is not reconciled.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tinyland-inc/meshchat/pkg/model"
)

var (
	// ErrNotFound is returned by lookups for absent ids.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyPresent is returned by inserts with a duplicate id.
	ErrAlreadyPresent = errors.New("already present")
)

// Store keeps the local chat state, keyed by id. All methods are safe for
// concurrent use.
type Store struct {
	selfID model.ID

	mu         sync.RWMutex
	users      map[model.ID]model.User
	chats      map[model.ID]model.Chat
	messages   map[model.ID]model.Message
	userToChat map[model.ID]model.ID
}

func New(selfID model.ID) *Store {
	return &Store{
		selfID:     selfID,
		users:      make(map[model.ID]model.User),
		chats:      make(map[model.ID]model.Chat),
		messages:   make(map[model.ID]model.Message),
		userToChat: make(map[model.ID]model.ID),
	}
}

func (s *Store) GetUser(id model.ID) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user id=%d: %w", id, ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetChat(id model.ID) (model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chatLocked(id)
}

func (s *Store) chatLocked(id model.ID) (model.Chat, error) {
	c, ok := s.chats[id]
	if !ok {
		return model.Chat{}, fmt.Errorf("chat id=%d: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *Store) GetMessage(id model.ID) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, fmt.Errorf("message id=%d: %w", id, ErrNotFound)
	}
	return m, nil
}

func (s *Store) AddUser(u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user id=%d: %w", u.ID, ErrAlreadyPresent)
	}
	s.users[u.ID] = u
	return nil
}

// AddChat inserts the chat and indexes it by its non-self member.
func (s *Store) AddChat(c model.Chat) error {
	other, err := c.Other(s.selfID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[c.ID]; ok {
		return fmt.Errorf("chat id=%d: %w", c.ID, ErrAlreadyPresent)
	}
	if _, ok := s.userToChat[other]; ok {
		return fmt.Errorf("chat for user id=%d: %w", other, ErrAlreadyPresent)
	}
	s.chats[c.ID] = c
	s.userToChat[other] = c.ID
	return nil
}

// AddMessage inserts the message and appends it to its chat's index. The
// author and the chat must already exist.
func (s *Store) AddMessage(m model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[m.AuthorID]; !ok {
		return fmt.Errorf("message author id=%d: %w", m.AuthorID, ErrNotFound)
	}
	chat, ok := s.chats[m.ChatID]
	if !ok {
		return fmt.Errorf("chat id=%d for message id=%d: %w", m.ChatID, m.ID, ErrNotFound)
	}
	if _, ok := s.messages[m.ID]; ok {
		return fmt.Errorf("message id=%d: %w", m.ID, ErrAlreadyPresent)
	}
	s.messages[m.ID] = m
	chat.Messages = append(chat.Messages, m.ID)
	s.chats[m.ChatID] = chat
	return nil
}

// SetMessageStatus overwrites the status of an existing message,
// last-write-wins.
func (s *Store) SetMessageStatus(id model.ID, status model.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message id=%d: %w", id, ErrNotFound)
	}
	m.Status = status
	s.messages[id] = m
	return nil
}

// SetUserOnline updates the locally observed presence of a user.
func (s *Store) SetUserOnline(id model.ID, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user id=%d: %w", id, ErrNotFound)
	}
	u.Online = online
	s.users[id] = u
	return nil
}

func (s *Store) IsUserPresent(id model.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok
}

func (s *Store) IsChatPresent(id model.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chats[id]
	return ok
}

func (s *Store) IsMessagePresent(id model.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[id]
	return ok
}

func (s *Store) RemoveUser(id model.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	if chatID, ok := s.userToChat[id]; ok {
		delete(s.chats, chatID)
		delete(s.userToChat, id)
	}
}

func (s *Store) RemoveChat(id model.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, id)
}

func (s *Store) RemoveMessage(id model.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if ok {
		if chat, ok := s.chats[m.ChatID]; ok {
			kept := chat.Messages[:0]
			for _, msgID := range chat.Messages {
				if msgID != id {
					kept = append(kept, msgID)
				}
			}
			chat.Messages = kept
			s.chats[m.ChatID] = chat
		}
	}
	delete(s.messages, id)
}

// MessagesFromChat returns the chat's messages in insertion order.
func (s *Store) MessagesFromChat(chatID model.ID) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, err := s.chatLocked(chatID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(chat.Messages))
	for _, id := range chat.Messages {
		m, ok := s.messages[id]
		if !ok {
			return nil, fmt.Errorf("message id=%d: %w", id, ErrNotFound)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) LastMessageFromChat(chatID model.ID) (model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, err := s.chatLocked(chatID)
	if err != nil {
		return model.Message{}, err
	}
	if len(chat.Messages) == 0 {
		return model.Message{}, fmt.Errorf("chat id=%d has no messages: %w", chatID, ErrNotFound)
	}
	id := chat.Messages[len(chat.Messages)-1]
	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, fmt.Errorf("message id=%d: %w", id, ErrNotFound)
	}
	return m, nil
}

func (s *Store) OnlineUsers() []model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		if u.Online {
			out = append(out, u)
		}
	}
	return out
}

// ChatForUser returns the chat shared with userID.
func (s *Store) ChatForUser(userID model.ID) (model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chatID, ok := s.userToChat[userID]
	if !ok {
		return model.Chat{}, fmt.Errorf("chat for user id=%d: %w", userID, ErrNotFound)
	}
	return s.chatLocked(chatID)
}
