package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/meshchat/pkg/model"
)

const selfID = model.ID(1)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New(selfID)
	require.NoError(t, s.AddUser(model.User{ID: selfID, Username: "me"}))
	require.NoError(t, s.AddUser(model.User{ID: 2, Username: "bob", Online: true}))
	require.NoError(t, s.AddChat(model.Chat{ID: 10, Members: [2]model.ID{selfID, 2}}))
	return s
}

func TestGetAbsent(t *testing.T) {
	s := New(selfID)

	_, err := s.GetUser(5)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetChat(5)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMessage(5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddDuplicateUser(t *testing.T) {
	s := seeded(t)
	assert.ErrorIs(t, s.AddUser(model.User{ID: 2}), ErrAlreadyPresent)
}

func TestAddChatRequiresSelfMembership(t *testing.T) {
	s := New(selfID)
	err := s.AddChat(model.Chat{ID: 10, Members: [2]model.ID{5, 6}})
	assert.ErrorIs(t, err, model.ErrNotAMember)
}

func TestAddSecondChatWithSameUser(t *testing.T) {
	s := seeded(t)
	err := s.AddChat(model.Chat{ID: 11, Members: [2]model.ID{selfID, 2}})
	assert.ErrorIs(t, err, ErrAlreadyPresent)
}

func TestAddMessageRequiresAuthorAndChat(t *testing.T) {
	s := seeded(t)

	err := s.AddMessage(model.Message{ID: 100, AuthorID: 99, ChatID: 10})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.AddMessage(model.Message{ID: 100, AuthorID: 2, ChatID: 99})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AddMessage(model.Message{ID: 100, AuthorID: 2, ChatID: 10}))
	err = s.AddMessage(model.Message{ID: 100, AuthorID: 2, ChatID: 10})
	assert.ErrorIs(t, err, ErrAlreadyPresent)
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	s := seeded(t)
	for _, id := range []model.ID{103, 101, 102} {
		require.NoError(t, s.AddMessage(model.Message{ID: id, AuthorID: 2, ChatID: 10}))
	}

	msgs, err := s.MessagesFromChat(10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, model.ID(103), msgs[0].ID)
	assert.Equal(t, model.ID(102), msgs[2].ID)

	last, err := s.LastMessageFromChat(10)
	require.NoError(t, err)
	assert.Equal(t, model.ID(102), last.ID)
}

func TestLastMessageOfEmptyChat(t *testing.T) {
	s := seeded(t)
	_, err := s.LastMessageFromChat(10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetMessageStatus(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.AddMessage(model.Message{ID: 100, AuthorID: selfID, ChatID: 10, Status: model.StatusSending}))

	require.NoError(t, s.SetMessageStatus(100, model.StatusDelivered))
	m, err := s.GetMessage(100)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, m.Status)

	// Last write wins, even going backwards.
	require.NoError(t, s.SetMessageStatus(100, model.StatusSending))
	m, _ = s.GetMessage(100)
	assert.Equal(t, model.StatusSending, m.Status)

	assert.ErrorIs(t, s.SetMessageStatus(999, model.StatusRead), ErrNotFound)
}

func TestSetUserOnline(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.SetUserOnline(2, false))
	u, err := s.GetUser(2)
	require.NoError(t, err)
	assert.False(t, u.Online)

	assert.ErrorIs(t, s.SetUserOnline(99, true), ErrNotFound)
}

func TestOnlineUsers(t *testing.T) {
	s := seeded(t)
	users := s.OnlineUsers()
	require.Len(t, users, 1)
	assert.Equal(t, model.ID(2), users[0].ID)
}

func TestChatForUser(t *testing.T) {
	s := seeded(t)
	chat, err := s.ChatForUser(2)
	require.NoError(t, err)
	assert.Equal(t, model.ID(10), chat.ID)

	_, err = s.ChatForUser(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveUserDropsChat(t *testing.T) {
	s := seeded(t)
	s.RemoveUser(2)

	assert.False(t, s.IsUserPresent(2))
	assert.False(t, s.IsChatPresent(10))
	_, err := s.ChatForUser(2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveMessageUnlinksFromChat(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.AddMessage(model.Message{ID: 100, AuthorID: 2, ChatID: 10}))
	require.NoError(t, s.AddMessage(model.Message{ID: 101, AuthorID: 2, ChatID: 10}))

	s.RemoveMessage(100)
	assert.False(t, s.IsMessagePresent(100))

	msgs, err := s.MessagesFromChat(10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.ID(101), msgs[0].ID)
}
