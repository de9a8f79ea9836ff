package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDNonNegative(t *testing.T) {
	for i := 0; i < 1000; i++ {
		assert.GreaterOrEqual(t, NewID(), int64(0))
	}
}

func TestChatOther(t *testing.T) {
	chat := Chat{ID: 1, Members: [2]ID{10, 20}}

	other, err := chat.Other(10)
	require.NoError(t, err)
	assert.Equal(t, ID(20), other)

	other, err = chat.Other(20)
	require.NoError(t, err)
	assert.Equal(t, ID(10), other)

	_, err = chat.Other(30)
	assert.ErrorIs(t, err, ErrNotAMember)
}

func TestChatHasMember(t *testing.T) {
	chat := Chat{ID: 1, Members: [2]ID{10, 20}}
	assert.True(t, chat.HasMember(10))
	assert.True(t, chat.HasMember(20))
	assert.False(t, chat.HasMember(30))
}

func TestMessageStatusJSON(t *testing.T) {
	for status, name := range map[MessageStatus]string{
		StatusUnknown:   `"unknown"`,
		StatusSending:   `"sending"`,
		StatusDelivered: `"delivered"`,
		StatusRead:      `"read"`,
	} {
		data, err := json.Marshal(status)
		require.NoError(t, err)
		assert.Equal(t, name, string(data))

		var back MessageStatus
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, status, back)
	}

	var bad MessageStatus
	assert.Error(t, json.Unmarshal([]byte(`"shouting"`), &bad))
}

func TestMessageJSONKeepsStatus(t *testing.T) {
	msg := Message{ID: 7, AuthorID: 1, ChatID: 2, SentAt: 1700000000000, Status: StatusDelivered, Text: "hi"}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, msg, back)
}
