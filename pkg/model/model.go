package model

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ID identifies a user, chat, message or node. IDs are random 63-bit
// non-negative values; uniqueness is probabilistic, there is no central
// authority handing them out.
type ID = int64

// NewID returns a fresh random ID.
func NewID() ID {
	return int64(rand.Uint64() >> 1)
}

// User is a participant in the mesh. Online tracks reachability as observed
// locally; two nodes may disagree about it.
type User struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	LastName string `json:"last_name"`
	Online   bool   `json:"online"`
}

// PeerInfo is the wire form of a peer: identity plus reachable address.
// It is what invite tokens and peer-list gossip carry; the live connection
// handle never leaves the owning node.
type PeerInfo struct {
	ID   ID     `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the host:port form of the peer address.
func (p PeerInfo) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Message is a single chat message. Identity is the ID alone; only Status
// changes after creation.
type Message struct {
	ID         ID            `json:"id"`
	AuthorID   ID            `json:"author_id"`
	ChatID     ID            `json:"chat_id"`
	SentAt     int64         `json:"sent_at"`
	Status     MessageStatus `json:"status"`
	Attachment string        `json:"attachment,omitempty"`
	Text       string        `json:"text"`
}

// ErrNotAMember is returned by Chat.Other when the given ID is not one of
// the chat's two members.
var ErrNotAMember = errors.New("not a chat member")

// Chat is a conversation between exactly two users.
type Chat struct {
	ID       ID    `json:"id"`
	Members  [2]ID `json:"members"`
	Messages []ID  `json:"messages"`
}

// HasMember reports whether id is one of the chat's members.
func (c Chat) HasMember(id ID) bool {
	return c.Members[0] == id || c.Members[1] == id
}

// Other returns the member that is not selfID.
func (c Chat) Other(selfID ID) (ID, error) {
	switch selfID {
	case c.Members[0]:
		return c.Members[1], nil
	case c.Members[1]:
		return c.Members[0], nil
	default:
		return 0, fmt.Errorf("%w: id=%d chat=%d", ErrNotAMember, selfID, c.ID)
	}
}
