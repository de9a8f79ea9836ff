// Package event defines the closed set of domain events that travel over
// the event bus and, serialized, over peer connections. Events come in two
// families: network events consumed by the overlay layer, and messenger
// events consumed by the application layer.
package event

import (
	"github.com/tinyland-inc/meshchat/pkg/model"
)

// Event is one member of the tagged union. Kind is the stable wire
// discriminator; Producer identifies the logical origin of the event,
// independent of which connection relayed it.
type Event interface {
	Kind() string
	Producer() model.ID
}

// Wire discriminators. These are protocol-stable; renaming one breaks
// interop with older nodes.
const (
	KindPeerListRequest     = "peer_list_request"
	KindPeerListResponse    = "peer_list_response"
	KindSendToPeer          = "send_to_peer"
	KindSendFileToPeer      = "send_file_to_peer"
	KindConnectionOpened    = "connection_opened"
	KindConnectionClosed    = "connection_closed"
	KindNewMessage          = "new_message"
	KindChangeMessageStatus = "change_message_status"
	KindIntroductionRequest = "introduction_request"
	KindIntroduction        = "introduction"
	KindNewChatRequest      = "new_chat_request"
	KindNewChat             = "new_chat"
	KindNoSuchChat          = "no_such_chat"
	KindChatRead            = "chat_read"
)

// PeerListRequest asks a peer for its known online peers.
type PeerListRequest struct {
	ProducerID model.ID `json:"producer_id"`
}

func (PeerListRequest) Kind() string         { return KindPeerListRequest }
func (e PeerListRequest) Producer() model.ID { return e.ProducerID }

// PeerListResponse answers a PeerListRequest. Receiving it drives the
// transitive gossip step: the receiver attempts to connect to every listed
// peer it does not already know.
type PeerListResponse struct {
	ProducerID model.ID         `json:"producer_id"`
	Peers      []model.PeerInfo `json:"peers"`
}

func (PeerListResponse) Kind() string         { return KindPeerListResponse }
func (e PeerListResponse) Producer() model.ID { return e.ProducerID }

// SendToPeer is the routing envelope: it asks the network layer to deliver
// Payload to ReceiverID's connection. The payload is itself an arbitrary
// event.
type SendToPeer struct {
	ProducerID model.ID
	ReceiverID model.ID
	Payload    Event
}

func (SendToPeer) Kind() string         { return KindSendToPeer }
func (e SendToPeer) Producer() model.ID { return e.ProducerID }

// SendFileToPeer asks the network layer to push a media file to a peer's
// upload endpoint, out-of-band from the event-framed connection.
type SendFileToPeer struct {
	ProducerID model.ID `json:"producer_id"`
	ReceiverID model.ID `json:"receiver_id"`
	Filename   string   `json:"filename"`
}

func (SendFileToPeer) Kind() string         { return KindSendFileToPeer }
func (e SendFileToPeer) Producer() model.ID { return e.ProducerID }

// ConnectionOpened is posted when a connection to the producing peer
// becomes live.
type ConnectionOpened struct {
	ProducerID model.ID `json:"producer_id"`
}

func (ConnectionOpened) Kind() string         { return KindConnectionOpened }
func (e ConnectionOpened) Producer() model.ID { return e.ProducerID }

// ConnectionClosed is posted exactly once when a peer's read pump exits,
// whatever the cause.
type ConnectionClosed struct {
	ProducerID model.ID `json:"producer_id"`
}

func (ConnectionClosed) Kind() string         { return KindConnectionClosed }
func (e ConnectionClosed) Producer() model.ID { return e.ProducerID }

// NewMessage carries a freshly sent chat message to the chat's other member.
type NewMessage struct {
	ProducerID model.ID      `json:"producer_id"`
	Message    model.Message `json:"message"`
}

func (NewMessage) Kind() string         { return KindNewMessage }
func (e NewMessage) Producer() model.ID { return e.ProducerID }

// ChangeMessageStatus propagates a delivery-status transition for a message
// the receiver already holds.
type ChangeMessageStatus struct {
	ProducerID model.ID            `json:"producer_id"`
	MessageID  model.ID            `json:"message_id"`
	NewStatus  model.MessageStatus `json:"new_status"`
}

func (ChangeMessageStatus) Kind() string         { return KindChangeMessageStatus }
func (e ChangeMessageStatus) Producer() model.ID { return e.ProducerID }

// IntroductionRequest asks the user identified by UserID to introduce
// themselves.
type IntroductionRequest struct {
	ProducerID model.ID `json:"producer_id"`
	UserID     model.ID `json:"user_id"`
}

func (IntroductionRequest) Kind() string         { return KindIntroductionRequest }
func (e IntroductionRequest) Producer() model.ID { return e.ProducerID }

// Introduction carries the producing user's profile.
type Introduction struct {
	ProducerID model.ID   `json:"producer_id"`
	User       model.User `json:"user"`
}

func (Introduction) Kind() string         { return KindIntroduction }
func (e Introduction) Producer() model.ID { return e.ProducerID }

// NewChatRequest asks the receiver for the chat it shares with the producer,
// creating the need for one if none exists yet.
type NewChatRequest struct {
	ProducerID model.ID `json:"producer_id"`
}

func (NewChatRequest) Kind() string         { return KindNewChatRequest }
func (e NewChatRequest) Producer() model.ID { return e.ProducerID }

// NewChat carries a chat record to its other member.
type NewChat struct {
	ProducerID model.ID   `json:"producer_id"`
	Chat       model.Chat `json:"chat"`
}

func (NewChat) Kind() string         { return KindNewChat }
func (e NewChat) Producer() model.ID { return e.ProducerID }

// NoSuchChat tells MemberID that the producer holds no chat with them.
type NoSuchChat struct {
	ProducerID model.ID `json:"producer_id"`
	MemberID   model.ID `json:"member_id"`
}

func (NoSuchChat) Kind() string         { return KindNoSuchChat }
func (e NoSuchChat) Producer() model.ID { return e.ProducerID }

// ChatRead tells the chat's other member that every message in the chat has
// been read. No acknowledgement is expected.
type ChatRead struct {
	ProducerID model.ID `json:"producer_id"`
	ChatID     model.ID `json:"chat_id"`
}

func (ChatRead) Kind() string         { return KindChatRead }
func (e ChatRead) Producer() model.ID { return e.ProducerID }

// IsNetworkEvent reports whether e belongs to the network family, handled by
// the overlay layer. Everything else is a messenger event for the
// application layer.
func IsNetworkEvent(e Event) bool {
	switch e.(type) {
	case PeerListRequest, PeerListResponse, SendToPeer, SendFileToPeer,
		ConnectionOpened, ConnectionClosed:
		return true
	default:
		return false
	}
}
