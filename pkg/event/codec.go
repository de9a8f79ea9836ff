package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tinyland-inc/meshchat/pkg/model"
)

// ErrUnknownKind is returned when decoding a frame whose discriminator does
// not name any event in the protocol.
var ErrUnknownKind = errors.New("unknown event kind")

// frame is the wire shape of every event: a discriminator plus the
// kind-specific body.
type frame struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Marshal serializes an event into one wire frame.
func Marshal(e Event) ([]byte, error) {
	if e == nil {
		return nil, errors.New("nil event")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	return json.Marshal(frame{Kind: e.Kind(), Data: data})
}

// Unmarshal decodes one wire frame back into its concrete event type.
// Events come back as values, so they compare with == where their fields
// allow it.
func Unmarshal(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Kind {
	case KindPeerListRequest:
		return decodeAs[PeerListRequest](f)
	case KindPeerListResponse:
		return decodeAs[PeerListResponse](f)
	case KindSendToPeer:
		return decodeAs[SendToPeer](f)
	case KindSendFileToPeer:
		return decodeAs[SendFileToPeer](f)
	case KindConnectionOpened:
		return decodeAs[ConnectionOpened](f)
	case KindConnectionClosed:
		return decodeAs[ConnectionClosed](f)
	case KindNewMessage:
		return decodeAs[NewMessage](f)
	case KindChangeMessageStatus:
		return decodeAs[ChangeMessageStatus](f)
	case KindIntroductionRequest:
		return decodeAs[IntroductionRequest](f)
	case KindIntroduction:
		return decodeAs[Introduction](f)
	case KindNewChatRequest:
		return decodeAs[NewChatRequest](f)
	case KindNewChat:
		return decodeAs[NewChat](f)
	case KindNoSuchChat:
		return decodeAs[NoSuchChat](f)
	case KindChatRead:
		return decodeAs[ChatRead](f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, f.Kind)
	}
}

func decodeAs[T Event](f frame) (Event, error) {
	var e T
	if err := json.Unmarshal(f.Data, &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Kind, err)
	}
	return e, nil
}

// sendToPeerWire is the JSON shape of the envelope event; the payload is a
// nested frame so any event, including another envelope, can travel inside.
type sendToPeerWire struct {
	ProducerID model.ID        `json:"producer_id"`
	ReceiverID model.ID        `json:"receiver_id"`
	Payload    json.RawMessage `json:"payload"`
}

func (e SendToPeer) MarshalJSON() ([]byte, error) {
	payload, err := Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode envelope payload: %w", err)
	}
	return json.Marshal(sendToPeerWire{
		ProducerID: e.ProducerID,
		ReceiverID: e.ReceiverID,
		Payload:    payload,
	})
}

func (e *SendToPeer) UnmarshalJSON(data []byte) error {
	var w sendToPeerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	payload, err := Unmarshal(w.Payload)
	if err != nil {
		return fmt.Errorf("decode envelope payload: %w", err)
	}
	e.ProducerID = w.ProducerID
	e.ReceiverID = w.ReceiverID
	e.Payload = payload
	return nil
}
