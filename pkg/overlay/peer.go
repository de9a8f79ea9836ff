package overlay

import (
	"fmt"

	"github.com/tinyland-inc/meshchat/pkg/conn"
	"github.com/tinyland-inc/meshchat/pkg/event"
	"github.com/tinyland-inc/meshchat/pkg/model"
)

// Peer is one registered remote node: its wire identity plus the single
// connection the overlay tracks for it. The connection handle is owned by
// the network's peer table and never handed out; everything else talks to
// the peer through SendEvent.
type Peer struct {
	Info model.PeerInfo

	conn *conn.Conn
}

// Online reports whether the peer has a live connection.
func (p *Peer) Online() bool {
	return p.conn != nil && p.conn.Alive()
}

// SendEvent writes one event to the peer's connection.
func (p *Peer) SendEvent(e event.Event) error {
	if p.conn == nil {
		return fmt.Errorf("peer id=%d: %w", p.Info.ID, conn.ErrTransportClosed)
	}
	return p.conn.SendEvent(e)
}

func (p *Peer) close(code int, reason string) {
	if p.conn != nil {
		p.conn.Close(code, reason)
	}
}
