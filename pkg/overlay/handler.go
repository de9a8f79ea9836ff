package overlay

import (
	"context"
	"errors"

	"github.com/tinyland-inc/meshchat/pkg/conn"
	"github.com/tinyland-inc/meshchat/pkg/event"
	"github.com/tinyland-inc/meshchat/pkg/logger"
)

// Run consumes network events from the bus until ctx is cancelled or the
// bus closes. A failure handling one event is logged and never stops the
// loop.
func (n *Network) Run(ctx context.Context) {
	sub := n.bus.Subscribe()
	defer sub.Cancel()
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if !event.IsNetworkEvent(e) {
				continue
			}
			n.handleEvent(e)
		case <-ctx.Done():
			return
		}
	}
}

func (n *Network) handleEvent(e event.Event) {
	switch ev := e.(type) {
	case event.PeerListRequest:
		n.handlePeerListRequest(ev)
	case event.PeerListResponse:
		n.handlePeerListResponse(ev)
	case event.SendToPeer:
		n.handleSendToPeer(ev)
	case event.SendFileToPeer:
		n.handleSendFileToPeer(ev)
	case event.ConnectionClosed:
		n.RemoveOfflinePeer(ev.ProducerID)
	}
}

// handlePeerListRequest answers with our online peer table, routed back to
// the requester through the normal envelope path.
func (n *Network) handlePeerListRequest(ev event.PeerListRequest) {
	if ev.ProducerID == n.selfID {
		return
	}
	_ = n.bus.Post(event.SendToPeer{
		ProducerID: n.selfID,
		ReceiverID: ev.ProducerID,
		Payload:    event.PeerListResponse{ProducerID: n.selfID, Peers: n.PeerList()},
	})
}

// handlePeerListResponse is the transitive gossip step: connect to every
// listed peer we do not already hold a connection to.
func (n *Network) handlePeerListResponse(ev event.PeerListResponse) {
	for _, info := range ev.Peers {
		if info.ID == n.selfID {
			continue
		}
		if p := n.FindPeer(info.ID); p != nil && p.Online() {
			continue
		}
		n.AddPeer(info)
	}
}

// handleSendToPeer routes the envelope's payload to the receiver's
// connection. An unknown or offline receiver drops the payload silently;
// the messenger layer owns redelivery.
func (n *Network) handleSendToPeer(ev event.SendToPeer) {
	p := n.FindPeer(ev.ReceiverID)
	if p == nil || !p.Online() {
		logger.DebugCF("overlay", "dropping event for offline peer", map[string]any{
			"peer": ev.ReceiverID, "kind": ev.Payload.Kind(),
		})
		return
	}
	if err := p.SendEvent(ev.Payload); err != nil {
		if errors.Is(err, conn.ErrTransportClosed) {
			logger.DebugCF("overlay", "peer connection closed mid-send", map[string]any{"peer": ev.ReceiverID})
			return
		}
		logger.WarnCF("overlay", "send to peer failed", map[string]any{
			"peer": ev.ReceiverID, "error": err.Error(),
		})
	}
}

func (n *Network) handleSendFileToPeer(ev event.SendFileToPeer) {
	p := n.FindPeer(ev.ReceiverID)
	if p == nil || !p.Online() {
		logger.DebugCF("overlay", "dropping file for offline peer", map[string]any{
			"peer": ev.ReceiverID, "filename": ev.Filename,
		})
		return
	}
	if err := n.pushFile(p.Info, ev.Filename); err != nil {
		logger.WarnCF("overlay", "file push failed", map[string]any{
			"peer": ev.ReceiverID, "filename": ev.Filename, "error": err.Error(),
		})
	}
}
