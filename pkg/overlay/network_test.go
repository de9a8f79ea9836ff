package overlay_test

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/meshchat/pkg/bus"
	"github.com/tinyland-inc/meshchat/pkg/config"
	"github.com/tinyland-inc/meshchat/pkg/event"
	"github.com/tinyland-inc/meshchat/pkg/model"
	"github.com/tinyland-inc/meshchat/pkg/overlay"
)

type node struct {
	id  model.ID
	net *overlay.Network
	bus *bus.Bus
}

// startNode brings up a full overlay node on a random loopback port.
func startNode(t *testing.T, id model.ID) *node {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	cfg := &config.Config{
		Host:          "127.0.0.1",
		Port:          port,
		AdvertiseHost: "127.0.0.1",
		DataDir:       t.TempDir(),
		MediaDir:      "media",
		ReplayWindow:  32,
		ConnectSec:    5,
	}
	b := bus.New(cfg.ReplayWindow)
	n := overlay.New(id, cfg, b)

	mux := http.NewServeMux()
	n.Routes(mux)
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
		b.Close()
	})
	return &node{id: id, net: n, bus: b}
}

func waitOnline(t *testing.T, n *node, peerID model.ID) {
	t.Helper()
	require.Eventually(t, func() bool {
		p := n.net.FindPeer(peerID)
		return p != nil && p.Online()
	}, 5*time.Second, 20*time.Millisecond, "node %d never saw peer %d online", n.id, peerID)
}

func TestConnectToNetwork(t *testing.T) {
	a := startNode(t, 1)
	b := startNode(t, 2)

	require.NoError(t, a.net.ConnectToNetwork(context.Background(), b.net.Token()))

	waitOnline(t, a, b.id)
	waitOnline(t, b, a.id)
}

func TestConnectToNetworkInvalidToken(t *testing.T) {
	a := startNode(t, 1)
	err := a.net.ConnectToNetwork(context.Background(), "garbage")
	assert.ErrorIs(t, err, overlay.ErrInvalidToken)
}

func TestConnectToNetworkSelfToken(t *testing.T) {
	a := startNode(t, 1)
	assert.NoError(t, a.net.ConnectToNetwork(context.Background(), a.net.Token()))
}

func TestConnectToNetworkUnreachablePeer(t *testing.T) {
	a := startNode(t, 1)

	// A port nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	token := overlay.EncodeToken(model.PeerInfo{ID: 99, Host: "127.0.0.1", Port: port})
	err = a.net.ConnectToNetwork(context.Background(), token)
	assert.ErrorIs(t, err, overlay.ErrConnectionFailed)
}

func TestConnectRetryAfterFailedJoin(t *testing.T) {
	a := startNode(t, 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	// First attempt targets a dead address and fails.
	deadToken := overlay.EncodeToken(model.PeerInfo{ID: 99, Host: "127.0.0.1", Port: deadPort})
	err = a.net.ConnectToNetwork(context.Background(), deadToken)
	require.ErrorIs(t, err, overlay.ErrConnectionFailed)

	// The peer comes up for real; a retry with its valid token must not be
	// failed by leftovers of the first attempt.
	b := startNode(t, 99)
	require.NoError(t, a.net.ConnectToNetwork(context.Background(), b.net.Token()))
	waitOnline(t, a, b.id)
}

func TestGossipConvergence(t *testing.T) {
	hub := startNode(t, 1)
	a := startNode(t, 2)
	c := startNode(t, 3)

	require.NoError(t, a.net.ConnectToNetwork(context.Background(), hub.net.Token()))
	require.NoError(t, c.net.ConnectToNetwork(context.Background(), hub.net.Token()))

	// c learns about a from the hub's peer list and dials it directly.
	waitOnline(t, c, a.id)
	waitOnline(t, a, c.id)
}

func TestEnvelopeRouting(t *testing.T) {
	a := startNode(t, 1)
	b := startNode(t, 2)
	require.NoError(t, a.net.ConnectToNetwork(context.Background(), b.net.Token()))
	waitOnline(t, a, b.id)

	require.NoError(t, a.bus.Post(event.SendToPeer{
		ProducerID: a.id,
		ReceiverID: b.id,
		Payload:    event.ChatRead{ProducerID: a.id, ChatID: 7},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e, err := b.bus.WaitFor(ctx, func(e event.Event) bool {
		_, ok := e.(event.ChatRead)
		return ok
	})
	require.NoError(t, err)
	assert.Equal(t, event.ChatRead{ProducerID: a.id, ChatID: 7}, e)
}

func TestReconnectReplacesConnection(t *testing.T) {
	a := startNode(t, 1)
	b := startNode(t, 2)

	info := model.PeerInfo{ID: b.id, Host: "127.0.0.1", Port: mustPort(t, b.net.Token())}
	a.net.AddPeer(info)
	waitOnline(t, a, b.id)

	// A second registration for the same peer id supersedes the first; the
	// replaced connection's pump posts its ConnectionClosed.
	a.net.AddPeer(info)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.bus.WaitFor(ctx, func(e event.Event) bool {
		_, closed := e.(event.ConnectionClosed)
		return closed && e.Producer() == b.id
	})
	require.NoError(t, err)

	// The surviving connection keeps the peer online.
	waitOnline(t, a, b.id)
}

func TestPeerListOnlyOnline(t *testing.T) {
	a := startNode(t, 1)
	assert.Empty(t, a.net.PeerList())

	b := startNode(t, 2)
	require.NoError(t, a.net.ConnectToNetwork(context.Background(), b.net.Token()))
	waitOnline(t, a, b.id)

	list := a.net.PeerList()
	require.Len(t, list, 1)
	assert.Equal(t, b.id, list[0].ID)
}

func mustPort(t *testing.T, token string) int {
	t.Helper()
	info, err := overlay.DecodeToken(token)
	require.NoError(t, err)
	return info.Port
}
