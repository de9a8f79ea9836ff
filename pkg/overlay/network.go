// Package overlay owns the peer table and every peer's connection: it
// establishes, accepts, replaces and drops connections, bridges their byte
// streams onto the event bus, and grows the mesh through peer-list gossip.
// No other component mutates peer liveness.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/meshchat/pkg/bus"
	"github.com/tinyland-inc/meshchat/pkg/config"
	"github.com/tinyland-inc/meshchat/pkg/conn"
	"github.com/tinyland-inc/meshchat/pkg/event"
	"github.com/tinyland-inc/meshchat/pkg/logger"
	"github.com/tinyland-inc/meshchat/pkg/model"
)

// ErrConnectionFailed is returned when an outbound connect or the wait for
// the peer's open event fails. The caller may retry.
var ErrConnectionFailed = errors.New("connection failed")

// Network is the overlay node: self identity, listen address, and the table
// of known peers. The peer map is the only contended resource; it is only
// touched under mu, and no I/O happens while mu is held. Connection
// lifecycles run through addPeerAndListen so that every registration posts
// exactly one ConnectionClosed when its read pump ends.
type Network struct {
	selfID        model.ID
	listenPort    int
	advertiseHost string
	mediaDir      string
	connectWait   time.Duration
	bus           *bus.Bus

	mu    sync.Mutex
	peers map[model.ID]*Peer

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	client   *http.Client
}

// New builds a Network around the given bus. Call Routes to expose the
// handshake and upload endpoints and Run to start the network event
// handler.
func New(selfID model.ID, cfg *config.Config, b *bus.Bus) *Network {
	return &Network{
		selfID:        selfID,
		listenPort:    cfg.Port,
		advertiseHost: cfg.AdvertiseHost,
		mediaDir:      cfg.MediaPath(),
		connectWait:   cfg.ConnectTimeout(),
		bus:           b,
		peers:         make(map[model.ID]*Peer),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout()},
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// SelfID returns this node's id.
func (n *Network) SelfID() model.ID {
	return n.selfID
}

// Token returns the invite token other nodes use to join through this one.
func (n *Network) Token() string {
	return EncodeToken(model.PeerInfo{ID: n.selfID, Host: n.advertiseHost, Port: n.listenPort})
}

// Routes registers the overlay's HTTP surface: the peer handshake endpoint
// and the media upload endpoint.
func (n *Network) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /network/{peerID}", n.handleConnection)
	mux.HandleFunc("POST /upload", n.handleUpload)
}

// ConnectToNetwork joins an existing mesh through the peer named by an
// invite token. It registers the peer, waits (bounded) for this attempt's
// connection to come up, then kicks off discovery with a peer-list request.
// The wait observes only the attempt started here, so leftovers of earlier
// failed joins cannot fail a retry.
func (n *Network) ConnectToNetwork(ctx context.Context, token string) error {
	info, err := DecodeToken(token)
	if err != nil {
		return err
	}
	if info.ID == n.selfID {
		return nil
	}
	if p := n.FindPeer(info.ID); p != nil && p.Online() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, n.connectWait)
	defer cancel()

	ready := make(chan error, 1)
	go n.addPeerAndListen(info, nil, ready)

	select {
	case err := <-ready:
		if err != nil {
			return fmt.Errorf("%w: peer %d at %s: %v", ErrConnectionFailed, info.ID, info.Addr(), err)
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for peer %d: %v", ErrConnectionFailed, info.ID, ctx.Err())
	}

	p := n.FindPeer(info.ID)
	if p == nil || !p.Online() {
		return fmt.Errorf("%w: peer %d went away", ErrConnectionFailed, info.ID)
	}
	if err := p.SendEvent(event.PeerListRequest{ProducerID: n.selfID}); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// AddPeer registers a peer we only know by address. Registration, dialing
// and the read pump run on their own goroutine.
func (n *Network) AddPeer(info model.PeerInfo) {
	go n.addPeerAndListen(info, nil, nil)
}

// FindPeer returns the registered peer with the given id, or nil.
func (n *Network) FindPeer(id model.ID) *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

// PeerList returns the currently online peers, deduplicated by id.
func (n *Network) PeerList() []model.PeerInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		if p.Online() {
			out = append(out, p.Info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveOfflinePeer drops the peer entry, but only while it is offline: a
// peer that reconnected under the same id in the meantime stays.
func (n *Network) RemoveOfflinePeer(id model.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[id]; ok && !p.Online() {
		delete(n.peers, id)
	}
}

// handleConnection accepts an inbound overlay handshake. The path carries
// the claimed remote peer id; the network_port query parameter carries the
// port the remote is reachable on, defaulting to our own listen port.
func (n *Network) handleConnection(w http.ResponseWriter, r *http.Request) {
	peerID, err := strconv.ParseInt(r.PathValue("peerID"), 10, 64)
	if err != nil || peerID <= 0 {
		http.Error(w, "invalid peer id", http.StatusBadRequest)
		return
	}
	port := n.listenPort
	if raw := r.URL.Query().Get("network_port"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p <= 0 || p > 65535 {
			http.Error(w, "invalid network_port", http.StatusBadRequest)
			return
		}
		port = p
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	ws, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	info := model.PeerInfo{ID: peerID, Host: host, Port: port}
	logger.InfoCF("overlay", "accepted peer connection", map[string]any{"peer": peerID, "addr": info.Addr()})
	n.addPeerAndListen(info, conn.New(ws), nil)
}

// addPeerAndListen is the single entry point for registering any peer,
// inbound or outbound. c == nil means we are the initiator and must dial.
// A non-nil ready channel gets this attempt's outcome: nil once the
// connection is installed and its open event posted, or the dial error.
// Whatever happens, one ConnectionClosed for this peer id is posted when
// the function returns.
func (n *Network) addPeerAndListen(info model.PeerInfo, c *conn.Conn, ready chan<- error) {
	defer func() {
		_ = n.bus.Post(event.ConnectionClosed{ProducerID: info.ID})
	}()

	if c == nil {
		var err error
		c, err = n.dial(info)
		if err != nil {
			logger.WarnCF("overlay", "connect failed", map[string]any{"peer": info.ID, "addr": info.Addr(), "error": err.Error()})
			if ready != nil {
				ready <- err
			}
			return
		}
	}

	p := &Peer{Info: info, conn: c}
	if old := n.install(p); old != nil {
		old.close(websocket.CloseGoingAway, "replaced by new connection")
	}

	_ = n.bus.Post(event.ConnectionOpened{ProducerID: info.ID})
	if ready != nil {
		ready <- nil
	}
	c.Pump(n.bus)
	logger.InfoCF("overlay", "peer connection ended", map[string]any{"peer": info.ID})
}

// install atomically swaps the peer into the table, returning the entry it
// superseded. Last connection wins; the caller closes the old one outside
// the lock.
func (n *Network) install(p *Peer) *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	old := n.peers[p.Info.ID]
	n.peers[p.Info.ID] = p
	return old
}

func (n *Network) dial(info model.PeerInfo) (*conn.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.connectWait)
	defer cancel()
	url := fmt.Sprintf("ws://%s/network/%d?network_port=%d", info.Addr(), n.selfID, n.listenPort)
	logger.InfoCF("overlay", "dialing peer", map[string]any{"peer": info.ID, "url": url})
	ws, resp, err := n.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", info.Addr(), err)
	}
	return conn.New(ws), nil
}
