// Package frontend exposes the messenger to a UI over a WebSocket JSON
// protocol. One UI connection is active at a time; a newer connection
// replaces the previous one.
package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/meshchat/pkg/logger"
	"github.com/tinyland-inc/meshchat/pkg/messenger"
	"github.com/tinyland-inc/meshchat/pkg/model"
	"github.com/tinyland-inc/meshchat/pkg/overlay"
)

// Frontend bridges one UI WebSocket to the messenger. It is the
// messenger's Notifier: everything the messenger reports is forwarded to
// the active connection as a JSON frame.
type Frontend struct {
	msgr *messenger.Messenger

	mu      sync.Mutex
	current *client

	upgrader websocket.Upgrader
}

type client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func New(m *messenger.Messenger) *Frontend {
	f := &Frontend{
		msgr: m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	m.SetNotifier(f)
	return f
}

// Routes registers the UI endpoint.
func (f *Frontend) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /connection", f.handleConnection)
}

func (f *Frontend) handleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{ws: ws}

	f.mu.Lock()
	old := f.current
	f.current = c
	f.mu.Unlock()
	if old != nil {
		_ = old.ws.Close()
	}

	logger.InfoC("frontend", "UI connected")
	if !f.msgr.Registered() {
		c.send(frame{Kind: "require_registration"})
	}
	f.readLoop(r.Context(), c)
}

func (f *Frontend) readLoop(ctx context.Context, c *client) {
	defer func() {
		f.mu.Lock()
		if f.current == c {
			f.current = nil
		}
		f.mu.Unlock()
		_ = c.ws.Close()
		logger.InfoC("frontend", "UI disconnected")
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(errorFrame("malformed request"))
			continue
		}
		f.dispatch(ctx, c, req)
	}
}

// request is the union of every inbound frame; Kind selects which fields
// are meaningful.
type request struct {
	Kind       string   `json:"kind"`
	Username   string   `json:"username,omitempty"`
	Name       string   `json:"name,omitempty"`
	LastName   string   `json:"last_name,omitempty"`
	Token      string   `json:"token,omitempty"`
	UserID     model.ID `json:"user_id,omitempty"`
	ChatID     model.ID `json:"chat_id,omitempty"`
	Text       string   `json:"text,omitempty"`
	Attachment string   `json:"attachment,omitempty"`
}

type frame struct {
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}

func errorFrame(msg string) frame {
	return frame{Kind: "error_occurred", Data: map[string]any{"message": msg}}
}

func (f *Frontend) dispatch(ctx context.Context, c *client, req request) {
	switch req.Kind {
	case "register":
		u, err := f.msgr.Register(req.Username, req.Name, req.LastName)
		if err != nil {
			c.send(errorFrame(err.Error()))
			return
		}
		c.send(frame{Kind: "registered", Data: u})
	case "connect":
		if err := f.msgr.ConnectToNetwork(ctx, req.Token); err != nil {
			if errors.Is(err, overlay.ErrInvalidToken) {
				c.send(frame{Kind: "invalid_token"})
				return
			}
			c.send(errorFrame(err.Error()))
		}
	case "generate_token":
		f.msgr.GenerateToken()
	case "send_message":
		msg, err := f.msgr.SendMessage(req.ChatID, req.Text, req.Attachment)
		if err != nil {
			c.send(errorFrame(err.Error()))
			return
		}
		c.send(frame{Kind: "message_sent", Data: msg})
	case "create_chat":
		chat, existed, err := f.msgr.CreateChat(req.UserID)
		if err != nil {
			c.send(errorFrame(err.Error()))
			return
		}
		if existed {
			f.AddChat(chat, f.userOrPlaceholder(req.UserID))
		}
	case "change_chat":
		msgs, err := f.msgr.Store().MessagesFromChat(req.ChatID)
		if err != nil {
			c.send(errorFrame(err.Error()))
			return
		}
		c.send(frame{Kind: "chat_history", Data: map[string]any{
			"chat_id": req.ChatID, "messages": msgs,
		}})
	case "read_messages":
		if err := f.msgr.ReadMessages(req.ChatID); err != nil {
			c.send(errorFrame(err.Error()))
		}
	case "online_users":
		c.send(frame{Kind: "online_users", Data: f.msgr.Store().OnlineUsers()})
	default:
		c.send(errorFrame("unknown request kind"))
	}
}

func (f *Frontend) userOrPlaceholder(id model.ID) model.User {
	u, err := f.msgr.Store().GetUser(id)
	if err != nil {
		return model.User{ID: id}
	}
	return u
}

func (f *Frontend) send(fr frame) {
	f.mu.Lock()
	c := f.current
	f.mu.Unlock()
	if c != nil {
		c.send(fr)
	}
}

func (c *client) send(fr frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(fr); err != nil {
		logger.DebugCF("frontend", "UI write failed", map[string]any{"error": err.Error()})
	}
}

// Notifier implementation.

func (f *Frontend) RequireRegistration() {
	f.send(frame{Kind: "require_registration"})
}

func (f *Frontend) ReceiveMessage(m model.Message) {
	f.send(frame{Kind: "receive_message", Data: m})
}

func (f *Frontend) MessageStatusChanged(id model.ID, status model.MessageStatus) {
	f.send(frame{Kind: "change_message_status", Data: map[string]any{
		"message_id": id, "new_status": status,
	}})
}

func (f *Frontend) AddChat(c model.Chat, other model.User) {
	f.send(frame{Kind: "add_chat", Data: map[string]any{
		"chat": c, "user": other,
	}})
}

func (f *Frontend) NewUser(u model.User) {
	f.send(frame{Kind: "new_user", Data: u})
}

func (f *Frontend) UserOffline(id model.ID) {
	f.send(frame{Kind: "offline_user", Data: map[string]any{"user_id": id}})
}

func (f *Frontend) ChatRead(chatID model.ID) {
	f.send(frame{Kind: "read_chat", Data: map[string]any{"chat_id": chatID}})
}

func (f *Frontend) ReceiveToken(token string) {
	f.send(frame{Kind: "receive_token", Data: map[string]any{"token": token}})
}

func (f *Frontend) Error(msg string) {
	f.send(errorFrame(msg))
}
