package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/gorilla/websocket"
)

// session is one interactive client: a frontend WebSocket plus the line
// editor. The current chat id is what bare text lines are sent to.
type session struct {
	ws *websocket.Conn
	rl *readline.Instance

	mu          sync.Mutex
	currentChat int64
}

func chatCmd(ctx context.Context, addr string) error {
	url := fmt.Sprintf("ws://%s/connection", addr)
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer ws.Close()

	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	s := &session{ws: ws, rl: rl}
	go s.receive()

	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		if err := s.handleLine(line); err != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}

func (s *session) handleLine(line string) error {
	if !strings.HasPrefix(line, "/") {
		s.mu.Lock()
		chatID := s.currentChat
		s.mu.Unlock()
		if chatID == 0 {
			return fmt.Errorf("no chat selected, use /open <chat_id>")
		}
		return s.send(map[string]any{"kind": "send_message", "chat_id": chatID, "text": line})
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		s.printHelp()
		return nil
	case "/register":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /register <username> [name] [last name]")
		}
		req := map[string]any{"kind": "register", "username": fields[1]}
		if len(fields) > 2 {
			req["name"] = fields[2]
		}
		if len(fields) > 3 {
			req["last_name"] = fields[3]
		}
		return s.send(req)
	case "/connect":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /connect <token>")
		}
		return s.send(map[string]any{"kind": "connect", "token": fields[1]})
	case "/token":
		return s.send(map[string]any{"kind": "generate_token"})
	case "/users":
		return s.send(map[string]any{"kind": "online_users"})
	case "/chat":
		id, err := parseID(fields, "/chat <user_id>")
		if err != nil {
			return err
		}
		return s.send(map[string]any{"kind": "create_chat", "user_id": id})
	case "/open":
		id, err := parseID(fields, "/open <chat_id>")
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.currentChat = id
		s.mu.Unlock()
		return s.send(map[string]any{"kind": "change_chat", "chat_id": id})
	case "/read":
		id, err := parseID(fields, "/read <chat_id>")
		if err != nil {
			return err
		}
		return s.send(map[string]any{"kind": "read_messages", "chat_id": id})
	default:
		return fmt.Errorf("unknown command %s, try /help", fields[0])
	}
}

func parseID(fields []string, usage string) (int64, error) {
	if len(fields) != 2 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	return id, nil
}

func (s *session) send(req map[string]any) error {
	return s.ws.WriteJSON(req)
}

// receive prints every frame the node pushes. Ids are kept as json.Number
// so 63-bit values survive the round trip through the terminal.
func (s *session) receive() {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			fmt.Fprintln(s.rl.Stderr(), "connection to node lost")
			s.rl.Close()
			return
		}
		var frame struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		fmt.Fprintln(s.rl.Stdout(), renderFrame(frame.Kind, frame.Data))
	}
}

func renderFrame(kind string, data json.RawMessage) string {
	fields := decodeFields(data)
	switch kind {
	case "require_registration":
		return "* node has no profile yet, use /register"
	case "registered":
		return fmt.Sprintf("* registered as %v (id %v)", fields["username"], fields["id"])
	case "receive_token", "invalid_token":
		if kind == "invalid_token" {
			return "* invalid invite token"
		}
		return fmt.Sprintf("* invite token: %v", fields["token"])
	case "receive_message", "message_sent":
		return fmt.Sprintf("[chat %v] %v: %v", fields["chat_id"], fields["author_id"], fields["text"])
	case "change_message_status":
		return fmt.Sprintf("* message %v is now %v", fields["message_id"], fields["new_status"])
	case "add_chat":
		return fmt.Sprintf("* new chat: %s", string(data))
	case "new_user":
		return fmt.Sprintf("* user online: %v (id %v)", fields["username"], fields["id"])
	case "offline_user":
		return fmt.Sprintf("* user %v went offline", fields["user_id"])
	case "read_chat":
		return fmt.Sprintf("* chat %v was read", fields["chat_id"])
	case "chat_history", "online_users":
		return fmt.Sprintf("* %s: %s", kind, string(data))
	case "error_occurred":
		return fmt.Sprintf("! %v", fields["message"])
	default:
		return fmt.Sprintf("* %s: %s", kind, string(data))
	}
}

func decodeFields(data json.RawMessage) map[string]any {
	fields := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	_ = dec.Decode(&fields)
	return fields
}

func (s *session) printHelp() {
	fmt.Fprint(s.rl.Stdout(), `commands:
  /register <username> [name] [last name]
  /connect <token>     join a network through an invite token
  /token               print this node's invite token
  /users               list online users
  /chat <user_id>      start a chat with a user
  /open <chat_id>      select a chat and print its history
  /read <chat_id>      mark a chat as read
  /quit
anything else is sent as a message to the open chat
`)
}
