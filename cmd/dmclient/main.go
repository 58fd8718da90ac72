// Command dmclient is an interactive terminal client for the Courier
// direct-messaging service. It joins the user's delivery room over WebSocket,
// fetches conversation history over HTTP when a conversation is opened, and
// reconciles the two feeds so each conversation reads in order without
// duplicates.
//
// Usage:
//
//	dmclient -user alice -token tok-alice
//
// Commands:
//
//	/open <user>        open a conversation and fetch its history
//	/send <user> <text> send a message
//	/who <user>         check whether a user is online
//	/quit               exit
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/courier/dm-server/internal/client"
	"github.com/courier/dm-server/internal/message"
	"github.com/courier/dm-server/internal/protocol"
)

func main() {
	var (
		userID  = flag.String("user", "", "local user ID")
		token   = flag.String("token", "", "session token")
		apiURL  = flag.String("api", "http://localhost:8081", "API server base URL")
		wsURL   = flag.String("ws", "ws://localhost:8080/ws", "delivery gateway WebSocket URL")
		timeout = flag.Duration("timeout", 10*time.Second, "HTTP request timeout")
	)
	flag.Parse()

	if *userID == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: dmclient -user <id> -token <token> [-api URL] [-ws URL]")
		os.Exit(1)
	}

	app := &app{
		selfID:     *userID,
		apiURL:     strings.TrimRight(*apiURL, "/"),
		token:      *token,
		reconciler: client.NewReconciler(*userID),
		httpClient: &http.Client{Timeout: *timeout},
	}

	ctx := context.Background()
	conn, _, _, err := ws.Dial(ctx, *wsURL)
	if err != nil {
		log.Fatalf("dial gateway: %v", err)
	}
	app.conn = conn
	defer conn.Close()

	join, err := json.Marshal(protocol.JoinMsg{Type: protocol.TypeJoin, UserID: *userID})
	if err != nil {
		log.Fatalf("encode join: %v", err)
	}
	if err := wsutil.WriteClientMessage(conn, ws.OpText, join); err != nil {
		log.Fatalf("send join: %v", err)
	}

	go app.readLoop()

	fmt.Printf("connected as %s. /open <user> to start.\n", *userID)
	app.repl()
}

type app struct {
	selfID     string
	apiURL     string
	token      string
	conn       net.Conn
	reconciler *client.Reconciler
	httpClient *http.Client

	mu       sync.Mutex
	openWith string // counterpart of the currently displayed conversation
}

// displayed reports the counterpart of the conversation currently on screen.
// Read from the WebSocket read loop while the REPL goroutine updates it.
func (a *app) displayed() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openWith
}

func (a *app) setDisplayed(other string) {
	a.mu.Lock()
	a.openWith = other
	a.mu.Unlock()
}

// readLoop consumes gateway events and feeds newMessage pushes into the
// reconciler. Pushes for the open conversation print immediately; the rest
// accumulate as unread.
func (a *app) readLoop() {
	for {
		data, err := wsutil.ReadServerText(a.conn)
		if err != nil {
			fmt.Println("\nconnection closed:", err)
			os.Exit(1)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case protocol.TypeNewMessage:
			var ev protocol.NewMessageMsg
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			other := ev.SenderID
			if other == a.selfID {
				other = ev.ReceiverID
			}
			if a.reconciler.ApplyPush(ev) && other == a.displayed() {
				a.printMessage(&message.Message{
					SenderID:  ev.SenderID,
					Body:      ev.Message,
					CreatedAt: ev.CreatedAt,
				})
			} else if ev.SenderID != a.selfID {
				if n := a.reconciler.PendingCount(other); n > 0 {
					fmt.Printf("  (%d unread from %s)\n", n, other)
				} else {
					fmt.Printf("  (new message from %s, /open %s to read)\n", other, other)
				}
			}
		case protocol.TypeError:
			var ev protocol.ErrorMsg
			if err := json.Unmarshal(data, &ev); err == nil {
				fmt.Printf("  server error: %s (%s)\n", ev.Message, ev.Code)
			}
		}
	}
}

func (a *app) repl() {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd := line
		rest := ""
		if i := strings.IndexByte(line, ' '); i > 0 {
			cmd, rest = line[:i], strings.TrimSpace(line[i+1:])
		}

		switch cmd {
		case "/open":
			if rest == "" {
				fmt.Println("usage: /open <user>")
				continue
			}
			a.open(rest)
		case "/send":
			other, text, ok := strings.Cut(rest, " ")
			if !ok || strings.TrimSpace(text) == "" {
				fmt.Println("usage: /send <user> <text>")
				continue
			}
			a.send(other, text)
		case "/who":
			if rest == "" {
				fmt.Println("usage: /who <user>")
				continue
			}
			a.who(rest)
		case "/quit":
			return
		default:
			fmt.Println("commands: /open /send /who /quit")
		}
	}
}

// open fetches the conversation with other and renders it. A 404 means the
// pair has never exchanged a message; that renders as an empty conversation.
func (a *app) open(other string) {
	a.reconciler.Open(other)

	hist := &message.History{Sent: []*message.Message{}, Received: []*message.Message{}}
	status, body, err := a.get("/api/message/get/" + other)
	if err != nil {
		fmt.Println("fetch history:", err)
		return
	}
	switch status {
	case http.StatusOK:
		var resp struct {
			SenderMessages   []*message.Message `json:"senderMessages"`
			ReceiverMessages []*message.Message `json:"receiverMessages"`
			ConversationID   string             `json:"conversationId"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			fmt.Println("decode history:", err)
			return
		}
		hist.ConversationID = resp.ConversationID
		hist.Sent = resp.SenderMessages
		hist.Received = resp.ReceiverMessages
	case http.StatusNotFound:
		// No conversation yet.
	default:
		fmt.Printf("fetch history: status %d: %s\n", status, body)
		return
	}

	a.reconciler.ApplyHistory(other, hist)
	a.setDisplayed(other)

	msgs := a.reconciler.Messages(other)
	fmt.Printf("--- conversation with %s (%d messages) ---\n", other, len(msgs))
	for _, m := range msgs {
		a.printMessage(m)
	}
}

func (a *app) send(other, text string) {
	payload, _ := json.Marshal(map[string]string{"message": text})
	status, body, err := a.post("/api/message/send/"+other, payload)
	if err != nil {
		fmt.Println("send:", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("send failed: status %d: %s\n", status, body)
	}
	// The echo push on our own room renders the message once it arrives.
}

func (a *app) who(other string) {
	status, body, err := a.get("/api/presence/" + other)
	if err != nil {
		fmt.Println("presence:", err)
		return
	}
	if status != http.StatusOK {
		fmt.Printf("presence: status %d: %s\n", status, body)
		return
	}
	var resp struct {
		Online bool `json:"online"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		fmt.Println("decode presence:", err)
		return
	}
	if resp.Online {
		fmt.Printf("%s is online\n", other)
	} else {
		fmt.Printf("%s is offline\n", other)
	}
}

func (a *app) printMessage(m *message.Message) {
	who := m.SenderID
	if who == a.selfID {
		who = "me"
	}
	fmt.Printf("  [%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), who, m.Body)
}

func (a *app) get(path string) (int, []byte, error) {
	return a.do(http.MethodGet, path, nil)
}

func (a *app) post(path string, body []byte) (int, []byte, error) {
	return a.do(http.MethodPost, path, body)
}

func (a *app) do(method, path string, body []byte) (int, []byte, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.apiURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}
