// Command chat is a terminal client for the websocket chat endpoint, used for manual
// testing against a running API.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-booking-assistant/internal/webchat"
)

const closeGrace = 2 * time.Second

func main() {
	_ = godotenv.Load()

	defaultURL := os.Getenv("CHAT_WS_URL")
	if defaultURL == "" {
		defaultURL = "ws://localhost:8080/chat/ws"
	}
	endpoint := flag.String("url", defaultURL, "websocket endpoint")
	session := flag.String("session", "", "resume an existing session id")
	flag.Parse()

	if err := run(*endpoint, *session, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "chat:", err)
		os.Exit(1)
	}
}

func run(endpoint, session string, in io.Reader, out io.Writer) error {
	target, err := dialURL(endpoint, session)
	if err != nil {
		return err
	}
	origin := strings.Replace(strings.Replace(target, "wss://", "https://", 1), "ws://", "http://", 1)
	conn, _, err := websocket.DefaultDialer.Dial(target, http.Header{"Origin": {origin}})
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer func() { _ = conn.Close() }()

	done := make(chan error, 1)
	go func() {
		for {
			var msg webchat.OutboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				done <- err
				return
			}
			if line := render(msg); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/sair" {
			break
		}
		if err := conn.WriteJSON(webchat.InboundMessage{Type: "message", Text: text}); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(closeGrace):
	}
	return scanner.Err()
}

// dialURL appends the session query parameter when one is given.
func dialURL(endpoint, session string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid url scheme %q", u.Scheme)
	}
	if session != "" {
		q := u.Query()
		q.Set("session", session)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// render formats one server frame for the terminal. Typing indicators and pongs print
// nothing.
func render(msg webchat.OutboundMessage) string {
	switch msg.Type {
	case "session":
		return fmt.Sprintf("-- sessão %s --", msg.SessionID)
	case "history":
		lines := make([]string, 0, len(msg.Messages))
		for _, m := range msg.Messages {
			who := "você"
			if m.Role == "assistant" {
				who = "assistente"
			}
			lines = append(lines, fmt.Sprintf("%s> %s", who, m.Text))
		}
		return strings.Join(lines, "\n")
	case "message":
		line := "assistente> " + msg.Text
		if msg.Tokens != nil {
			line += fmt.Sprintf("\n   [tokens: %d]", msg.Tokens.TotalTokens)
		}
		return line
	case "error":
		return "erro> " + msg.Text
	default:
		return ""
	}
}
