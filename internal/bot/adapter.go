// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bot implements the outbound WebSocket FrontendAdapter: a client
// that dials out to an external chat server, registers the gateway's
// slash-commands as a skills manifest, and maps inbound tasks one-to-one
// onto the TurnCoordinator.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arinova/bridge/internal/backend"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// reconnectBackoff is the fixed sequence of delays between reconnect
// attempts; the last value repeats once exhausted.
var reconnectBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 15 * time.Second, 30 * time.Second}

// Coordinator is the subset of turn.Coordinator the bot adapter needs.
type Coordinator interface {
	Handle(ctx context.Context, convID, requestedModel, prompt string, sink backend.DeltaSink, serializeHTTP bool) (string, error)
}

// SkillSource supplies the slash-command names registered as skills.
type SkillSource interface {
	CommandNames() []string
}

// Adapter is the outbound WS bot client. It is entirely inert until Run is
// called and has no effect on the rest of the gateway if never started.
type Adapter struct {
	serverURL string
	botToken  string
	coord     Coordinator
	skills    []string
	dialer    websocket.Dialer

	mu    sync.Mutex
	conn  *websocket.Conn
	tasks map[string]context.CancelFunc

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates an Adapter. serverURL and botToken must both be non-empty for
// the adapter to be meaningful; the caller is responsible for not starting
// it otherwise, per spec.md §4.5.2's "entirely absent" requirement.
func New(serverURL, botToken string, coord Coordinator, skills SkillSource) *Adapter {
	return &Adapter{
		serverURL: serverURL,
		botToken:  botToken,
		coord:     coord,
		skills:    skills.CommandNames(),
		dialer:    websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		tasks:     make(map[string]context.CancelFunc),
		stop:      make(chan struct{}),
	}
}

// registerMessage is sent immediately after a successful dial.
type registerMessage struct {
	Type     string   `json:"type"`
	BotToken string   `json:"botToken"`
	Skills   []string `json:"skills"`
}

// inboundMessage is the envelope for every message the server sends.
type inboundMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// outboundMessage is the envelope for chunk/complete/error replies.
type outboundMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Run dials the chat server and services tasks until ctx is canceled or
// Stop is called, auto-reconnecting on unexpected disconnect.
func (a *Adapter) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stop:
			return nil
		default:
		}

		if err := a.connectAndServe(ctx); err != nil {
			log.Printf("bot: connection error: %v", err)
		}

		delay := reconnectBackoff[attempt]
		if attempt < len(reconnectBackoff)-1 {
			attempt++
		}
		log.Printf("bot: reconnecting in %s", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stop:
			return nil
		}
	}
}

// Stop ends Run's loop and closes the active connection, if any.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.conn.Close()
	}
}

func (a *Adapter) connectAndServe(ctx context.Context) error {
	u, err := url.Parse(a.serverURL)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}

	conn, _, err := a.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := a.writeJSON(registerMessage{Type: "register", BotToken: a.botToken, Skills: a.skills}); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	log.Printf("bot: connected to %s, skills=%v", a.serverURL, a.skills)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.pingLoop(runCtx, conn)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch msg.Type {
		case "task":
			a.startTask(runCtx, msg.ConversationID, msg.Content)
		case "cancel":
			a.cancelTask(msg.ConversationID)
		default:
			log.Printf("bot: ignoring unknown message type %q", msg.Type)
		}
	}
}

func (a *Adapter) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			a.mu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// startTask maps one inbound task onto a TurnCoordinator call: signal binds
// to the task's context, sendChunk/sendComplete/sendError become writeJSON
// calls framed per conversation.
func (a *Adapter) startTask(ctx context.Context, convID, content string) {
	taskCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.tasks[convID] = cancel
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.tasks, convID)
			a.mu.Unlock()
			cancel()
		}()

		final, err := a.coord.Handle(taskCtx, convID, "", content, func(chunk string) {
			a.writeJSON(outboundMessage{Type: "chunk", ConversationID: convID, Content: chunk})
		}, false)
		if err != nil {
			a.writeJSON(outboundMessage{Type: "error", ConversationID: convID, Message: err.Error()})
			return
		}
		a.writeJSON(outboundMessage{Type: "complete", ConversationID: convID, Content: final})
	}()
}

func (a *Adapter) cancelTask(convID string) {
	a.mu.Lock()
	cancel, ok := a.tasks[convID]
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

func (a *Adapter) writeJSON(v interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("bot: not connected")
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.conn.WriteMessage(websocket.TextMessage, data)
}
