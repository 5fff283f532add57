// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arinova/bridge/internal/backend"
)

// debugConvID is the fixed conversation id the HTTP bridge uses, so the
// HTTP path participates in the same session ecosystem as the WS bot.
const debugConvID = "debug"

const keepAliveInterval = 5 * time.Second

// Coordinator is the subset of turn.Coordinator the chat handler needs.
type Coordinator interface {
	Handle(ctx context.Context, convID, requestedModel, prompt string, sink backend.DeltaSink, serializeHTTP bool) (string, error)
}

// ChatHandler implements POST /v1/chat/completions.
type ChatHandler struct {
	coord Coordinator
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(coord Coordinator) *ChatHandler {
	return &ChatHandler{coord: coord}
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   *bool         `json:"stream"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chunkChoice struct {
	Index        int         `json:"index"`
	Delta        chunkDelta  `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type chunkDelta struct {
	Content string `json:"content,omitempty"`
}

type completionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
	Usage   *usage        `json:"usage,omitempty"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionChoice struct {
	Index        int                `json:"index"`
	Message      completionMessage  `json:"message"`
	FinishReason string             `json:"finish_reason"`
}

type completionResponse struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []completionChoice  `json:"choices"`
	Usage   usage               `json:"usage"`
}

// ServeHTTP handles POST /v1/chat/completions.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrTypeInvalidRequest, "method not allowed")
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "malformed JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "messages must be a non-empty array")
		return
	}

	prompt, ok := latestUserPrompt(req.Messages)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrTypeInvalidRequest, "no user message found")
		return
	}

	streaming := req.Stream == nil || *req.Stream

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	model := req.Model

	if streaming {
		h.serveStream(w, r, id, created, model, prompt)
		return
	}
	h.serveNonStream(w, r, id, created, model, prompt)
}

// latestUserPrompt returns the concatenated text of the last message with
// role "user", joining non-empty text content blocks with newlines.
// Content blocks of any other type are ignored.
func latestUserPrompt(messages []chatMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		return flattenContent(messages[i].Content), true
	}
	return "", false
}

func flattenContent(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (h *ChatHandler) serveNonStream(w http.ResponseWriter, r *http.Request, id string, created int64, model, prompt string) {
	finalText, err := h.coord.Handle(r.Context(), debugConvID, model, prompt, nil, true)
	if err != nil {
		status, errType := mapTurnError(err)
		writeError(w, status, errType, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, completionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []completionChoice{{
			Index:        0,
			Message:      completionMessage{Role: "assistant", Content: finalText},
			FinishReason: "stop",
		}},
		Usage: usage{},
	})
}

func (h *ChatHandler) serveStream(w http.ResponseWriter, r *http.Request, id string, created int64, model, prompt string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	cw := chunkWriter{w: w, flusher: flusher, id: id, created: created, model: model}

	deltaCh := make(chan string, 64)
	done := make(chan struct{})
	var turnErr error

	go func() {
		defer close(done)
		_, err := h.coord.Handle(r.Context(), debugConvID, model, prompt, func(chunk string) {
			deltaCh <- chunk
		}, true)
		turnErr = err
	}()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case chunk := <-deltaCh:
			cw.writeContent(chunk)
		case <-keepAlive.C:
			cw.writeContent("")
		case <-done:
			// Drain any deltas that arrived concurrently with done closing.
			for {
				select {
				case chunk := <-deltaCh:
					cw.writeContent(chunk)
					continue
				default:
				}
				break
			}
			if turnErr != nil && !isAbortLike(turnErr) {
				cw.writeErrorDelta(turnErr)
			}
			cw.writeFinal()
			return
		case <-r.Context().Done():
			return
		}
	}
}

func isAbortLike(err error) bool {
	return errors.Is(err, backend.ErrAborted) || errors.Is(err, context.Canceled)
}

// chunkWriter frames completion chunks as SSE events.
type chunkWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	created int64
	model   string
}

func (c chunkWriter) writeContent(content string) {
	c.write(completionChunk{
		ID:      c.id,
		Object:  "chat.completion.chunk",
		Created: c.created,
		Model:   c.model,
		Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{Content: content}, FinishReason: nil}},
	})
}

func (c chunkWriter) writeErrorDelta(err error) {
	c.writeContent(fmt.Sprintf("Error: %s", err.Error()))
}

func (c chunkWriter) writeFinal() {
	finish := "stop"
	c.write(completionChunk{
		ID:      c.id,
		Object:  "chat.completion.chunk",
		Created: c.created,
		Model:   c.model,
		Choices: []chunkChoice{{Index: 0, Delta: chunkDelta{}, FinishReason: &finish}},
		Usage:   &usage{},
	})
	fmt.Fprint(c.w, "data: [DONE]\n\n")
	c.flusher.Flush()
}

func (c chunkWriter) write(chunk completionChunk) {
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(c.w, "data: %s\n\n", data)
	c.flusher.Flush()
}

// mapTurnError maps a TurnCoordinator error to an HTTP status and OpenAI
// error type for the non-streaming response path, per spec.md §4.5.1 / §7.
func mapTurnError(err error) (int, string) {
	var childExited *backend.ChildExitedError
	switch {
	case errors.As(err, &childExited):
		return http.StatusBadGateway, ErrTypeAPIError
	case errors.Is(err, backend.ErrTimeout):
		return http.StatusGatewayTimeout, ErrTypeTimeout
	case errors.Is(err, backend.ErrNotRunning):
		return http.StatusServiceUnavailable, ErrTypeUnavailable
	default:
		return http.StatusInternalServerError, ErrTypeAPIError
	}
}
