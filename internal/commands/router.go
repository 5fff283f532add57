// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package commands implements the administrative slash-commands that
// TurnCoordinator intercepts before a conversation's text ever reaches a
// backend: /new, /sessions, /status, /help, /stop, /resume, /model, /cost,
// /compact.
package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/arinova/bridge/internal/backend"
	"github.com/arinova/bridge/internal/registry"
)

// sessionRegistry is the subset of *registry.Registry the router needs.
// Declared as an interface so tests can substitute a fake without spinning
// up real backend processes.
type sessionRegistry interface {
	ResolveBackend(model string) backend.Kind
	Models() []registry.ModelInfo
	CreateSession(ctx context.Context, convID string, opts registry.CreateOptions) (*registry.Session, error)
	GetSession(convID string) (*registry.Session, bool)
	ListSessions() []registry.Info
	DestroySession(convID string)
	ResumeSession(ctx context.Context, convID, sessionID string) (*registry.Session, error)
	FindSessionIDByPrefix(prefix string) (string, bool)
}

// sessionStore is the subset of *persistence.Store the router needs.
type sessionStore interface {
	Clear(convID string)
}

// convOverride holds a conversation's command-set cwd/model overrides,
// consulted by TurnCoordinator ahead of resolveBackend and createSession.
type convOverride struct {
	cwd   string
	model string
}

// Router dispatches slash-commands against a SessionRegistry and
// PersistenceStore. It holds no state about in-flight turns; overrides are
// its only long-lived per-conversation memory.
type Router struct {
	reg   sessionRegistry
	store sessionStore

	mu        sync.Mutex
	overrides map[string]convOverride
}

// New creates a Router over reg and store.
func New(reg *registry.Registry, store sessionStore) *Router {
	return &Router{
		reg:       reg,
		store:     store,
		overrides: make(map[string]convOverride),
	}
}

// CwdOverride returns the command-set cwd override for convID, if any.
func (r *Router) CwdOverride(convID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overrides[convID]
	if !ok || o.cwd == "" {
		return "", false
	}
	return o.cwd, true
}

// ModelOverride returns the command-set model override for convID, if any.
func (r *Router) ModelOverride(convID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.overrides[convID]
	if !ok || o.model == "" {
		return "", false
	}
	return o.model, true
}

func (r *Router) setCwdOverride(convID, cwd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.overrides[convID]
	o.cwd = cwd
	r.overrides[convID] = o
}

func (r *Router) setModelOverride(convID, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.overrides[convID]
	o.model = model
	r.overrides[convID] = o
}

// Dispatch recognizes a leading "/command" token in line and routes it.
// handled is false for anything not starting with "/" or not a known
// command name, so the caller may send the text on as a regular prompt.
func (r *Router) Dispatch(ctx context.Context, convID, line string) (reply string, handled bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	fields := strings.Fields(trimmed)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	args := fields[1:]

	switch name {
	case "new":
		return r.handleNew(convID, args), true
	case "sessions":
		return r.handleSessions(), true
	case "status":
		return r.handleStatus(convID), true
	case "help":
		return helpText, true
	case "stop":
		return r.handleStop(convID), true
	case "resume":
		return r.handleResume(ctx, convID, args), true
	case "model":
		return r.handleModel(convID, args), true
	case "cost":
		return r.handleCost(convID), true
	case "compact":
		return r.handleCompact(ctx, convID), true
	default:
		return "", false
	}
}

// commandNames is the fixed set of slash-command names Dispatch recognizes,
// in the order they appear in helpText. The WS bot adapter registers these
// as its skills manifest at connect time.
var commandNames = []string{"new", "sessions", "status", "help", "stop", "resume", "model", "cost", "compact"}

// CommandNames returns the slash-command names this router dispatches,
// for frontends that need to advertise them (e.g. the bot adapter's skills
// registration).
func (r *Router) CommandNames() []string {
	names := make([]string, len(commandNames))
	copy(names, commandNames)
	return names
}

var helpText = strings.TrimSpace(`
Available commands:
  /new [path]        start a fresh session, optionally rooted at path
  /sessions          list known sessions
  /status            show the current session's backend, cwd, model, cost
  /help              show this text
  /stop              abort the in-flight turn, if any
  /resume <idPrefix> resume a session by its id prefix
  /model [name]      set or list the active model
  /cost              show accumulated cost for the current session
  /compact           start a fresh session continuing from this one, compacted
`)

func (r *Router) handleNew(convID string, args []string) string {
	if len(args) == 0 {
		r.setCwdOverride(convID, "")
		r.store.Clear(convID)
		r.reg.DestroySession(convID)
		return "Opened new session, cwd=<default>"
	}
	path := args[0]
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("path does not exist: %s", path)
	}
	if !info.IsDir() {
		return fmt.Sprintf("not a directory: %s", path)
	}
	r.setCwdOverride(convID, path)
	r.store.Clear(convID)
	r.reg.DestroySession(convID)
	return fmt.Sprintf("Opened new session, cwd=%s", path)
}

func (r *Router) handleSessions() string {
	infos := r.reg.ListSessions()
	if len(infos) == 0 {
		return "no sessions"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %-8s %-20s %s\n", "CONV", "BACKEND", "SID", "CWD", "STATE")
	b.WriteString(strings.Repeat("-", 70))
	b.WriteByte('\n')
	for _, info := range infos {
		state := "alive"
		if info.Dead {
			state = "dead"
		} else if !info.Alive {
			state = "exited"
		}
		fmt.Fprintf(&b, "%-20s %-10s %-8s %-20s %s\n", info.ConvID, info.BackendKind, shortID(info.SessionID), info.Cwd, state)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) handleStatus(convID string) string {
	sess, ok := r.reg.GetSession(convID)
	if !ok {
		return "no active session"
	}
	proc := sess.Process()
	return fmt.Sprintf(
		"backend=%s cwd=%s session=%s model=%s cost=$%.4f",
		sess.BackendKind(), sess.Cwd(), shortID(proc.SessionID()), modelOrDefault(proc.Model()), proc.TotalCost(),
	)
}

func (r *Router) handleStop(convID string) string {
	sess, ok := r.reg.GetSession(convID)
	if !ok {
		return "no active session"
	}
	if !sess.IsBusy() {
		return "nothing to stop"
	}
	sess.Process().AbortTurn()
	return "aborted"
}

func (r *Router) handleResume(ctx context.Context, convID string, args []string) string {
	if len(args) == 0 {
		return "usage: /resume <idPrefix>"
	}
	prefix := args[0]
	full, ok := r.reg.FindSessionIDByPrefix(prefix)
	if !ok {
		return fmt.Sprintf("no session matching prefix %q", prefix)
	}
	if _, err := r.reg.ResumeSession(ctx, convID, full); err != nil {
		return fmt.Sprintf("resume failed: %v", err)
	}
	return fmt.Sprintf("resumed %s", shortID(full))
}

func (r *Router) handleModel(convID string, args []string) string {
	if len(args) == 0 {
		return r.listModels(convID)
	}
	model := args[0]
	newKind := r.reg.ResolveBackend(model)

	if sess, ok := r.reg.GetSession(convID); ok && sess.BackendKind() != newKind {
		r.store.Clear(convID)
		r.reg.DestroySession(convID)
	}
	r.setModelOverride(convID, model)
	return fmt.Sprintf("model set to %s", model)
}

func (r *Router) listModels(convID string) string {
	models := r.reg.Models()
	if len(models) == 0 {
		return "no known models"
	}
	active, _ := r.ModelOverride(convID)
	if active == "" {
		if sess, ok := r.reg.GetSession(convID); ok {
			active = sess.Process().Model()
		}
	}
	var b strings.Builder
	for _, m := range models {
		marker := " "
		if m.ID == active {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-30s %s\n", marker, m.ID, m.Kind)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) handleCost(convID string) string {
	sess, ok := r.reg.GetSession(convID)
	if !ok {
		return "no data"
	}
	cost := sess.Process().TotalCost()
	if cost <= 0 {
		return "no data"
	}
	return fmt.Sprintf("$%.4f", cost)
}

func (r *Router) handleCompact(ctx context.Context, convID string) string {
	sess, ok := r.reg.GetSession(convID)
	if !ok {
		return "no active session"
	}
	if sess.BackendKind() != backend.KindPersistent {
		return "compact is only supported for the persistent backend"
	}
	sid := sess.Process().SessionID()
	if sid == "" {
		return "no session id to compact from yet"
	}
	cwd, model := sess.Cwd(), sess.Model()
	r.reg.DestroySession(convID)
	if _, err := r.reg.CreateSession(ctx, convID, registry.CreateOptions{
		Cwd: cwd, Model: model, ResumeID: sid, Compact: true,
	}); err != nil {
		return fmt.Sprintf("compact failed: %v", err)
	}
	return "compacted"
}

func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func modelOrDefault(model string) string {
	if model == "" {
		return "-"
	}
	return model
}
