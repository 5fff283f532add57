// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arinova/bridge/internal/backend"
	"github.com/arinova/bridge/internal/persistence"
)

const sweepInterval = 60 * time.Second

// ModelInfo describes one model id the gateway will accept, for /v1/models
// and the /model command's listing.
type ModelInfo struct {
	ID      string
	OwnedBy string
	Kind    backend.Kind
}

// Config holds the registry's static parameters: capacity, idle timeout,
// default working directory, backend binary paths, and the model->backend
// classifier.
type Config struct {
	MaxSessions           int
	IdleTimeout           time.Duration
	DefaultCwd            string
	PersistentBinPath     string
	EphemeralBinPath      string
	EphemeralModels       map[string]struct{}
	PersistentTurnTimeout time.Duration
	McpConfigPath         string
	AppendSystemPrompt    string
	Models                []ModelInfo
}

func (c Config) isEphemeralModel(model string) bool {
	if model == "" {
		return false
	}
	_, ok := c.EphemeralModels[model]
	return ok
}

// CreateOptions parameterizes CreateSession.
type CreateOptions struct {
	Cwd      string
	Model    string
	ResumeID string
	Compact  bool
}

// processFactory builds a backend.Process for a resolved kind. Tests
// substitute a fake; production uses newRealProcess.
type processFactory func(kind backend.Kind, cwd, model, resumeID string, compact bool) backend.Process

// Registry owns every live Session and the identities of recently-stopped
// ones. All mutation goes through its methods; it does not itself serialize
// request processing — that is the frontend's job.
type Registry struct {
	cfg     Config
	store   *persistence.Store
	newProc processFactory

	mu       sync.Mutex
	sessions map[string]*Session
	dead     map[string]DeadSessionRecord // sessionId -> record

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a Registry and starts its idle sweeper.
func New(cfg Config, store *persistence.Store) *Registry {
	return newWithFactory(cfg, store, nil)
}

func newWithFactory(cfg Config, store *persistence.Store, factory processFactory) *Registry {
	r := &Registry{
		cfg:       cfg,
		store:     store,
		sessions:  make(map[string]*Session),
		dead:      make(map[string]DeadSessionRecord),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	if factory != nil {
		r.newProc = factory
	} else {
		r.newProc = r.newRealProcess
	}
	go r.sweepLoop()
	return r
}

// ResolveBackend classifies a model name into the backend variant that
// should serve it. An absent/empty model defaults to Persistent.
func (r *Registry) ResolveBackend(model string) backend.Kind {
	if r.cfg.isEphemeralModel(model) {
		return backend.KindEphemeral
	}
	return backend.KindPersistent
}

func (r *Registry) newRealProcess(kind backend.Kind, cwd, model, resumeID string, compact bool) backend.Process {
	switch kind {
	case backend.KindEphemeral:
		return backend.NewEphemeral(backend.EphemeralOptions{
			BinPath: r.cfg.EphemeralBinPath,
			Cwd:     cwd,
			Model:   model,
		})
	default:
		return backend.NewPersistent(backend.PersistentOptions{
			BinPath:            r.cfg.PersistentBinPath,
			Cwd:                cwd,
			Model:              model,
			ResumeID:           resumeID,
			Compact:            compact,
			McpConfigPath:      r.cfg.McpConfigPath,
			AppendSystemPrompt: r.cfg.AppendSystemPrompt,
			TurnTimeout:        r.cfg.PersistentTurnTimeout,
		})
	}
}

// CreateSession instantiates and starts a new Session for convID, evicting
// the oldest non-busy session first if at capacity.
func (r *Registry) CreateSession(ctx context.Context, convID string, opts CreateOptions) (*Session, error) {
	kind := r.ResolveBackend(opts.Model)
	cwd := opts.Cwd
	if cwd == "" {
		cwd = r.cfg.DefaultCwd
	}

	resumeID := opts.ResumeID
	if resumeID == "" {
		if entry, ok := r.store.Get(convID); ok && entry.BackendKind == string(kind) {
			resumeID = entry.SessionID
		}
	}

	r.mu.Lock()
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.evictOldestLocked()
	}
	r.mu.Unlock()

	proc := r.newProc(kind, cwd, opts.Model, resumeID, opts.Compact)
	if err := proc.Start(ctx); err != nil {
		return nil, fmt.Errorf("registry: start %s backend: %w", kind, err)
	}

	sess := &Session{
		convID:         convID,
		backendKind:    kind,
		process:        proc,
		cwd:            cwd,
		model:          opts.Model,
		lastActivityAt: time.Now(),
	}

	r.mu.Lock()
	r.sessions[convID] = sess
	r.mu.Unlock()

	log.Printf("registry: created session conv=%s backend=%s cwd=%s corr=%s", convID, kind, cwd, uuid.NewString())
	return sess, nil
}

// evictOldestLocked destroys the oldest non-busy session, if one exists.
// Callers must hold r.mu; it releases and reacquires the lock around the
// actual Stop call so a slow shutdown never blocks other registry ops.
func (r *Registry) evictOldestLocked() {
	var (
		oldestConv string
		oldest     *Session
	)
	for convID, sess := range r.sessions {
		if sess.IsBusy() {
			continue
		}
		if oldest == nil || sess.LastActivityAt().Before(oldest.LastActivityAt()) {
			oldest = sess
			oldestConv = convID
		}
	}
	if oldest == nil {
		return // every session busy: admit the new one anyway, best effort
	}
	delete(r.sessions, oldestConv)
	r.recordDeadLocked(oldest)

	r.mu.Unlock()
	log.Printf("registry: evicting session conv=%s (capacity)", oldestConv)
	_ = oldest.process.Stop(context.Background())
	r.mu.Lock()
}

// recordDeadLocked captures a session's identity into the dead map, if it
// had produced a non-empty backend session id. Callers must hold r.mu.
func (r *Registry) recordDeadLocked(sess *Session) {
	sid := sess.process.SessionID()
	if sid == "" {
		return
	}
	r.dead[sid] = DeadSessionRecord{
		SessionID:   sid,
		Cwd:         sess.cwd,
		Model:       sess.model,
		BackendKind: sess.backendKind,
	}
}

// Models returns the configured model catalog.
func (r *Registry) Models() []ModelInfo {
	return r.cfg.Models
}

// FindSessionIDByPrefix resolves a short id prefix to a full backend session
// id, searching live sessions first, then dead records. An ambiguous prefix
// resolves to whichever match the search reaches first; the order within
// live sessions and within dead records is not defined.
func (r *Registry) FindSessionIDByPrefix(prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		if sid := sess.process.SessionID(); sid != "" && strings.HasPrefix(sid, prefix) {
			return sid, true
		}
	}
	for sid := range r.dead {
		if strings.HasPrefix(sid, prefix) {
			return sid, true
		}
	}
	return "", false
}

// GetSession returns the live session for convID, if any.
func (r *Registry) GetSession(convID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[convID]
	return sess, ok
}

// ListSessions returns every live session's summary, followed by any dead
// record whose session id does not appear among the live set.
func (r *Registry) ListSessions() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	liveIDs := make(map[string]struct{}, len(r.sessions))
	infos := make([]Info, 0, len(r.sessions)+len(r.dead))
	for _, sess := range r.sessions {
		info := sess.info()
		infos = append(infos, info)
		if info.SessionID != "" {
			liveIDs[info.SessionID] = struct{}{}
		}
	}
	for sid, rec := range r.dead {
		if _, ok := liveIDs[sid]; ok {
			continue
		}
		infos = append(infos, Info{
			SessionID:   rec.SessionID,
			BackendKind: rec.BackendKind,
			Cwd:         rec.Cwd,
			Model:       rec.Model,
			Dead:        true,
		})
	}
	return infos
}

// DestroySession stops and removes the live session for convID, retaining
// its identity as a DeadSessionRecord if it had a session id.
func (r *Registry) DestroySession(convID string) {
	r.mu.Lock()
	sess, ok := r.sessions[convID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, convID)
	r.recordDeadLocked(sess)
	r.mu.Unlock()

	_ = sess.process.Stop(context.Background())
}

// ResumeSession destroys the current session for convID (if any) and
// creates a fresh one resuming sessionID. If sessionID is empty, the
// current session's own id is used.
func (r *Registry) ResumeSession(ctx context.Context, convID, sessionID string) (*Session, error) {
	r.mu.Lock()
	current, hasCurrent := r.sessions[convID]
	r.mu.Unlock()

	if sessionID == "" && hasCurrent {
		sessionID = current.process.SessionID()
	}

	var (
		cwd, model string
		recovered  bool
	)
	if sessionID != "" {
		r.mu.Lock()
		if rec, ok := r.dead[sessionID]; ok {
			cwd, model, recovered = rec.Cwd, rec.Model, true
		}
		r.mu.Unlock()
	}
	switch {
	case recovered:
		// use the dead record's cwd/model as-is
	case hasCurrent:
		cwd, model = current.cwd, current.model
	default:
		cwd = r.cfg.DefaultCwd
	}

	if hasCurrent {
		r.DestroySession(convID)
	}

	return r.CreateSession(ctx, convID, CreateOptions{Cwd: cwd, Model: model, ResumeID: sessionID})
}

// PersistAfterTurn records the latest successful turn's backend identity.
func (r *Registry) PersistAfterTurn(convID, sessionID string, kind backend.Kind, model, cwd string) {
	if sessionID == "" {
		return
	}
	r.store.Persist(convID, persistence.Entry{
		SessionID:   sessionID,
		BackendKind: string(kind),
		Model:       model,
		Cwd:         cwd,
	})
	if sess, ok := r.GetSession(convID); ok {
		sess.setLastSessionID(sessionID)
	}
}

// StopAll cancels the sweeper, flushes pending persistence, stops every
// live session, and clears all maps. Intended for graceful shutdown.
func (r *Registry) StopAll() {
	close(r.sweepStop)
	<-r.sweepDone

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.dead = make(map[string]DeadSessionRecord)
	r.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.process.Stop(context.Background())
	}
	r.store.Flush()
}

func (r *Registry) sweepLoop() {
	defer close(r.sweepDone)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.sweepStop:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Registry) sweepOnce() {
	now := time.Now()
	var toStop []*Session

	r.mu.Lock()
	for convID, sess := range r.sessions {
		if sess.IsBusy() {
			continue
		}
		if now.Sub(sess.LastActivityAt()) <= r.cfg.IdleTimeout {
			continue
		}
		delete(r.sessions, convID)
		r.recordDeadLocked(sess)
		toStop = append(toStop, sess)
	}
	r.mu.Unlock()

	for _, sess := range toStop {
		sess := sess
		go func() {
			log.Printf("registry: idle sweep stopping conv=%s", sess.convID)
			_ = sess.process.Stop(context.Background())
		}()
	}
}
