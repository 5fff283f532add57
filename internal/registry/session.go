// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registry owns the mapping from conversation id to live backend
// process, eviction under a soft capacity ceiling, an idle sweeper, and the
// dead-session identities needed to resume after a process is gone.
package registry

import (
	"sync"
	"time"

	"github.com/arinova/bridge/internal/backend"
)

// Session is one live agent binding for a conversation. It is created and
// destroyed exclusively by Registry; callers observe it by reference.
type Session struct {
	mu sync.Mutex

	convID      string
	backendKind backend.Kind
	process     backend.Process
	cwd         string
	model       string

	lastActivityAt time.Time
	lastSessionID  string
}

// ConvID returns the conversation this session belongs to.
func (s *Session) ConvID() string { return s.convID }

// BackendKind returns which backend variant this session's process is.
func (s *Session) BackendKind() backend.Kind { return s.backendKind }

// Process returns the owned backend process.
func (s *Session) Process() backend.Process { return s.process }

// Cwd returns the working directory this session was created with.
func (s *Session) Cwd() string { return s.cwd }

// Model returns the model this session was created with, if any.
func (s *Session) Model() string { return s.model }

// IsBusy reports whether the underlying process has a turn in flight.
func (s *Session) IsBusy() bool { return s.process.IsBusy() }

// IsAlive reports whether the underlying process is alive.
func (s *Session) IsAlive() bool { return s.process.IsAlive() }

// LastActivityAt returns the last time this session's activity clock was
// bumped. Monotonically non-decreasing.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// Touch bumps the activity clock to now.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.After(s.lastActivityAt) {
		s.lastActivityAt = now
	}
}

// LastSessionID returns the most recently observed backend session id for
// this conversation, if any turn has produced one yet.
func (s *Session) LastSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSessionID
}

func (s *Session) setLastSessionID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.lastSessionID = id
	s.mu.Unlock()
}

// Info is an exported, listing-friendly summary of a Session.
type Info struct {
	ConvID         string
	SessionID      string
	Alive          bool
	BackendKind    backend.Kind
	Cwd            string
	Model          string
	LastActivityAt time.Time
	TotalCost      float64
	Dead           bool
}

func (s *Session) info() Info {
	return Info{
		ConvID:         s.convID,
		SessionID:      s.process.SessionID(),
		Alive:          s.process.IsAlive(),
		BackendKind:    s.backendKind,
		Cwd:            s.cwd,
		Model:          s.model,
		LastActivityAt: s.LastActivityAt(),
		TotalCost:      s.process.TotalCost(),
	}
}

// DeadSessionRecord retains the identity of a stopped session so /resume and
// startup-driven auto-resume remain possible once the live process is gone.
type DeadSessionRecord struct {
	SessionID   string
	Cwd         string
	Model       string
	BackendKind backend.Kind
}
