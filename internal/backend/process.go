// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the capability contract shared by every coding-agent
// CLI the gateway can drive, and provides the two concrete implementations:
// a persistent bidirectional-stream process and an ephemeral spawn-per-turn
// process.
package backend

import "context"

// DeltaSink receives incremental text pieces as they arrive from a turn.
// It is invoked only with non-empty chunks, in event-arrival order, and
// must not block the reader loop that calls it.
type DeltaSink func(chunk string)

// Result is the terminal outcome of a successful turn.
type Result struct {
	FinalText string
	SessionID string
}

// Kind identifies which concrete backend a Process implements.
type Kind string

const (
	KindPersistent Kind = "persistent"
	KindEphemeral  Kind = "ephemeral"
)

// Process is the capability set common to every backend CLI the gateway
// drives. One Process is owned by exactly one registry Session; at most one
// turn may be in flight on a Process at any time.
type Process interface {
	// Start spawns or prepares the underlying child. For the persistent
	// variant this launches the long-running child; for the ephemeral
	// variant it is a no-op (the child is spawned per turn).
	Start(ctx context.Context) error

	// Stop is idempotent: bounded-time SIGTERM then SIGKILL if a child is
	// running, otherwise a no-op.
	Stop(ctx context.Context) error

	// Restart stops then starts the process.
	Restart(ctx context.Context) error

	// IsAlive reports whether the process can currently accept a turn.
	IsAlive() bool

	// IsBusy reports whether a turn is currently in flight.
	IsBusy() bool

	// SendMessage delivers one user turn and streams deltas to sink (which
	// may be nil). It fails with ErrNotRunning, ErrBusy, ErrTimeout,
	// *TurnError, or *ChildExitedError.
	SendMessage(ctx context.Context, text string, sink DeltaSink) (Result, error)

	// AbortTurn cancels the in-flight turn without necessarily stopping the
	// underlying child. Safe to call when no turn is in flight.
	AbortTurn()

	// SessionID returns the backend-assigned session/thread id, or "" if
	// none has been observed yet.
	SessionID() string

	// Cwd returns the working directory the process was started with.
	Cwd() string

	// Model returns the model name the process was started with, or "".
	Model() string

	// TotalCost returns the accumulated cost in USD, or 0 if the backend
	// does not report cost.
	TotalCost() float64

	// Kind identifies which variant this Process implements.
	Kind() Kind
}
