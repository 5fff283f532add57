// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned by SendMessage when the backend cannot run the
// turn: variant E returns it after Stop, and variant P returns it only when
// spawning its child fails. Variant P does not fail on a child that is not
// running; SendMessage starts one first.
var ErrNotRunning = errors.New("backend: not running")

// ErrBusy is returned by SendMessage when a turn is already in flight.
var ErrBusy = errors.New("backend: busy")

// ErrTimeout reports a turn that exceeded its timeout without
// force-resolving. Neither built-in variant returns it: variant P
// force-resolves on timeout and variant E has no turn timeout.
var ErrTimeout = errors.New("backend: turn timed out")

// ErrAborted is returned when AbortTurn cancels an in-flight turn.
var ErrAborted = errors.New("backend: turn aborted")

// TurnError wraps an error message the backend itself reported for the
// turn (e.g. a result event with is_error=true, or a turn-failed event).
type TurnError struct {
	Msg string
}

func (e *TurnError) Error() string { return fmt.Sprintf("backend: turn error: %s", e.Msg) }

// ChildExitedError is returned when the child process closed or exited
// while a turn was in flight.
type ChildExitedError struct {
	Code       int
	StderrTail string
}

func (e *ChildExitedError) Error() string {
	if e.StderrTail == "" {
		return fmt.Sprintf("backend: child exited (code %d)", e.Code)
	}
	return fmt.Sprintf("backend: child exited (code %d): %s", e.Code, e.StderrTail)
}
