// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
)

// EphemeralOptions configures an Ephemeral backend process.
type EphemeralOptions struct {
	// Path to the CLI binary. Defaults to "codex" (resolved on PATH).
	BinPath string
	Cwd     string
	Model   string
}

// Ephemeral is the spawn-per-turn backend variant: no child between turns,
// each SendMessage spawns a fresh child running a single-turn subcommand,
// reads its stdout as a JSONL event stream until EOF, then collects the
// exit status. IsAlive is true until Stop is called.
type Ephemeral struct {
	opts EphemeralOptions

	mu       sync.Mutex
	stopped  bool
	busy     bool
	threadID string
	curCmd   *exec.Cmd
}

// NewEphemeral creates an Ephemeral process.
func NewEphemeral(opts EphemeralOptions) *Ephemeral {
	if opts.BinPath == "" {
		opts.BinPath = "codex"
	}
	return &Ephemeral{opts: opts}
}

func (e *Ephemeral) Kind() Kind { return KindEphemeral }

// Start is a no-op: there is no child between turns.
func (e *Ephemeral) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = false
	return nil
}

// IsAlive is true until Stop is called.
func (e *Ephemeral) IsAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.stopped
}

// IsBusy is true only while a child exists for the current turn.
func (e *Ephemeral) IsBusy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

func (e *Ephemeral) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threadID
}

func (e *Ephemeral) Cwd() string { return e.opts.Cwd }

func (e *Ephemeral) Model() string { return e.opts.Model }

// TotalCost is always zero: no per-USD accounting is available for this
// backend shape.
func (e *Ephemeral) TotalCost() float64 { return 0 }

// SendMessage spawns a fresh child for this turn. If this is a resume
// invocation and it produces no agent text and we have not already retried
// for this call, the thread id is discarded and the turn is retried once as
// a fresh (non-resume) spawn.
func (e *Ephemeral) SendMessage(ctx context.Context, text string, sink DeltaSink) (Result, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return Result{}, ErrNotRunning
	}
	if e.busy {
		e.mu.Unlock()
		return Result{}, ErrBusy
	}
	e.busy = true
	threadID := e.threadID
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}()

	res, err := e.spawnTurn(ctx, text, threadID, sink)

	// Resume-retry rule (spec.md §4.1.2): if this was a resume invocation
	// and no agent text was produced, discard the stored thread id and
	// retry exactly once as a fresh (non-resume) spawn, regardless of
	// which error (if any) accompanied the empty result.
	if threadID != "" && res.FinalText == "" {
		e.mu.Lock()
		e.threadID = ""
		e.mu.Unlock()
		return e.spawnTurn(ctx, text, "", sink)
	}
	return res, err
}

var errNoOutput = fmt.Errorf("backend/ephemeral: no output produced")

// spawnTurn runs exactly one child for one turn. resumeID == "" spawns a
// fresh invocation; otherwise it spawns `exec resume <resumeID>`.
func (e *Ephemeral) spawnTurn(ctx context.Context, text, resumeID string, sink DeltaSink) (Result, error) {
	args := []string{"exec"}
	if resumeID != "" {
		args = append(args, "resume", resumeID)
	}
	args = append(args, "--json", "--skip-git-repo-check", "--full-auto")
	if e.opts.Model != "" {
		args = append(args, "--model", e.opts.Model)
	}
	if e.opts.Cwd != "" {
		args = append(args, "--cd", e.opts.Cwd)
	}
	args = append(args, text)

	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, e.opts.BinPath, args...)
	cmd.Dir = e.opts.Cwd
	stderr := &stderrTail{}
	cmd.Stderr = stderr

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("backend/ephemeral: create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("backend/ephemeral: create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("backend/ephemeral: start %s: %w", e.opts.BinPath, err)
	}
	stdinPipe.Close() // no interactive stdin for this shape

	e.mu.Lock()
	e.curCmd = cmd
	e.mu.Unlock()

	pump := newDeltaPump(sink)
	var (
		mu             sync.Mutex
		prose          string
		lastSentLength int
		threadID       string
		turnErrMsg     string
		gotText        bool
	)

	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 0, 1024*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev ephemeralEvent
		if json.Unmarshal(line, &ev) != nil {
			continue // malformed line: skip silently
		}
		switch ev.Type {
		case "thread_started":
			if ev.ThreadID != "" {
				mu.Lock()
				threadID = ev.ThreadID
				mu.Unlock()
			}
		case "item.started", "item.updated":
			if ev.Item == nil || ev.Item.Type != "agent_message" {
				continue
			}
			mu.Lock()
			if len(ev.Item.Text) > lastSentLength {
				delta := ev.Item.Text[lastSentLength:]
				lastSentLength = len(ev.Item.Text)
				gotText = true
				mu.Unlock()
				pump.send(delta)
			} else {
				mu.Unlock()
			}
		case "item.completed":
			if ev.Item == nil || ev.Item.Type != "agent_message" {
				continue
			}
			mu.Lock()
			if len(ev.Item.Text) > lastSentLength {
				delta := ev.Item.Text[lastSentLength:]
				mu.Unlock()
				pump.send(delta)
				mu.Lock()
			}
			prose = ev.Item.Text
			lastSentLength = 0
			gotText = true
			mu.Unlock()
		case "turn.completed":
			// usage counters are not surfaced further; TotalCost is 0 for this backend.
		case "turn.failed", "error":
			if ev.Error != "" {
				mu.Lock()
				turnErrMsg = ev.Error
				mu.Unlock()
			}
		}
	}

	pump.close()

	waitErr := cmd.Wait()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	e.mu.Lock()
	e.curCmd = nil
	e.mu.Unlock()

	mu.Lock()
	finalText, tid, errMsg, ok := prose, threadID, turnErrMsg, gotText
	mu.Unlock()

	if tid != "" {
		e.mu.Lock()
		e.threadID = tid
		e.mu.Unlock()
	} else {
		tid = resumeID
	}

	success := ok || (waitErr == nil && exitCode == 0)
	if !success {
		if errMsg != "" {
			return Result{FinalText: finalText, SessionID: tid}, &TurnError{Msg: errMsg}
		}
		tail := stderr.tail()
		if len(tail) > 500 {
			tail = tail[len(tail)-500:]
		}
		return Result{FinalText: finalText, SessionID: tid}, &ChildExitedError{Code: exitCode, StderrTail: tail}
	}

	if !ok && errMsg != "" {
		return Result{FinalText: finalText, SessionID: tid}, &TurnError{Msg: errMsg}
	}
	if !ok {
		return Result{FinalText: finalText, SessionID: tid}, errNoOutput
	}

	return Result{FinalText: finalText, SessionID: tid}, nil
}

// AbortTurn sends SIGINT to the current child, if any, and lets the
// in-flight spawnTurn call observe the resulting exit/error.
func (e *Ephemeral) AbortTurn() {
	e.mu.Lock()
	cmd := e.curCmd
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGINT)
}

// Stop marks the backend as no longer alive. If a turn is in flight, its
// child is interrupted.
func (e *Ephemeral) Stop(ctx context.Context) error {
	e.AbortTurn()
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return nil
}

func (e *Ephemeral) Restart(ctx context.Context) error {
	if err := e.Stop(ctx); err != nil {
		return err
	}
	return e.Start(ctx)
}

var _ Process = (*Ephemeral)(nil)
