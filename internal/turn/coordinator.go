// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package turn implements the per-request glue between a frontend adapter
// and the session/process layer: command interception, session
// acquire-or-create, cancellation binding, one-shot restart-and-retry, and
// persistence on success.
package turn

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/arinova/bridge/internal/backend"
	"github.com/arinova/bridge/internal/commands"
	"github.com/arinova/bridge/internal/registry"
)

// Coordinator is the C4 TurnCoordinator. It holds no per-conversation state
// of its own; everything it needs comes from the registry, the command
// router's overrides, or the inbound request.
type Coordinator struct {
	reg        *registry.Registry
	router     *commands.Router
	defaultCwd string

	// serializeHTTP, when true, makes Handle take httpMu for its whole
	// duration so the HTTP-bridge conversation behaves deterministically
	// under rapid requests. The WS-bot path passes false.
	httpMu sync.Mutex
}

// New creates a Coordinator. defaultCwd is used when no command-set cwd
// override is present for the conversation.
func New(reg *registry.Registry, router *commands.Router, defaultCwd string) *Coordinator {
	return &Coordinator{reg: reg, router: router, defaultCwd: defaultCwd}
}

// Handle runs one turn for convID. If prompt is a recognized slash-command,
// it is handled entirely by the command router and no backend is touched.
// Otherwise it resolves/creates the conversation's session, binds ctx's
// cancellation to the session's abortTurn, and streams deltas to sink.
//
// serializeHTTP should be true for the HTTP-bridge adapter and false for the
// WS-bot adapter, per spec.md §5's shared-resource policy.
func (c *Coordinator) Handle(ctx context.Context, convID, requestedModel, prompt string, sink backend.DeltaSink, serializeHTTP bool) (string, error) {
	if serializeHTTP {
		c.httpMu.Lock()
		defer c.httpMu.Unlock()
	}

	if reply, handled := c.router.Dispatch(ctx, convID, prompt); handled {
		if sink != nil && reply != "" {
			sink(reply)
		}
		return reply, nil
	}

	if ctx.Err() != nil {
		// Already canceled before we touched a session: nothing to abort,
		// just discard the turn the same way a mid-flight cancellation does.
		return "", nil
	}

	model := requestedModel
	if override, ok := c.router.ModelOverride(convID); ok {
		model = override
	}
	kind := c.reg.ResolveBackend(model)

	sess, err := c.acquireSession(ctx, convID, kind, model)
	if err != nil {
		return "", err
	}
	sess.Touch()

	stopWatch := c.bindCancellation(ctx, sess)
	defer stopWatch()

	result, err := sess.Process().SendMessage(ctx, prompt, sink)
	if err != nil && !isAbort(err) && ctx.Err() == nil {
		log.Printf("turn: conv=%s send failed, restarting and retrying once: %v", convID, err)
		if restartErr := sess.Process().Restart(ctx); restartErr != nil {
			return "", restartErr
		}
		result, err = sess.Process().SendMessage(ctx, prompt, sink)
	}
	if err != nil {
		if isAbort(err) || ctx.Err() != nil {
			return "", nil
		}
		return "", err
	}

	if result.SessionID != "" {
		c.reg.PersistAfterTurn(convID, result.SessionID, kind, model, sess.Cwd())
	}
	return result.FinalText, nil
}

// acquireSession returns convID's session, destroying and recreating it if
// its backend kind no longer matches kind, or creating it fresh if absent or
// dead.
func (c *Coordinator) acquireSession(ctx context.Context, convID string, kind backend.Kind, model string) (*registry.Session, error) {
	if sess, ok := c.reg.GetSession(convID); ok {
		if !sess.IsAlive() {
			c.reg.DestroySession(convID)
		} else if sess.BackendKind() != kind {
			c.reg.DestroySession(convID)
		} else {
			return sess, nil
		}
	}

	cwd := c.defaultCwd
	if override, ok := c.router.CwdOverride(convID); ok {
		cwd = override
	}
	return c.reg.CreateSession(ctx, convID, registry.CreateOptions{Cwd: cwd, Model: model})
}

// bindCancellation spawns a goroutine that calls AbortTurn if ctx is
// canceled before the turn naturally completes. The returned func must be
// called once the turn is over, whether or not ctx fired, to release the
// goroutine.
func (c *Coordinator) bindCancellation(ctx context.Context, sess *registry.Session) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sess.Process().AbortTurn()
		case <-done:
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func isAbort(err error) bool {
	return errors.Is(err, backend.ErrAborted)
}
