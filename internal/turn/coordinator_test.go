//go:build !windows

package turn_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinova/bridge/internal/backend"
	"github.com/arinova/bridge/internal/commands"
	"github.com/arinova/bridge/internal/persistence"
	"github.com/arinova/bridge/internal/registry"
	"github.com/arinova/bridge/internal/turn"
)

var (
	buildOnce    sync.Once
	persistentBin, ephemeralBin, flakyBin string
	buildErr     error
)

// buildFixtures compiles the shared backend-package fixtures plus this
// package's own mock-flaky binary once per test run.
func buildFixtures(t *testing.T) (persistent, ephemeral, flaky string) {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "mock-turn-*")
		if err != nil {
			buildErr = fmt.Errorf("tmpdir: %w", err)
			return
		}
		build := func(out, src string) error {
			cmd := exec.Command("go", "build", "-o", out, src)
			if combined, err := cmd.CombinedOutput(); err != nil {
				return fmt.Errorf("build %s: %w\n%s", src, err, combined)
			}
			return nil
		}
		persistentBin = filepath.Join(dir, "mock-persistent")
		ephemeralBin = filepath.Join(dir, "mock-ephemeral")
		flakyBin = filepath.Join(dir, "mock-flaky")
		if err := build(persistentBin, "../backend/testdata/mock-persistent/main.go"); err != nil {
			buildErr = err
			return
		}
		if err := build(ephemeralBin, "../backend/testdata/mock-ephemeral/main.go"); err != nil {
			buildErr = err
			return
		}
		if err := build(flakyBin, "./testdata/mock-flaky/main.go"); err != nil {
			buildErr = err
			return
		}
	})
	require.NoError(t, buildErr)
	return persistentBin, ephemeralBin, flakyBin
}

func newTestCoordinator(t *testing.T, defaultCwd string) (*turn.Coordinator, *registry.Registry, *persistence.Store) {
	t.Helper()
	persistentBin, ephemeralBin, _ := buildFixtures(t)
	store := persistence.NewStore(filepath.Join(t.TempDir(), "store.json"))
	reg := registry.New(registry.Config{
		DefaultCwd:        defaultCwd,
		PersistentBinPath: persistentBin,
		EphemeralBinPath:  ephemeralBin,
		EphemeralModels:   map[string]struct{}{"codex-mini": {}},
		Models: []registry.ModelInfo{
			{ID: "claude-big", OwnedBy: "anthropic", Kind: backend.KindPersistent},
			{ID: "codex-mini", OwnedBy: "openai", Kind: backend.KindEphemeral},
		},
	}, store)
	t.Cleanup(reg.StopAll)
	router := commands.New(reg, store)
	return turn.New(reg, router, defaultCwd), reg, store
}

func TestCoordinator_Handle_SlashCommandShortCircuits(t *testing.T) {
	c, reg, _ := newTestCoordinator(t, t.TempDir())

	var chunks []string
	reply, err := c.Handle(context.Background(), "conv-1", "", "/help", func(s string) { chunks = append(chunks, s) }, false)
	require.NoError(t, err)
	assert.Contains(t, reply, "/resume <idPrefix>")
	assert.Equal(t, []string{reply}, chunks)

	_, ok := reg.GetSession("conv-1")
	assert.False(t, ok, "a slash-command must never create a session")
}

func TestCoordinator_Handle_CreatesSessionAndPersistsOnSuccess(t *testing.T) {
	c, reg, store := newTestCoordinator(t, t.TempDir())

	var chunks []string
	reply, err := c.Handle(context.Background(), "conv-1", "", "hello", func(s string) { chunks = append(chunks, s) }, false)
	require.NoError(t, err)
	assert.Equal(t, "hello world", reply)
	assert.Equal(t, []string{"hello", " world"}, chunks)

	sess, ok := reg.GetSession("conv-1")
	require.True(t, ok)
	assert.Equal(t, backend.KindPersistent, sess.BackendKind())

	store.Flush()
	entry, ok := store.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, "mock-session-1", entry.SessionID)
}

func TestCoordinator_Handle_ReusesSessionAcrossTurns(t *testing.T) {
	c, reg, _ := newTestCoordinator(t, t.TempDir())

	_, err := c.Handle(context.Background(), "conv-1", "", "hello", nil, false)
	require.NoError(t, err)
	first, ok := reg.GetSession("conv-1")
	require.True(t, ok)

	_, err = c.Handle(context.Background(), "conv-1", "", "hello again", nil, false)
	require.NoError(t, err)
	second, ok := reg.GetSession("conv-1")
	require.True(t, ok)

	assert.Same(t, first, second, "a matching-backend turn must reuse the existing session")
}

func TestCoordinator_Handle_ModelSwitchRecreatesSession(t *testing.T) {
	c, reg, store := newTestCoordinator(t, t.TempDir())

	_, err := c.Handle(context.Background(), "conv-1", "", "hello", nil, false)
	require.NoError(t, err)
	original, ok := reg.GetSession("conv-1")
	require.True(t, ok)
	assert.Equal(t, backend.KindPersistent, original.BackendKind())

	store.Flush()

	reply, err := c.Handle(context.Background(), "conv-1", "codex-mini", "hi", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "hello world", reply)

	switched, ok := reg.GetSession("conv-1")
	require.True(t, ok)
	assert.Equal(t, backend.KindEphemeral, switched.BackendKind())
	assert.NotSame(t, original, switched)
}

func TestCoordinator_Handle_RestartRetrySucceedsAfterFlakyFirstSpawn(t *testing.T) {
	cwd := t.TempDir()
	_, _, flakyBin := buildFixtures(t)
	store := persistence.NewStore(filepath.Join(t.TempDir(), "store.json"))
	reg := registry.New(registry.Config{
		DefaultCwd:        cwd,
		PersistentBinPath: flakyBin,
		EphemeralBinPath:  flakyBin,
	}, store)
	t.Cleanup(reg.StopAll)
	router := commands.New(reg, store)
	c := turn.New(reg, router, cwd)

	reply, err := c.Handle(context.Background(), "conv-1", "", "hello", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
}

func TestCoordinator_Handle_CancelledContextAbortsSilently(t *testing.T) {
	c, reg, _ := newTestCoordinator(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply, err := c.Handle(ctx, "conv-1", "", "hello", nil, false)
	assert.NoError(t, err)
	assert.Empty(t, reply)
	_, ok := reg.GetSession("conv-1")
	assert.False(t, ok, "an already-canceled turn must never spawn a session")
}

func TestCoordinator_Handle_SerializesHTTPBridgePath(t *testing.T) {
	c, _, _ := newTestCoordinator(t, t.TempDir())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Handle(context.Background(), "conv-http", "", "hello", nil, true)
	}()
	_, err := c.Handle(context.Background(), "conv-http", "", "hello again", nil, true)
	require.NoError(t, err)
	<-done
}
