package commands_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/require"

	"github.com/arinova/bridge/internal/registry"
)

// assertTableEqual compares want/got line-by-line, failing with a unified
// diff instead of testify's default full-string dump — readable once the
// table grows past a couple of rows.
func assertTableEqual(t *testing.T, want, got string) {
	t.Helper()
	if want == got {
		return
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	})
	require.NoError(t, err)
	t.Fatalf("/sessions table mismatch:\n%s", diff)
}

func TestRouter_Sessions_TableLayout(t *testing.T) {
	reg, _, r := newTestSetup(t)
	_, err := reg.CreateSession(context.Background(), "conv-z", registry.CreateOptions{})
	require.NoError(t, err)

	sess, ok := reg.GetSession("conv-z")
	require.True(t, ok)
	_, err = sess.Process().SendMessage(context.Background(), "hi", nil)
	require.NoError(t, err)

	var want strings.Builder
	fmt.Fprintf(&want, "%-20s %-10s %-8s %-20s %s\n", "CONV", "BACKEND", "SID", "CWD", "STATE")
	want.WriteString(strings.Repeat("-", 70))
	want.WriteByte('\n')
	fmt.Fprintf(&want, "%-20s %-10s %-8s %-20s %s", "conv-z", "persistent", "mock-ses", sess.Cwd(), "alive")

	reply, _ := r.Dispatch(context.Background(), "conv-z", "/sessions")
	assertTableEqual(t, want.String(), reply)
}
