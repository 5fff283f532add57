// Copyright © 2026 Arinova, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinova/bridge/internal/backend"
	"github.com/arinova/bridge/internal/registry"
)

type fakeCoord struct{}

func (fakeCoord) Handle(ctx context.Context, convID, requestedModel, prompt string, sink backend.DeltaSink, serializeHTTP bool) (string, error) {
	return "ok", nil
}

type fakeCatalog struct{}

func (fakeCatalog) Models() []registry.ModelInfo {
	return []registry.ModelInfo{{ID: "claude", OwnedBy: "anthropic"}}
}

type fakeSessionLister struct{ infos []registry.Info }

func (f fakeSessionLister) ListSessions() []registry.Info { return f.infos }

func testDeps() Dependencies {
	return Dependencies{Coordinator: fakeCoord{}, ModelCatalog: fakeCatalog{}, SessionLister: fakeSessionLister{}}
}

func TestRouter_ChatCompletions_WrongMethod(t *testing.T) {
	r := NewRouter(testDeps(), time.Now())

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_ChatCompletions_Routes(t *testing.T) {
	r := NewRouter(testDeps(), time.Now())

	body := `{"stream":false,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"ok\"")
}

func TestRouter_Models_Routes(t *testing.T) {
	r := NewRouter(testDeps(), time.Now())

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claude")
}

func TestRouter_Healthz_ReportsUptimeAndLiveSessions(t *testing.T) {
	deps := testDeps()
	deps.SessionLister = fakeSessionLister{infos: []registry.Info{
		{ConvID: "a", Alive: true},
		{ConvID: "b", Alive: false},
	}}
	started := time.Now().Add(-5 * time.Second)
	r := NewRouter(deps, started)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status       string  `json:"status"`
		UptimeSecs   float64 `json:"uptime_seconds"`
		LiveSessions int     `json:"live_sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.LiveSessions)
	assert.GreaterOrEqual(t, body.UptimeSecs, 5.0)
}

func TestRouter_UnknownPath_404(t *testing.T) {
	r := NewRouter(testDeps(), time.Now())

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
