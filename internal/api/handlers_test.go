package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/diagdump/internal/auth"
	"github.com/mattjoyce/diagdump/internal/dump"
	"github.com/mattjoyce/diagdump/internal/events"
	"github.com/mattjoyce/diagdump/internal/featuremap"
	"github.com/mattjoyce/diagdump/internal/history"
	"github.com/mattjoyce/diagdump/internal/sink"
)

// mockDumper implements Dumper for testing
type mockDumper struct {
	runFunc      func(ctx context.Context, req dump.Request) (*dump.Summary, error)
	featuresFunc func() (*featuremap.Registry, error)
	busy         bool
}

func (m *mockDumper) Run(ctx context.Context, req dump.Request) (*dump.Summary, error) {
	return m.runFunc(ctx, req)
}

func (m *mockDumper) Features() (*featuremap.Registry, error) { return m.featuresFunc() }

func (m *mockDumper) Busy() bool { return m.busy }

// mockSessions implements SessionStore for testing
type mockSessions struct {
	sessions []history.Session
}

func (m *mockSessions) List(_ context.Context, limit int) ([]history.Session, error) {
	if limit > 0 && limit < len(m.sessions) {
		return m.sessions[:limit], nil
	}
	return m.sessions, nil
}

func (m *mockSessions) Get(_ context.Context, id string) (*history.Session, error) {
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return &m.sessions[i], nil
		}
	}
	return nil, history.ErrNotFound
}

func testRegistry(t *testing.T) *featuremap.Registry {
	t.Helper()
	reg, err := featuremap.NewRegistry(
		featuremap.Feature{Name: "lldp", Description: "Link Layer Discovery Protocol", Daemons: []featuremap.Daemon{{Name: "ops-lldpd", DiagEnabled: true}}},
		featuremap.Feature{Name: "fan", Description: "Fan", Daemons: []featuremap.Daemon{{Name: "ops-fand"}}},
	)
	require.NoError(t, err)
	return reg
}

var testTokens = []auth.TokenConfig{
	{Token: "reader", Scopes: []string{auth.ScopeFeaturesRO}},
	{Token: "viewer", Scopes: []string{auth.ScopeDumpsRO}},
	{Token: "operator", Scopes: []string{auth.ScopeDumpsRW, auth.ScopeFeaturesRO}},
	{Token: "admin", Scopes: []string{auth.ScopeAll}},
}

func newTestServer(t *testing.T, d *mockDumper, sessions SessionStore, hub *events.Hub) http.Handler {
	t.Helper()
	if d.featuresFunc == nil {
		reg := testRegistry(t)
		d.featuresFunc = func() (*featuremap.Registry, error) { return reg, nil }
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(Config{Tokens: testTokens, InterruptGrace: time.Second}, d, sessions, hub, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, &mockDumper{busy: true}, nil, nil)

	rec := do(t, h, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.SessionActive)
	assert.Equal(t, 2, resp.FeaturesLoaded)
}

func TestHealthzDegradedOnMappingError(t *testing.T) {
	d := &mockDumper{featuresFunc: func() (*featuremap.Registry, error) {
		return nil, &featuremap.ConfigError{Path: "/x.yaml", Err: errors.New("boom")}
	}}
	rec := do(t, newTestServer(t, d, nil, nil), http.MethodGet, "/healthz", "", "")

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.MappingError, "boom")
}

func TestAuthAndScopes(t *testing.T) {
	h := newTestServer(t, &mockDumper{}, &mockSessions{}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/features", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/features", "nope", http.StatusUnauthorized},
		{"reader lists features", http.MethodGet, "/features", "reader", http.StatusOK},
		{"viewer cannot list features", http.MethodGet, "/features", "viewer", http.StatusForbidden},
		{"reader cannot read sessions", http.MethodGet, "/sessions", "reader", http.StatusForbidden},
		{"viewer reads sessions", http.MethodGet, "/sessions", "viewer", http.StatusOK},
		{"rw implies ro", http.MethodGet, "/sessions", "operator", http.StatusOK},
		{"viewer cannot dump", http.MethodPost, "/dumps/lldp", "viewer", http.StatusForbidden},
		{"admin reads features", http.MethodGet, "/features/lldp", "admin", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.token, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestListFeatures(t *testing.T) {
	h := newTestServer(t, &mockDumper{}, nil, nil)

	rec := do(t, h, http.MethodGet, "/features", "reader", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp FeatureListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Diagnostic Dump Supported Features List", resp.Title)
	require.Len(t, resp.Features, 1)
	assert.Equal(t, "lldp", resp.Features[0].Name)

	rec = do(t, h, http.MethodGet, "/features?all=true", "reader", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Features, 2)

	rec = do(t, h, http.MethodGet, "/features/bogus", "reader", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDumpToResponse(t *testing.T) {
	var got dump.Request
	d := &mockDumper{runFunc: func(_ context.Context, req dump.Request) (*dump.Summary, error) {
		got = req
		_, _ = io.WriteString(req.Console, sink.Render(sink.KindDaemon, "ops-lldpd", "OK"))
		return &dump.Summary{SessionID: "s1", Feature: "lldp", Attempted: 1, Responded: 1, State: dump.StateCompleted}, nil
	}}
	h := newTestServer(t, d, nil, nil)

	rec := do(t, h, http.MethodPost, "/dumps/lldp", "operator", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp DumpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "s1", resp.Summary.SessionID)
	assert.Contains(t, resp.Report, "[Start] Daemon ops-lldpd")

	assert.Equal(t, "lldp", got.Feature)
	assert.Empty(t, got.Filename)
	assert.NotNil(t, got.Interrupt)
}

func TestDumpWithFilename(t *testing.T) {
	var got dump.Request
	d := &mockDumper{runFunc: func(_ context.Context, req dump.Request) (*dump.Summary, error) {
		got = req
		return &dump.Summary{Feature: "lldp", Destination: "/tmp/ops-diag/" + req.Filename, State: dump.StateCompleted}, nil
	}}
	h := newTestServer(t, d, nil, nil)

	rec := do(t, h, http.MethodPost, "/dumps/lldp", "operator", `{"filename":"lldp.txt"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lldp.txt", got.Filename)

	rec = do(t, h, http.MethodPost, "/dumps/lldp", "operator", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDumpErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		summary *dump.Summary
		err     error
		want    int
	}{
		{"unknown feature", nil, featuremap.ErrUnknownFeature, http.StatusNotFound},
		{"busy", nil, dump.ErrSessionActive, http.StatusConflict},
		{"exists", &dump.Summary{State: dump.StateFailed}, sink.ErrExists, http.StatusConflict},
		{"bad name", &dump.Summary{State: dump.StateFailed}, sink.ErrInvalidFilename, http.StatusBadRequest},
		{"config", nil, &featuremap.ConfigError{Err: errors.New("x")}, http.StatusInternalServerError},
		{"io", &dump.Summary{State: dump.StateFailed}, &sink.IOError{Path: "/p", Op: "write", Err: io.ErrShortWrite}, http.StatusInternalServerError},
		{"interrupted", &dump.Summary{State: dump.StateInterrupted, Interrupted: true}, dump.ErrInterrupted, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDumper{runFunc: func(context.Context, dump.Request) (*dump.Summary, error) { return tt.summary, tt.err }}
			rec := do(t, newTestServer(t, d, nil, nil), http.MethodPost, "/dumps/lldp", "admin", "")
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestSessions(t *testing.T) {
	store := &mockSessions{sessions: []history.Session{
		{ID: "s2", Feature: "lldp", State: "completed"},
		{ID: "s1", Feature: "lacp", State: "interrupted", Interrupted: true},
	}}
	h := newTestServer(t, &mockDumper{}, store, nil)

	rec := do(t, h, http.MethodGet, "/sessions?limit=1", "viewer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list SessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "s2", list.Sessions[0].ID)

	rec = do(t, h, http.MethodGet, "/sessions?limit=x", "viewer", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/sessions/s1", "viewer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sess history.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.True(t, sess.Interrupted)

	rec = do(t, h, http.MethodGet, "/sessions/zz", "viewer", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionsWithoutHistory(t *testing.T) {
	h := newTestServer(t, &mockDumper{}, nil, nil)
	rec := do(t, h, http.MethodGet, "/sessions", "admin", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOpenAPIListsDiagnosableFeatures(t *testing.T) {
	h := newTestServer(t, &mockDumper{}, nil, nil)
	rec := do(t, h, http.MethodGet, "/openapi.json", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enum":["lldp"]`)
	assert.Contains(t, rec.Body.String(), "/dumps/{feature}")
}

func TestEventsStreamReplaysAndFollows(t *testing.T) {
	hub := events.NewHub(10)
	hub.Publish(events.SessionStarted, events.SessionInfo{SessionID: "s1", Feature: "lldp"})

	srv := httptest.NewServer(newTestServer(t, &mockDumper{}, nil, hub))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer viewer")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() map[string]string {
		fields := map[string]string{}
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return fields
			}
			if k, v, ok := strings.Cut(line, ": "); ok {
				fields[k] = v
			}
		}
	}

	first := readEvent()
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, events.SessionStarted, first["event"])
	assert.Contains(t, first["data"], `"session_id":"s1"`)

	hub.Publish(events.SessionFinished, events.SessionResult{SessionID: "s1", State: "completed"})
	second := readEvent()
	assert.Equal(t, "2", second["id"])
	assert.Equal(t, events.SessionFinished, second["event"])
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("-3"))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
