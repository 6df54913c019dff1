package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/camkeeper/internal/catalog"
	"github.com/smazurov/camkeeper/internal/config"
	"github.com/smazurov/camkeeper/internal/control"
	"github.com/smazurov/camkeeper/internal/events"
	"github.com/smazurov/camkeeper/internal/hls"
	"github.com/smazurov/camkeeper/internal/merge"
	"github.com/smazurov/camkeeper/internal/metrics"
	"github.com/smazurov/camkeeper/internal/status"
)

type fakeReporter struct{}

func (fakeReporter) Report(context.Context) status.Report {
	return status.Report{ThingName: "cam-01", Status: "ok", State: "idle"}
}

type fakeCatalog struct{ sessions []catalog.Session }

func (c fakeCatalog) Sessions(_ context.Context, limit int) ([]catalog.Session, error) {
	if limit < len(c.sessions) {
		return c.sessions[:limit], nil
	}
	return c.sessions, nil
}

func (c fakeCatalog) Session(_ context.Context, id string) (*catalog.Session, error) {
	for _, s := range c.sessions {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, catalog.ErrNotFound
}

type fakeMerges struct{}

func (fakeMerges) Pending() int { return 2 }
func (fakeMerges) Current() (merge.Job, bool) {
	return merge.Job{ID: "j1", SessionID: "20260105_094000"}, true
}
func (fakeMerges) History() []merge.Outcome { return nil }

type fakeServices struct{}

func (fakeServices) ServiceStatus(context.Context, string) (string, error) { return "active", nil }

type harness struct {
	ts    *httptest.Server
	store *config.Store
	bus   *events.Bus
	hls   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := config.NewStore("", logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{store: store, bus: events.New(), hls: t.TempDir()}
	server := NewServer(&Options{
		AuthUsername: "admin",
		AuthPassword: "secret",
		Dispatcher:   control.NewDispatcher("cam-01", store, nil, logger),
		Settings:     store,
		Reporter:     fakeReporter{},
		Catalog: fakeCatalog{sessions: []catalog.Session{
			{ID: "20260105_094000", Policy: "schedule"},
			{ID: "20260104_094000", Policy: "motion"},
		}},
		Merges:         fakeMerges{},
		Bus:            h.bus,
		Services:       fakeServices{},
		Unit:           "camkeeper.service",
		MetricsHandler: metrics.New().Handler(),
		HLSDir:         h.hls,
	})
	h.ts = httptest.NewServer(server.Handler())
	t.Cleanup(h.ts.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string, auth bool) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		path string
		auth bool
		want int
	}{
		{"health is public", "/api/health", false, http.StatusOK},
		{"version is public", "/api/version", false, http.StatusOK},
		{"status needs credentials", "/api/status", false, http.StatusUnauthorized},
		{"status with credentials", "/api/status", true, http.StatusOK},
		{"metrics are public", "/metrics", false, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := h.do(t, http.MethodGet, tt.path, "", tt.auth)
			if resp.StatusCode != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
			}
		})
	}

	query := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	resp, _ := h.do(t, http.MethodGet, "/api/status?auth="+query, "", false)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("query auth = %d", resp.StatusCode)
	}
	bad := base64.StdEncoding.EncodeToString([]byte("admin:wrong"))
	resp, _ = h.do(t, http.MethodGet, "/api/status?auth="+bad, "", false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password = %d", resp.StatusCode)
	}
}

func TestStatusReport(t *testing.T) {
	h := newHarness(t)
	_, body := h.do(t, http.MethodGet, "/api/status", "", true)
	var report status.Report
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if report.ThingName != "cam-01" || report.State != "idle" {
		t.Errorf("report = %+v", report)
	}
}

func TestSettingsPatch(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPatch, "/api/settings", `{"fps": 15, "gamma": 1.4}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH = %d: %s", resp.StatusCode, body)
	}
	s := h.store.Snapshot()
	if s.FPS != 15 || s.Gamma != 1.4 {
		t.Errorf("settings = fps %d gamma %v", s.FPS, s.Gamma)
	}

	resp, _ = h.do(t, http.MethodPatch, "/api/settings", `{"fps": 500, "gamma": 2}`, true)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid PATCH = %d", resp.StatusCode)
	}
	if s := h.store.Snapshot(); s.FPS != 15 || s.Gamma != 1.4 {
		t.Errorf("rejected update leaked: fps %d gamma %v", s.FPS, s.Gamma)
	}

	_, body = h.do(t, http.MethodGet, "/api/settings", "", true)
	var view config.View
	if err := json.Unmarshal(body, &view); err != nil || view.FPS != 15 {
		t.Errorf("GET settings = %s (%v)", body, err)
	}
}

func TestCommands(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		body   string
		status int
		result string
	}{
		{"setting", `{"request_id": "r1", "command": "set_bitrate", "value": 1500000}`, http.StatusOK, control.ResultSuccess},
		{"alias", `{"command": "mode", "value": "motion"}`, http.StatusOK, control.ResultSuccess},
		{"unknown", `{"command": "self_destruct"}`, http.StatusOK, control.ResultError},
		{"not json", `command=status`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, http.MethodPost, "/api/commands", tt.body, true)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d: %s", resp.StatusCode, body)
			}
			if tt.result == "" {
				return
			}
			var r control.Response
			if err := json.Unmarshal(body, &r); err != nil {
				t.Fatal(err)
			}
			if r.Result != tt.result || r.ThingName != "cam-01" {
				t.Errorf("response = %+v", r)
			}
		})
	}

	s := h.store.Snapshot()
	if s.Bitrate != 1500000 || s.Policy != config.PolicyMotion {
		t.Errorf("settings = bitrate %d policy %s", s.Bitrate, s.Policy)
	}
}

func TestRecordings(t *testing.T) {
	h := newHarness(t)

	_, body := h.do(t, http.MethodGet, "/api/sessions?limit=1", "", true)
	var list struct {
		Sessions []catalog.Session `json:"sessions"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(body, &list); err != nil || list.Count != 1 || list.Sessions[0].ID != "20260105_094000" {
		t.Errorf("sessions = %s (%v)", body, err)
	}

	resp, _ := h.do(t, http.MethodGet, "/api/sessions/20260104_094000", "", true)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("session = %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/sessions/nope", "", true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session = %d", resp.StatusCode)
	}

	_, body = h.do(t, http.MethodGet, "/api/merges", "", true)
	var merges struct {
		Pending int        `json:"pending"`
		Current *merge.Job `json:"current"`
	}
	if err := json.Unmarshal(body, &merges); err != nil || merges.Pending != 2 || merges.Current == nil || merges.Current.ID != "j1" {
		t.Errorf("merges = %s (%v)", body, err)
	}

	_, body = h.do(t, http.MethodGet, "/api/systemd/status", "", true)
	if !strings.Contains(string(body), `"active"`) {
		t.Errorf("systemd status = %s", body)
	}
}

func TestHLSFiles(t *testing.T) {
	h := newHarness(t)
	playlist := "#EXTM3U\n#EXT-X-VERSION:3\n"
	if err := os.WriteFile(filepath.Join(h.hls, hls.PlaylistName), []byte(playlist), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, body := h.do(t, http.MethodGet, "/hls/"+hls.PlaylistName, "", false)
	if resp.StatusCode != http.StatusOK || string(body) != playlist {
		t.Fatalf("playlist = %d %q", resp.StatusCode, body)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q", cc)
	}

	resp, _ = h.do(t, http.MethodGet, "/hls/", "", false)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("directory listing = %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, h.ts.URL+"/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func(prefix string) string {
		t.Helper()
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}

	// the greeting proves the subscription is in place
	if got := next("event:"); !strings.Contains(got, "settings-changed") {
		t.Fatalf("first event = %q", got)
	}
	next("data:")

	h.bus.Publish(events.SessionStartedEvent{SessionID: "20260105_094000", Policy: "schedule"})
	if got := next("event:"); !strings.Contains(got, "session-started") {
		t.Errorf("event = %q", got)
	}
	if got := next("data:"); !strings.Contains(got, "20260105_094000") {
		t.Errorf("data = %q", got)
	}
}

func TestPreflight(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodOptions, "/api/commands", "", false)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("OPTIONS = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
