package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cardscene/internal/animator"
	"cardscene/internal/battery"
	"cardscene/internal/catalog"
	"cardscene/internal/clock"
	"cardscene/internal/config"
	"cardscene/internal/model"
	"cardscene/internal/notify"
	"cardscene/internal/scheduler"
)

type fixedBattery struct{ calls int }

func (b *fixedBattery) Read(_ context.Context) (battery.Status, error) {
	b.calls++
	return battery.Status{Percent: 87, VoltageMv: 4012}, nil
}

type fixture struct {
	srv   *Server
	sched *scheduler.Scheduler
	bat   *fixedBattery
	h     http.Handler
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	cc := catalog.DefaultConfig()
	cc.Location = time.UTC
	cat, err := catalog.New(cc)
	if err != nil {
		t.Fatal(err)
	}
	hub := notify.NewHub()
	clk := clock.NewManual(time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC))
	sched := scheduler.New(cat, clk, animator.NewFrameQueue(), hub, scheduler.Options{Location: time.UTC})
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	bat := &fixedBattery{}
	srv := NewServer(cfg, sched, hub, bat)
	return &fixture{srv: srv, sched: sched, bat: bat, h: srv.Handler()}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) model.Snapshot {
	t.Helper()
	var snap model.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, rec.Body.String())
	}
	return snap
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestTriggerStateStop(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/trigger", `{"event":"speech_bubble","text":"Merry Christmas"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger = %d %s", rec.Code, rec.Body.String())
	}
	snap := decodeSnapshot(t, rec)
	if snap.ActiveEvent != model.KindSpeechBubble || snap.Text() != "Merry Christmas" {
		t.Errorf("trigger snapshot = %+v", snap)
	}

	state := decodeSnapshot(t, f.do(http.MethodGet, "/api/state", ""))
	if state.ActiveEvent != model.KindSpeechBubble || state.SessionID == "" {
		t.Errorf("state = %+v", state)
	}

	rec = f.do(http.MethodPost, "/api/stop", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("stop = %d", rec.Code)
	}
	stopped := decodeSnapshot(t, rec)
	if stopped.ActiveEvent != model.KindNone || stopped.BubbleText != nil || stopped.Generation <= snap.Generation {
		t.Errorf("stop snapshot = %+v", stopped)
	}
}

func TestTriggerRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)

	for _, body := range []string{`{"event":"DRAGON"}`, `not json`} {
		rec := f.do(http.MethodPost, "/api/trigger", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: code = %d", body, rec.Code)
		}
	}
	if got := f.sched.Snapshot().ActiveEvent; got != model.KindNone {
		t.Errorf("bad trigger changed state to %v", got)
	}
}

func TestCatalogEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/catalog", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("catalog = %d", rec.Code)
	}
	var resp struct {
		Kinds []struct {
			Kind       string `json:"kind"`
			DurationMs int64  `json:"duration_ms"`
		} `json:"kinds"`
		Holidays []struct {
			Name string `json:"name"`
			From string `json:"from"`
		} `json:"holidays"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, k := range resp.Kinds {
		if k.Kind == "BIRD_FLYBY" && k.DurationMs == 6000 {
			found = true
		}
	}
	if !found {
		t.Errorf("bird missing from %+v", resp.Kinds)
	}
	if len(resp.Holidays) != 1 || resp.Holidays[0].From != "12-24" {
		t.Errorf("holidays = %+v", resp.Holidays)
	}
}

func TestBatteryIsCached(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		rec := f.do(http.MethodGet, "/api/battery", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"percent":87`) {
			t.Fatalf("battery = %d %s", rec.Code, rec.Body.String())
		}
	}
	if f.bat.calls != 1 {
		t.Errorf("reader called %d times, want 1", f.bat.calls)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "card", Password: "scene"}
	f := newFixture(t, cfg)

	if rec := f.do(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("/health must stay open, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/state", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated state = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.SetBasicAuth("card", "scene")
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated state = %d", rec.Code)
	}
}

func TestStaticAndUnknownAPI(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "cardscene") {
		t.Errorf("index = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("/api/nope = %d", rec.Code)
	}
}

func TestStreamSendsSnapshots(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	next := func() model.Snapshot {
		t.Helper()
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var snap model.Snapshot
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap); err != nil {
				t.Fatal(err)
			}
			return snap
		}
		t.Fatalf("stream ended: %v", sc.Err())
		return model.Snapshot{}
	}

	if first := next(); first.ActiveEvent != model.KindNone {
		t.Errorf("initial snapshot = %+v", first)
	}
	if err := f.sched.Trigger(model.KindThoughtBubble, ""); err != nil {
		t.Fatal(err)
	}
	if got := next(); got.ActiveEvent != model.KindThoughtBubble {
		t.Errorf("streamed snapshot = %+v", got)
	}
}
