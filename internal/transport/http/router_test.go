// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bufio"
	"bytes"
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

	"github.com/adiadia/event-aggregator/internal/domain"
	"github.com/adiadia/event-aggregator/internal/pipeline"
	"github.com/adiadia/event-aggregator/internal/repository/ledgertest"
	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	router   http.Handler
	pipeline *pipeline.Pipeline
	ledger   *ledgertest.Memory
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) testEnv {
	t.Helper()

	ledger := ledgertest.NewMemory()
	p := pipeline.New(pipeline.Deps{Ledger: ledger, Logger: discardLogger()})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start pipeline: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})

	deps := Deps{
		Publisher:      p,
		Events:         p,
		Ledger:         p,
		Stats:          p,
		Health:         p,
		Logger:         discardLogger(),
		StreamInterval: 10 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&deps)
	}

	return testEnv{router: NewRouter(deps), pipeline: p, ledger: ledger}
}

func (e testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e testEnv) stats(t *testing.T) domain.Stats {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected stats status 200 got %d", rec.Code)
	}
	var s domain.Stats
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	return s
}

func (e testEnv) waitUnique(t *testing.T, want int64) domain.Stats {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := e.stats(t)
		if s.UniqueProcessed == want && e.pipeline.QueueDepth() == 0 {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected unique_processed=%d, last stats %+v", want, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func eventJSON(topic, id string) string {
	return `{"topic":"` + topic + `","event_id":"` + id + `","timestamp":"2025-01-02T03:04:05Z","source":"auth","payload":{"user":"u1"}}`
}

func decodeAccepted(t *testing.T, rec *httptest.ResponseRecorder) int {
	t.Helper()
	var resp map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode publish response: %v", err)
	}
	return resp["accepted"]
}

func TestRouter_PublishSingleEvent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/publish", eventJSON("user.login", "evt-001"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeAccepted(t, rec); got != 1 {
		t.Fatalf("expected accepted=1 got %d", got)
	}

	s := env.waitUnique(t, 1)
	if s.Received != 1 || s.DuplicateDropped != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if len(s.Topics) != 1 || s.Topics[0] != "user.login" {
		t.Fatalf("unexpected topics %v", s.Topics)
	}
}

func TestRouter_PublishDuplicateAndTopicIndependence(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/publish", eventJSON("user.login", "evt-001"))
	env.waitUnique(t, 1)
	env.do(t, http.MethodPost, "/publish", eventJSON("user.login", "evt-001"))
	env.do(t, http.MethodPost, "/publish", eventJSON("user.logout", "evt-001"))

	s := env.waitUnique(t, 2)
	if s.Received != 3 || s.DuplicateDropped != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if got := env.ledger.Claims(); got != 2 {
		t.Fatalf("expected two ledger claims got %d", got)
	}
}

func TestRouter_PublishBatch(t *testing.T) {
	env := newTestEnv(t)

	items := make([]string, 0, 5)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		items = append(items, eventJSON("order.created", id))
	}
	rec := env.do(t, http.MethodPost, "/publish", "["+strings.Join(items, ",")+"]")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeAccepted(t, rec); got != 5 {
		t.Fatalf("expected accepted=5 got %d", got)
	}

	s := env.waitUnique(t, 5)
	if s.Received != 5 {
		t.Fatalf("expected received=5 got %d", s.Received)
	}
}

func TestRouter_PublishEmptyBatch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/publish", "[]")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if got := decodeAccepted(t, rec); got != 0 {
		t.Fatalf("expected accepted=0 got %d", got)
	}
}

func TestRouter_PublishRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]string{
		"empty body":      "",
		"missing topic":   `{"event_id":"1","timestamp":"2025-01-02T03:04:05Z","source":"s","payload":{}}`,
		"blank source":    `{"topic":"t","event_id":"1","timestamp":"2025-01-02T03:04:05Z","source":"  ","payload":{}}`,
		"missing payload": `{"topic":"t","event_id":"1","timestamp":"2025-01-02T03:04:05Z","source":"s"}`,
		"bad timestamp":   `{"topic":"t","event_id":"1","timestamp":"not-a-time","source":"s","payload":{}}`,
		"unknown field":   `{"topic":"t","event_id":"1","timestamp":"2025-01-02T03:04:05Z","source":"s","payload":{},"x":1}`,
		"one bad in batch": "[" + eventJSON("t", "ok") + `,{"topic":"t","event_id":"","timestamp":"2025-01-02T03:04:05Z","source":"s","payload":{}}]`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/publish", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400 got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	if s := env.stats(t); s.Received != 0 {
		t.Fatalf("expected nothing enqueued, got received=%d", s.Received)
	}
}

func TestRouter_PublishAfterStop(t *testing.T) {
	env := newTestEnv(t)
	if err := env.pipeline.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/publish", eventJSON("t", "1"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 got %d", rec.Code)
	}
}

func TestRouter_PublishTokenRequired(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.PublishToken = "producer-secret" })

	rec := env.do(t, http.MethodPost, "/publish", eventJSON("t", "1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/publish", bytes.NewBufferString(eventJSON("t", "1")))
	req.Header.Set("Authorization", "Bearer producer-secret")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	// read endpoints stay open
	if rec := env.do(t, http.MethodGet, "/stats", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected stats to stay open, got %d", rec.Code)
	}
}

func TestRouter_ListEvents(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/publish", "["+eventJSON("a", "1")+","+eventJSON("b", "1")+","+eventJSON("a", "2")+"]")
	env.waitUnique(t, 3)

	rec := env.do(t, http.MethodGet, "/events?topic=a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var views []domain.ProcessedEvent
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(views) != 2 || views[0].EventID != "1" || views[1].EventID != "2" {
		t.Fatalf("unexpected views %+v", views)
	}
	if views[0].Source != "auth" || views[0].Payload["user"] != "u1" {
		t.Fatalf("expected source and payload in view, got %+v", views[0])
	}

	rec = env.do(t, http.MethodGet, "/events", "")
	views = nil
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected all three views got %d", len(views))
	}
}

func TestRouter_LedgerEndpoints(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/publish", "["+eventJSON("user.login", "evt-001")+","+eventJSON("user.login", "evt-002")+"]")
	env.waitUnique(t, 2)

	rec := env.do(t, http.MethodGet, "/topics", "")
	var topics map[string][]string
	if err := json.NewDecoder(rec.Body).Decode(&topics); err != nil {
		t.Fatalf("decode topics: %v", err)
	}
	if len(topics["topics"]) != 1 || topics["topics"][0] != "user.login" {
		t.Fatalf("unexpected topics %v", topics)
	}

	rec = env.do(t, http.MethodGet, "/topics/user.login/ledger", "")
	var ledger struct {
		Topic  string               `json:"topic"`
		Events []domain.LedgerEntry `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&ledger); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if ledger.Topic != "user.login" || len(ledger.Events) != 2 {
		t.Fatalf("unexpected ledger %+v", ledger)
	}

	rec = env.do(t, http.MethodGet, "/topics/unknown/ledger", "")
	if !strings.Contains(rec.Body.String(), `"events":[]`) {
		t.Fatalf("expected empty events array, got %s", rec.Body.String())
	}

	for id, want := range map[string]bool{"evt-001": true, "evt-404": false} {
		rec = env.do(t, http.MethodGet, "/topics/user.login/events/"+id, "")
		var resp map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode processed: %v", err)
		}
		if resp["processed"] != want {
			t.Fatalf("expected processed=%v for %s got %v", want, id, resp["processed"])
		}
	}
}

type failingStats struct{}

func (failingStats) Stats(context.Context) (domain.Stats, error) {
	return domain.Stats{}, domain.ErrStore
}

type failingHealth struct{}

func (failingHealth) Check(context.Context) error {
	return errors.New("ledger unreachable")
}

func TestRouter_FailuresMapTo5xx(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Stats = failingStats{}
		d.Health = failingHealth{}
	})

	if rec := env.do(t, http.MethodGet, "/stats", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected stats status 500 got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected readyz status 503 got %d", rec.Code)
	}
}

func TestRouter_HealthAndVersion(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Version = "1.2.3" })

	if rec := env.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz %d %q", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected readyz status 200 got %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/version", "")
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if resp["version"] != "1.2.3" || resp["commit"] != "none" || resp["build_date"] != "unknown" {
		t.Fatalf("unexpected version payload %v", resp)
	}

	rec = env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "events_received_total") {
		t.Fatalf("expected metrics exposition, got %d", rec.Code)
	}
}

func TestRouter_StreamRejectsBadCursor(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/events/stream?since=-1", "/events/stream?since=x", "/events/ws?since=abc"} {
		if rec := env.do(t, http.MethodGet, target, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400 got %d", target, rec.Code)
		}
	}
}

func TestRouter_StreamSSE(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	env.do(t, http.MethodPost, "/publish", "["+eventJSON("t", "1")+","+eventJSON("t", "2")+"]")
	env.waitUnique(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/stream?since=1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.ProcessedEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode sse data: %v", err)
		}
		if ev.Seq != 2 || ev.EventID != "2" {
			t.Fatalf("expected the view after the cursor, got %+v", ev)
		}
		return
	}
	t.Fatalf("stream ended without data: %v", scanner.Err())
}

func TestRouter_StreamWebsocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	env.do(t, http.MethodPost, "/publish", eventJSON("user.login", "evt-ws"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev domain.ProcessedEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	if ev.Seq != 1 || ev.Topic != "user.login" || ev.EventID != "evt-ws" {
		t.Fatalf("unexpected view %+v", ev)
	}
}
