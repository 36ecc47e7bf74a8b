package handlers_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	. "github.com/onsi/gomega"

	"sentinel/internal/alerts"
	"sentinel/internal/fetch"
	"sentinel/internal/handlers"
	"sentinel/internal/middleware"
	"sentinel/internal/models"
	"sentinel/internal/scheduler"
)

func newRouter(t *testing.T, engine *alerts.Engine, sched *scheduler.Scheduler) http.Handler {
	t.Helper()

	fetcher := fetch.FetcherFunc(func(ctx context.Context, key string) (float64, error) {
		if key == "bitcoin" {
			return 50000, nil
		}
		return 0, &fetch.Error{Source: "test", Key: key, Kind: fetch.KindNotFound, Err: fetch.ErrUnknownKey}
	})

	h := &handlers.Handler{
		Engine:       engine,
		Fetcher:      fetcher,
		Scheduler:    sched,
		FetchTimeout: time.Second,
	}

	r := chi.NewRouter()
	r.Use(middleware.Stack()...)
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error response: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestCreateRule(t *testing.T) {
	engine := alerts.NewEngine()
	h := newRouter(t, engine, nil)

	w := do(t, h, http.MethodPost, "/rules", `{"key":"Bitcoin","owner":"u1","above":50000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp handlers.RuleResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Success || resp.Rule.Key != "bitcoin" || resp.Rule.ID == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Message != "Alert for bitcoin has been set!" {
		t.Errorf("unexpected message %q", resp.Message)
	}

	if rules := engine.ListByKey("bitcoin"); len(rules) != 1 || *rules[0].Above != 50000 {
		t.Errorf("expected stored rule, got %+v", rules)
	}
}

func TestCreateRule_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind string
	}{
		{"no bound", `{"key":"bitcoin","owner":"u1"}`, handlers.KindInvalidRule},
		{"no key", `{"owner":"u1","below":1}`, handlers.KindInvalidRule},
		{"malformed", `{"key":`, handlers.KindBadRequest},
		{"empty body", ``, handlers.KindBadRequest},
		{"unknown field", `{"key":"bitcoin","abov":1}`, handlers.KindBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(t, alerts.NewEngine(), nil)
			w := do(t, h, http.MethodPost, "/rules", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			resp := decodeError(t, w)
			if resp.Success || resp.Kind != tt.kind || resp.Error == "" {
				t.Errorf("unexpected error body %+v", resp)
			}
		})
	}
}

func TestCreateRule_LegacyFields(t *testing.T) {
	engine := alerts.NewEngine()
	h := newRouter(t, engine, nil)

	w := do(t, h, http.MethodPost, "/set_alert/", `{"crypto":"ethereum","user":"alice","below":1500}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	rules := engine.ListByKey("ethereum")
	if len(rules) != 1 || rules[0].Owner != "alice" {
		t.Errorf("unexpected rules %+v", rules)
	}
}

func TestListAndDeleteRules(t *testing.T) {
	engine := alerts.NewEngine()
	h := newRouter(t, engine, nil)

	do(t, h, http.MethodPost, "/rules", `{"key":"bitcoin","owner":"u1","above":1}`)
	do(t, h, http.MethodPost, "/rules", `{"key":"bitcoin","owner":"u2","above":2}`)
	do(t, h, http.MethodPost, "/rules", `{"key":"ethereum","owner":"u1","below":3}`)

	var list handlers.RuleListResponse
	w := do(t, h, http.MethodGet, "/rules?key=bitcoin", "")
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 2 {
		t.Errorf("expected 2 bitcoin rules, got %d", list.Count)
	}
	for _, r := range list.Rules {
		if r.Key != "bitcoin" {
			t.Errorf("listByKey returned rule for %s", r.Key)
		}
	}

	w = do(t, h, http.MethodGet, "/rules", "")
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 3 {
		t.Errorf("expected 3 rules, got %d", list.Count)
	}

	if w := do(t, h, http.MethodDelete, "/rules/bitcoin/u1", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200 on delete, got %d", w.Code)
	}
	w = do(t, h, http.MethodDelete, "/rules/bitcoin/u1", "")
	if w.Code != http.StatusNotFound || decodeError(t, w).Kind != handlers.KindNotFound {
		t.Errorf("expected 404 not_found on second delete, got %d %s", w.Code, w.Body.String())
	}
}

func TestDeleteRule_EscapedKey(t *testing.T) {
	engine := alerts.NewEngine()
	h := newRouter(t, engine, nil)

	w := do(t, h, http.MethodPost, "/rules", `{"key":"weather:berlin/temperature","owner":"u1","above":30}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on create, got %d %s", w.Code, w.Body.String())
	}

	if w := do(t, h, http.MethodDelete, "/rules/weather:berlin%2Ftemperature/u1", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on escaped delete, got %d %s", w.Code, w.Body.String())
	}
	if rules := engine.ListByKey("weather:berlin/temperature"); len(rules) != 0 {
		t.Errorf("expected rule removed, still have %+v", rules)
	}
}

func TestGetSample(t *testing.T) {
	engine := alerts.NewEngine()
	h := newRouter(t, engine, nil)

	w := do(t, h, http.MethodGet, "/samples/bitcoin", "")
	if w.Code != http.StatusNotFound || decodeError(t, w).Kind != handlers.KindNotFound {
		t.Fatalf("expected 404 before first fetch, got %d %s", w.Code, w.Body.String())
	}

	engine.Ingest("bitcoin", 42000.5)
	engine.Ingest("weather:berlin/temperature", 21.5)

	w = do(t, h, http.MethodGet, "/samples/bitcoin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sample models.Sample
	if err := json.Unmarshal(w.Body.Bytes(), &sample); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sample.Key != "bitcoin" || sample.Value != 42000.5 || sample.FetchedAt.IsZero() {
		t.Errorf("unexpected sample %+v", sample)
	}

	// keys containing '/' are addressable
	w = do(t, h, http.MethodGet, "/samples/weather:berlin/temperature", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for nested key, got %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/samples", "")
	if !strings.Contains(w.Body.String(), `"count":2`) {
		t.Errorf("expected 2 samples, got %s", w.Body.String())
	}
}

func TestPrice(t *testing.T) {
	engine := alerts.NewEngine()
	h := newRouter(t, engine, nil)

	w := do(t, h, http.MethodGet, "/price/Bitcoin", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var resp handlers.PriceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Key != "bitcoin" || resp.Price != "50,000.00" || resp.Value != 50000 {
		t.Errorf("unexpected price response %+v", resp)
	}

	// a live fetch is not stored
	if _, err := engine.Sample("bitcoin"); err == nil {
		t.Error("expected price lookup not to store a sample")
	}

	w = do(t, h, http.MethodGet, "/price/dogecoin", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for failed fetch, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "unknown key") {
		t.Errorf("fetch error leaked to client: %s", w.Body.String())
	}
}

func TestHealthAndStats(t *testing.T) {
	engine := alerts.NewEngine()

	w := do(t, newRouter(t, engine, nil), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected healthy without scheduler, got %d", w.Code)
	}

	sched := scheduler.New(engine, fetch.FetcherFunc(func(context.Context, string) (float64, error) {
		return 1, nil
	}), scheduler.Config{Interval: time.Hour})
	h := newRouter(t, engine, sched)

	w = do(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), `"scheduler":"stopped"`) {
		t.Errorf("expected 503 with stopped scheduler, got %d %s", w.Code, w.Body.String())
	}

	do(t, h, http.MethodPost, "/rules", `{"key":"bitcoin","owner":"u1","above":1}`)
	w = do(t, h, http.MethodGet, "/stats", "")

	var stats handlers.StatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body.String())
	}
	if stats.Engine.Rules != 1 || stats.Scheduler == nil || stats.Scheduler.State != scheduler.Stopped {
		t.Errorf("unexpected stats %s", w.Body.String())
	}
}

func TestRouting_Errors(t *testing.T) {
	h := newRouter(t, alerts.NewEngine(), nil)

	w := do(t, h, http.MethodGet, "/nope", "")
	if w.Code != http.StatusNotFound || decodeError(t, w).Kind != handlers.KindNotFound {
		t.Errorf("expected 404 not_found, got %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPut, "/samples", "")
	if w.Code != http.StatusMethodNotAllowed || decodeError(t, w).Kind != handlers.KindMethodNotAllowed {
		t.Errorf("expected 405, got %d %s", w.Code, w.Body.String())
	}

	if got := do(t, h, http.MethodGet, "/", "").Header().Get(middleware.RequestIDHeader); got == "" {
		t.Error("expected request ID header")
	}
}

func TestWebSocketSubscribe(t *testing.T) {
	g := NewWithT(t)

	engine := alerts.NewEngine()
	srv := httptest.NewServer(newRouter(t, engine, nil))
	defer srv.Close()

	_, err := engine.Upsert(models.Rule{Key: "bitcoin", Owner: "u1", Above: models.Float(50000)})
	g.Expect(err).NotTo(HaveOccurred())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?key=bitcoin"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	g.Expect(err).NotTo(HaveOccurred())
	defer conn.Close()

	g.Eventually(func() int { return engine.Stats().Subscribers }, time.Second).Should(Equal(1))

	engine.Ingest("ethereum", 1)
	res := engine.Ingest("bitcoin", 50000)
	g.Expect(res.Delivered).To(Equal(1))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg models.Message
	g.Expect(conn.ReadJSON(&msg)).To(Succeed())
	g.Expect(msg.Type).To(Equal(models.MessageAlert))
	g.Expect(msg.Event.Rule.Owner).To(Equal("u1"))
	g.Expect(msg.Event.Message).To(ContainSubstring("50,000.00"))

	conn.Close()
	g.Eventually(func() int { return engine.Stats().Subscribers }, 2*time.Second).Should(Equal(0))
}

func TestStreamSubscribe(t *testing.T) {
	g := NewWithT(t)

	engine := alerts.NewEngine()
	srv := httptest.NewServer(newRouter(t, engine, nil))
	defer srv.Close()

	_, err := engine.Upsert(models.Rule{Key: "bitcoin", Owner: "u1", Above: models.Float(50000)})
	g.Expect(err).NotTo(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?key=bitcoin", nil)
	g.Expect(err).NotTo(HaveOccurred())

	resp, err := http.DefaultClient.Do(req)
	g.Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	g.Expect(resp.StatusCode).To(Equal(http.StatusOK))
	g.Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
	g.Expect(engine.Stats().Subscribers).To(Equal(1))

	engine.Ingest("ethereum", 1)
	res := engine.Ingest("bitcoin", 60000)
	g.Expect(res.Delivered).To(Equal(1))

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	var event, data string
	for data == "" {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream ended before an alert arrived")
			}
			if v, found := strings.CutPrefix(line, "event: "); found {
				event = v
			}
			if v, found := strings.CutPrefix(line, "data: "); found {
				data = v
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for an alert")
		}
	}

	var msg models.Message
	g.Expect(json.Unmarshal([]byte(data), &msg)).To(Succeed())
	g.Expect(event).To(Equal(string(models.MessageAlert)))
	g.Expect(msg.Key()).To(Equal("bitcoin"))
	g.Expect(msg.Event.Rule.Owner).To(Equal("u1"))

	cancel()
	g.Eventually(func() int { return engine.Stats().Subscribers }, 2*time.Second).Should(Equal(0))
}

func TestWebSocket_PlainRequestRejected(t *testing.T) {
	engine := alerts.NewEngine()
	h := newRouter(t, engine, nil)

	w := do(t, h, http.MethodGet, "/ws?key=bitcoin", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-upgrade request, got %d", w.Code)
	}
	if n := engine.Stats().Subscribers; n != 0 {
		t.Errorf("expected no subscriber after a failed upgrade, got %d", n)
	}
}
