package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gorilla/websocket"
)

func newServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg := &config.Config{
		Mode:       "test",
		Secret:     "test-secret",
		ReadLimit:  1 << 16,
		PingPeriod: time.Minute,
		SendBuffer: 16,
		RateLimit:  config.RateLimitConfig{Messages: 100, Interval: time.Second},
	}
	o := orch.New(app.NewRegistry(), app.SimplePolicy{})
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o))
	t.Cleanup(srv.Close)
	return srv, o
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func getJSON(t *testing.T, c *http.Client, url string, out any) {
	t.Helper()
	resp, err := c.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthAndEndpoints(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(t)

	var health struct {
		Status    string `json:"status"`
		Endpoints int    `json:"endpoints"`
	}
	getJSON(t, c, srv.URL+"/health", &health)
	if health.Status != "ok" || health.Endpoints != 0 {
		t.Fatalf("health = %+v", health)
	}

	var list struct {
		Endpoints []domain.Endpoint `json:"endpoints"`
	}
	getJSON(t, c, srv.URL+"/api/endpoints", &list)
	if len(list.Endpoints) != 0 {
		t.Fatalf("endpoints = %+v", list.Endpoints)
	}
}

func TestClientTokenCookie(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	for _, ck := range resp.Cookies() {
		if ck.Name == "ct" && ck.Value != "" {
			return
		}
	}
	t.Fatalf("no client token cookie in %v", resp.Cookies())
}

func TestNameStoredInSessionAndUsedOnJoin(t *testing.T) {
	srv, o := newServer(t)
	c := newClient(t)

	resp, err := c.Post(srv.URL+"/api/name", "application/json", strings.NewReader(`{"name":""}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty name: status %d", resp.StatusCode)
	}

	resp, err = c.Post(srv.URL+"/api/name", "application/json", strings.NewReader(`{"name":"carol"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST name: status %d", resp.StatusCode)
	}

	var name struct {
		Name string `json:"name"`
	}
	getJSON(t, c, srv.URL+"/api/name", &name)
	if name.Name != "carol" {
		t.Fatalf("name = %q", name.Name)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	header := http.Header{}
	for _, ck := range c.Jar.Cookies(resp.Request.URL) {
		header.Add("Cookie", ck.String())
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := o.Registry.Snapshot()
		if len(snap) == 1 {
			if snap[0].Username != "carol" {
				t.Fatalf("username = %q, want carol", snap[0].Username)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("endpoint never admitted")
}

func TestSessionKey_RandomWhenSecretMissing(t *testing.T) {
	if got := sessionKey(&config.Config{Secret: "s3cret"}); string(got) != "s3cret" {
		t.Fatalf("configured secret not used: %q", got)
	}
	a := sessionKey(&config.Config{Mode: "release"})
	b := sessionKey(&config.Config{Mode: "release"})
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("random key lengths = %d, %d; want 32", len(a), len(b))
	}
	if bytes.Equal(a, b) {
		t.Fatalf("random keys repeat")
	}
}

func TestSessionCookieRejectedAfterKeyChange(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(t)
	resp, err := c.Post(srv.URL+"/api/name", "application/json", strings.NewReader(`{"name":"erin"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	other := httptest.NewServer(SetupRouter(context.Background(), &config.Config{Mode: "test", SendBuffer: 1, PingPeriod: time.Minute}, orch.New(app.NewRegistry(), app.SimplePolicy{})))
	defer other.Close()
	req, err := http.NewRequest(http.MethodGet, other.URL+"/api/name", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for _, ck := range c.Jar.Cookies(resp.Request.URL) {
		req.AddCookie(ck)
	}
	got, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer got.Body.Close()
	var name struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(got.Body).Decode(&name); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if name.Name != "" {
		t.Fatalf("session signed with another key was accepted: %q", name.Name)
	}
}
