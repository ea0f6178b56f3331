// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/morganforge/coachline/internal/content"
)

const adminToken = "let-me-in"

type staticGateway bool

func (g staticGateway) IsConfigured() bool { return bool(g) }

func newContentServer(t *testing.T) (*Server, *content.Store) {
	t.Helper()
	store, err := content.Open(context.Background(), filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("content.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error = %v", err)
	}

	srv := New("127.0.0.1:0").
		WithGateway(staticGateway(true)).
		WithContent(store).
		WithAdmin(NewAdminAuth(string(hash), ""))
	return srv, store
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// =============================================================================
// HEALTH
// =============================================================================

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		gateway    GatewayStatus
		wantStatus string
	}{
		{"configured", staticGateway(true), "ok"},
		{"missing key", staticGateway(false), "degraded"},
		{"no gateway", nil, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(":0").WithGateway(tt.gateway)
			w := do(t, srv.Handler(), http.MethodGet, "/health", "")

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode error = %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Version != Version {
				t.Errorf("Version = %q, want %q", resp.Version, Version)
			}
			if resp.ContentEnabled {
				t.Error("ContentEnabled should be false without a store")
			}
		})
	}
}

func TestHandler_CommonHeaders(t *testing.T) {
	srv := New(":0")
	w := do(t, srv.Handler(), http.MethodGet, "/health", "")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

// =============================================================================
// CHAT MOUNT
// =============================================================================

func TestChatRoute_DelegatesAllMethods(t *testing.T) {
	var methods []string
	chat := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusOK)
	})

	srv := New(":0").WithChat("/chat", chat)
	h := srv.Handler()

	for _, m := range []string{http.MethodOptions, http.MethodPost, http.MethodGet} {
		if w := do(t, h, m, "/chat", ""); w.Code != http.StatusOK {
			t.Errorf("%s /chat status = %d", m, w.Code)
		}
	}
	if len(methods) != 3 {
		t.Errorf("chat handler saw %v, want 3 calls", methods)
	}

	if w := do(t, h, http.MethodPost, "/api/chat", "{}"); w.Code != http.StatusNotFound {
		t.Errorf("default path should be unmounted, got %d", w.Code)
	}
}

func TestChatRoute_RateLimited(t *testing.T) {
	chat := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := New(":0").WithChat("", chat).WithRateLimiter(NewRateLimiter(0.001, 2))
	h := srv.Handler()

	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodPost, "/api/chat", "{}").Code)
	}
	want := []int{200, 200, 429}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}

	// Preflight is exempt
	if w := do(t, h, http.MethodOptions, "/api/chat", ""); w.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", w.Code)
	}
}

// =============================================================================
// CONTENT ROUTES
// =============================================================================

func TestContent_ReadWrite(t *testing.T) {
	srv, _ := newContentServer(t)
	h := srv.Handler()
	auth := []string{"Authorization", "Bearer " + adminToken}

	w := do(t, h, http.MethodPut, "/api/content/en/hero.title", `{"value":"Train smarter"}`, auth...)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/api/content/en/hero.title", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var entry content.Entry
	if err := json.NewDecoder(w.Body).Decode(&entry); err != nil {
		t.Fatal(err)
	}
	if entry.Value != "Train smarter" {
		t.Errorf("Value = %q", entry.Value)
	}

	w = do(t, h, http.MethodGet, "/api/content/en", "")
	var list ContentListResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Lang != "en" || len(list.Entries) != 1 {
		t.Errorf("list = %+v", list)
	}

	w = do(t, h, http.MethodDelete, "/api/content/en/hero.title", "", auth...)
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", w.Code)
	}
	if w = do(t, h, http.MethodGet, "/api/content/en/hero.title", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", w.Code)
	}
}

func TestContent_Errors(t *testing.T) {
	srv, _ := newContentServer(t)
	h := srv.Handler()
	auth := []string{"Authorization", "Bearer " + adminToken}

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		headers []string
		want    int
	}{
		{"unknown key", http.MethodGet, "/api/content/en/missing", "", nil, http.StatusNotFound},
		{"bad lang", http.MethodGet, "/api/content/not_a_tag!/x", "", nil, http.StatusBadRequest},
		{"bad lang list", http.MethodGet, "/api/content/%20", "", nil, http.StatusBadRequest},
		{"no token", http.MethodPut, "/api/content/en/x", `{"value":"v"}`, nil, http.StatusUnauthorized},
		{"wrong token", http.MethodPut, "/api/content/en/x", `{"value":"v"}`, []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"bad body", http.MethodPut, "/api/content/en/x", `{"val":`, auth, http.StatusBadRequest},
		{"unknown field", http.MethodPut, "/api/content/en/x", `{"text":"v"}`, auth, http.StatusBadRequest},
		{"bad key", http.MethodPut, "/api/content/en/Bad%20Key", `{"value":"v"}`, auth, http.StatusBadRequest},
		{"delete missing", http.MethodDelete, "/api/content/en/x", "", auth, http.StatusNotFound},
		{"preflight", http.MethodOptions, "/api/content/en/x", "", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body, tt.headers...)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestContent_AdminDisabled(t *testing.T) {
	srv, _ := newContentServer(t)
	srv.WithAdmin(nil)

	w := do(t, srv.Handler(), http.MethodPut, "/api/content/en/x", `{"value":"v"}`, "Authorization", "Bearer "+adminToken)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestImages(t *testing.T) {
	srv, _ := newContentServer(t)
	h := srv.Handler()
	auth := []string{"Authorization", "Bearer " + adminToken}

	w := do(t, h, http.MethodPut, "/api/images/hero", `{"url":"https://cdn.example/a.jpg","alt":"Coach"}`, auth...)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body = %s", w.Code, w.Body.String())
	}
	if w = do(t, h, http.MethodPut, "/api/images/hero", `{"alt":"x"}`, auth...); w.Code != http.StatusBadRequest {
		t.Errorf("missing url status = %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/images", "")
	var list ImageListResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Images) != 1 || list.Images[0].Alt != "Coach" {
		t.Errorf("images = %+v", list.Images)
	}

	if w = do(t, h, http.MethodDelete, "/api/images/hero", "", auth...); w.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", w.Code)
	}
	if w = do(t, h, http.MethodGet, "/api/images/hero", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d", w.Code)
	}
}

func TestContentEvents(t *testing.T) {
	srv, store := newContentServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/content/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	// Wait for the handshake so the subscription is registered
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line = %q, err = %v", line, err)
	}

	if _, err := store.Put(context.Background(), content.Entry{Key: "hero.title", Lang: "fr", Value: "Bonjour"}); err != nil {
		t.Fatal(err)
	}

	got := make(chan content.Change, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var c content.Change
				if json.Unmarshal([]byte(data), &c) == nil {
					got <- c
					return
				}
			}
		}
	}()

	select {
	case c := <-got:
		if c.Op != content.OpPut || c.Key != "hero.title" || c.Lang != "fr" {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change event received")
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv := New("127.0.0.1:0").WithShutdownTimeout(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "127.0.0.1:0" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	srv := New("256.0.0.1:99999")
	if err := srv.Run(context.Background()); err == nil {
		t.Error("Run() should fail on an invalid address")
	}
}
