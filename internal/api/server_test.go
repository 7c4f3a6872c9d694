package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/example/captcha-relay/internal/api"
	"github.com/example/captcha-relay/internal/config"
	"github.com/example/captcha-relay/internal/models"
	"github.com/example/captcha-relay/internal/orchestrator"
	"github.com/example/captcha-relay/internal/providers/llm"
	"github.com/example/captcha-relay/internal/storage"
)

const (
	submitKey = "submit-secret"
	queryKey  = "query-secret"
)

var pngB64 = base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13})

type relay struct {
	srv   *httptest.Server
	orch  *orchestrator.Orchestrator
	store *storage.Memory
}

func newRelay(t *testing.T, client llm.Client) *relay {
	t.Helper()
	store := storage.NewMemory()
	orch := orchestrator.New(store, client, orchestrator.Options{})
	s, err := api.NewServer(orch, api.Options{SubmitKey: submitKey, QueryKey: queryKey})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		orch.Wait()
	})
	return &relay{srv: srv, orch: orch, store: store}
}

// geminiStub answers generateContent with status and body.
func geminiStub(t *testing.T, status int, body string) *llm.GeminiHTTPClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return &llm.GeminiHTTPClient{APIKey: "k", Model: "gemini-test", BaseURL: srv.URL}
}

func (rl *relay) submit(t *testing.T, key string, body string) (int, map[string]string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, rl.srv.URL+"/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return do(t, req)
}

func (rl *relay) result(t *testing.T, id, key string) (int, map[string]string) {
	t.Helper()
	q := url.Values{}
	if id != "" {
		q.Set("taskId", id)
	}
	if key != "" {
		q.Set("apiKey", key)
	}
	req, _ := http.NewRequest(http.MethodGet, rl.srv.URL+"/result?"+q.Encode(), nil)
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (int, map[string]string) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]string{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s response: %v", req.Method, req.URL.Path, err)
	}
	return resp.StatusCode, out
}

func submitBody(image, mime string) string {
	b, _ := json.Marshal(map[string]string{"image": image, "mimeType": mime})
	return string(b)
}

func TestSubmitThenPollCompleted(t *testing.T) {
	gemini := geminiStub(t, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"42"}]},"finishReason":"STOP"}]}`)
	rl := newRelay(t, gemini)

	code, body := rl.submit(t, submitKey, submitBody(pngB64, "image/png"))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", code, body)
	}
	id := body["taskId"]
	if len(id) != 36 {
		t.Fatalf("expected uuid task id, got %q", id)
	}

	rl.orch.Wait()
	code, body = rl.result(t, id, queryKey)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", code, body)
	}
	if body["status"] != "completed" || body["solution"] != "42" {
		t.Fatalf("expected completed 42, got %v", body)
	}
	if _, ok := body["message"]; ok {
		t.Fatalf("completed state should not carry a message: %v", body)
	}
}

func TestPollWhileInferenceRuns(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	rl := newRelay(t, client)

	defer close(client.release)

	_, body := rl.submit(t, submitKey, submitBody(pngB64, "image/png"))
	code, state := rl.result(t, body["taskId"], queryKey)
	if code != http.StatusOK || state["status"] != "pending" {
		t.Fatalf("expected pending, got %d %v", code, state)
	}
	if len(state) != 1 {
		t.Fatalf("pending state should only carry status: %v", state)
	}
}

func TestProviderFailureBecomesErrorState(t *testing.T) {
	gemini := geminiStub(t, http.StatusInternalServerError, `{"error":{"code":500,"message":"model overloaded","status":"INTERNAL"}}`)
	rl := newRelay(t, gemini)

	_, body := rl.submit(t, submitKey, submitBody(pngB64, "image/png"))
	rl.orch.Wait()

	code, state := rl.result(t, body["taskId"], queryKey)
	if code != http.StatusOK || state["status"] != "error" {
		t.Fatalf("expected error state, got %d %v", code, state)
	}
	if !strings.Contains(state["message"], "model overloaded") || !strings.Contains(state["message"], "500") {
		t.Fatalf("message should carry provider detail, got %q", state["message"])
	}
}

func TestUnreachableProviderKeepsKeyOutOfResult(t *testing.T) {
	const providerKey = "PROVIDER-SECRET-123"
	dead := httptest.NewServer(http.NotFoundHandler())
	base := dead.URL
	dead.Close()

	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	rl := newRelay(t, &llm.GeminiHTTPClient{APIKey: providerKey, Model: "gemini-test", BaseURL: base})
	_, body := rl.submit(t, submitKey, submitBody(pngB64, "image/png"))
	rl.orch.Wait()

	code, state := rl.result(t, body["taskId"], queryKey)
	if code != http.StatusOK || state["status"] != "error" {
		t.Fatalf("expected error state, got %d %v", code, state)
	}
	if !strings.Contains(state["message"], "gemini request failed") {
		t.Fatalf("expected transport failure message, got %q", state["message"])
	}
	if strings.Contains(state["message"], providerKey) {
		t.Fatalf("stored message leaks the provider key: %q", state["message"])
	}
	if strings.Contains(logs.String(), providerKey) {
		t.Fatalf("logs leak the provider key: %s", logs.String())
	}
}

func TestSubmitRejections(t *testing.T) {
	rl := newRelay(t, &llm.MockClient{})
	cases := []struct {
		name string
		key  string
		body string
		want int
	}{
		{"missing key", "", submitBody(pngB64, "image/png"), http.StatusUnauthorized},
		{"wrong key", "nope", submitBody(pngB64, "image/png"), http.StatusUnauthorized},
		{"query key on submit", queryKey, submitBody(pngB64, "image/png"), http.StatusUnauthorized},
		{"not json", submitKey, "image=abc", http.StatusBadRequest},
		{"missing image", submitKey, `{"mimeType":"image/png"}`, http.StatusBadRequest},
		{"missing mime type", submitKey, `{"image":"` + pngB64 + `"}`, http.StatusBadRequest},
		{"empty image", submitKey, submitBody("", "image/png"), http.StatusBadRequest},
		{"image not a string", submitKey, `{"image":12,"mimeType":"image/png"}`, http.StatusBadRequest},
		{"bad base64", submitKey, submitBody("%%%not-base64%%%", "image/png"), http.StatusBadRequest},
		{"bad mime type", submitKey, submitBody(pngB64, "png"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := rl.submit(t, tc.key, tc.body)
			if code != tc.want {
				t.Fatalf("expected %d, got %d %v", tc.want, code, body)
			}
			if body["error"] == "" {
				t.Fatalf("expected error body, got %v", body)
			}
		})
	}
	if n := rl.store.Len(); n != 0 {
		t.Fatalf("rejected submissions must not create tasks, store has %d entries", n)
	}
}

func TestResultRejections(t *testing.T) {
	rl := newRelay(t, &llm.MockClient{})
	_, body := rl.submit(t, submitKey, submitBody(pngB64, "image/png"))
	id := body["taskId"]
	rl.orch.Wait()

	cases := []struct {
		name string
		id   string
		key  string
		want int
	}{
		{"wrong key on existing task", id, "nope", http.StatusUnauthorized},
		{"submit key on result", id, submitKey, http.StatusUnauthorized},
		{"wrong key on unknown task", "missing", "nope", http.StatusUnauthorized},
		{"missing key", id, "", http.StatusUnauthorized},
		{"missing task id", "", queryKey, http.StatusBadRequest},
		{"never issued", "00000000-0000-0000-0000-000000000000", queryKey, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := rl.result(t, tc.id, tc.key)
			if code != tc.want {
				t.Fatalf("expected %d, got %d %v", tc.want, code, body)
			}
			if _, ok := body["status"]; ok {
				t.Fatalf("rejection must not report a task status: %v", body)
			}
		})
	}
}

func TestWrongMethods(t *testing.T) {
	rl := newRelay(t, &llm.MockClient{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/submit"},
		{http.MethodPut, "/submit"},
		{http.MethodPost, "/result?taskId=x&apiKey=" + queryKey},
		{http.MethodDelete, "/result"},
	} {
		req, _ := http.NewRequest(tc.method, rl.srv.URL+tc.path, bytes.NewReader(nil))
		code, _ := do(t, req)
		if code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: expected 405, got %d", tc.method, tc.path, code)
		}
	}
}

func TestSubmitStoreFailure(t *testing.T) {
	store := storage.NewMemory()
	store.Close()
	orch := orchestrator.New(store, &llm.MockClient{}, orchestrator.Options{})
	s, err := api.NewServer(orch, api.Options{SubmitKey: submitKey, QueryKey: queryKey})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	rl := &relay{srv: srv, orch: orch, store: store}
	code, body := rl.submit(t, submitKey, submitBody(pngB64, "image/png"))
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d %v", code, body)
	}
	if _, ok := body["taskId"]; ok {
		t.Fatalf("no task id may be issued when the pending write fails: %v", body)
	}
}

func TestBodyLimit(t *testing.T) {
	store := storage.NewMemory()
	orch := orchestrator.New(store, &llm.MockClient{}, orchestrator.Options{})
	s, err := api.NewServer(orch, api.Options{SubmitKey: submitKey, QueryKey: queryKey, MaxBodyBytes: 64})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	rl := &relay{srv: srv, orch: orch, store: store}
	code, _ := rl.submit(t, submitKey, submitBody(strings.Repeat("A", 200), "image/png"))
	if code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", code)
	}
}

func TestHealthAndCORS(t *testing.T) {
	rl := newRelay(t, &llm.MockClient{})

	resp, err := http.Get(rl.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodOptions, rl.srv.URL+"/submit", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight response: %d %v", resp.StatusCode, resp.Header)
	}
}

func TestMisconfiguredNamesMissingSetting(t *testing.T) {
	cause := &config.MissingError{Names: []string{"QUERY_API_KEY"}}
	srv := httptest.NewServer(api.Misconfigured(cause))
	defer srv.Close()

	for _, path := range []string{"/submit", "/result?taskId=x", "/health"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		code, body := do(t, req)
		if code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", path, code)
		}
		if !strings.Contains(body["error"], "QUERY_API_KEY") {
			t.Fatalf("%s: error should name the missing setting, got %v", path, body)
		}
	}
}

type blockingClient struct {
	release chan struct{}
}

func (b *blockingClient) Recognize(ctx context.Context, img models.Image) (string, error) {
	<-b.release
	return "7", nil
}
