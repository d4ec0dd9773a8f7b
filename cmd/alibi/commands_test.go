package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/alibi/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

// useServer points the CLI commands at ts for the duration of the test.
func (ts *testServer) use(t *testing.T) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	return rootCmd.Execute()
}

func (ts *testServer) lastBody(t *testing.T) map[string]any {
	t.Helper()
	if len(ts.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[len(ts.requests)-1].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	return body
}

var ctx = context.Background()

func TestGenerateCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /generate": `{"excuse":"Traffic was terrible.","excuse_id":"abc-123"}`,
	})
	ts.use(t)

	if err := runCLI(t, "generate", "late", "for", "work", "--urgency", "high", "--believability", "8"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != http.MethodPost || r.Path != "/generate" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	body := ts.lastBody(t)
	if body["scenario"] != "late for work" {
		t.Errorf("scenario = %v", body["scenario"])
	}
	if body["urgency"] != "high" {
		t.Errorf("urgency = %v", body["urgency"])
	}
	if body["believability"] != float64(8) {
		t.Errorf("believability = %v", body["believability"])
	}
}

func TestGenerateCommand_MissingArgs(t *testing.T) {
	if err := runCLI(t, "generate"); err == nil {
		t.Fatal("expected error when no scenario is given")
	}
}

func TestGenerateCommand_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid scenario provided.","type":"invalid_input"}}`))
	}))
	defer ts.Close()

	old := newAPIClient
	newAPIClient = func() (*apiClient, error) {
		return &apiClient{baseURL: ts.URL, httpClient: ts.Client()}, nil
	}
	defer func() { newAPIClient = old }()

	err := runCLI(t, "generate", "dragons")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Invalid scenario provided.") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestProofCommand_Download(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /generate_proof/abc-123":  `{"proof_url":"/proofs/doctor_note_x.pdf","name":"doctor_note_x.pdf","kind":"doctor_note"}`,
		"GET /proofs/doctor_note_x.pdf": "%PDF-1.3 fake",
	})
	ts.use(t)
	dir := t.TempDir()

	if err := runCLI(t, "proof", "abc-123", "--type", "doctor_note", "-o", dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Reset so later tests are not affected by the persisted flag value.
	proofCmd.Flags().Set("output", "")

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
	if !strings.Contains(ts.requests[0].Body, `"proof_type":"doctor_note"`) {
		t.Errorf("body = %s", ts.requests[0].Body)
	}
	if ts.requests[0].Path != "/generate_proof/abc-123" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
	if ts.requests[1].Path != "/proofs/doctor_note_x.pdf" {
		t.Errorf("download path = %q", ts.requests[1].Path)
	}

	data, err := os.ReadFile(filepath.Join(dir, "doctor_note_x.pdf"))
	if err != nil {
		t.Fatalf("reading download: %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		t.Errorf("downloaded %q", data)
	}
}

func TestFeedbackCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /excuses/abc-123/feedback": `{"excuse_id":"abc-123","effective_count":1,"feedback_count":1,"effectiveness":1}`,
	})
	ts.use(t)

	if err := runCLI(t, "feedback", "abc-123", "worked"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := ts.lastBody(t); body["effective"] != true {
		t.Errorf("effective = %v, want true", body["effective"])
	}

	if err := runCLI(t, "feedback", "abc-123", "maybe"); err == nil {
		t.Error("expected error for unknown verdict")
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"worked", true, false},
		{"YES", true, false},
		{"failed", false, false},
		{" no ", false, false},
		{"perhaps", false, true},
	}
	for _, tt := range tests {
		got, err := parseVerdict(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVerdict(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseVerdict(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSavedCommands(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /saved":        `{"excuses":[{"id":"s-0000001","text":"My dog ate it.","scenario":"missed deadline","saved_at":"2026-01-01T00:00:00Z"}]}`,
		"POST /saved":       `{"message":"Excuse saved.","saved":{"id":"s-0000002"}}`,
		"DELETE /saved/s-1": `{"message":"Excuse deleted."}`,
	})
	ts.use(t)

	if err := runCLI(t, "saved", "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := runCLI(t, "saved", "add", "--text", "Power outage."); err != nil {
		t.Fatalf("add: %v", err)
	}
	if body := ts.lastBody(t); body["text"] != "Power outage." {
		t.Errorf("text = %v", body["text"])
	}
	savedAddCmd.Flags().Set("text", "")

	if err := runCLI(t, "saved", "delete", "s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := runCLI(t, "saved", "delete", "missing"); err == nil {
		t.Error("expected error deleting unknown id")
	}
	if err := runCLI(t, "saved", "add"); err == nil {
		t.Error("expected error when neither id nor text is given")
	}
}

func TestHistoryCommand_Paging(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /history": `{"total":0,"limit":5,"offset":10,"excuses":[]}`,
	})
	ts.use(t)

	if err := runCLI(t, "history", "--limit", "5", "--offset", "10"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.requests[0].Path; got != "/history?limit=5&offset=10" {
		t.Errorf("path = %q", got)
	}
}

func TestInsightsCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /insights": `{"total_excuses":2,"top_excuses":[{"text":"Flat tire","effectiveness":1,"feedback_count":2}],"top_scenarios":[{"scenario":"late for work","count":2}],"prediction":"Not enough excuses yet."}`,
	})
	ts.use(t)

	if err := runCLI(t, "insights"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Too many requests. Please slow down.","type":"rate_limited"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}
	resp, err := client.get(ctx, "/insights")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "slow down") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Provider.APIToken = "hf_secret"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
		if strings.Contains(k.Value, "hf_secret") {
			t.Errorf("secret leaked in %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "alibi.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo wörld", 5); got != "héllo..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}
