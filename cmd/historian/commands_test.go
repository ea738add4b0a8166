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
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	Accept string
}

type reply struct {
	status int
	body   string
}

func ok(body string) reply { return reply{status: http.StatusOK, body: body} }

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]reply) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			Accept: r.Header.Get("Accept"),
		})
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if resp, ok := responses[r.Method+" "+r.URL.Path]; ok {
			w.WriteHeader(resp.status)
			w.Write([]byte(resp.body))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) only(t *testing.T) recordedRequest {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	return ts.requests[0]
}

// runCLI executes args against rootCmd with ts standing in for the server
// and returns what the command wrote to stdout.
func runCLI(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()

	prevClient, prevColor := newAPIClient, noColor
	if ts != nil {
		newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	}
	noColor = true
	t.Cleanup(func() {
		newAPIClient, noColor = prevClient, prevColor
		resetFlags(rootCmd)
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores defaults, since cobra commands are package globals.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

var ctx = context.Background()

func TestAPIClientHeaders(t *testing.T) {
	ts := newTestServer(t, map[string]reply{"GET /api/timeline": ok(`[]`)})

	resp, err := ts.client().get(ctx, "/api/timeline")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	r := ts.only(t)
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	if r.Accept != "application/json" {
		t.Errorf("accept = %q, want application/json", r.Accept)
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"POST /api/timeline": {http.StatusBadRequest, `{"error":{"message":"Year must be a number between 1 and 9999.","type":"invalid_request_error"}}`},
		"GET /api/export":    {http.StatusBadGateway, `upstream down`},
	})
	client := ts.client()

	resp, err := client.post(ctx, "/api/timeline", map[string]string{})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	err = decodeJSON(resp, &struct{}{})
	if err == nil || err.Error() != "Year must be a number between 1 and 9999." {
		t.Errorf("err = %v, want server message", err)
	}

	resp, err = client.get(ctx, "/api/export")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	err = decodeJSON(resp, nil)
	if err == nil || !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("err = %v, want status and raw body", err)
	}
}

func TestTimelineList(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"GET /api/timeline": ok(`[
			{"id":"t1","year":44,"era":"BC","title":"Assassination of Caesar","description":"Ides of March"},
			{"id":"t2","year":476,"era":"AD","title":"Fall of Rome","description":"Romulus Augustulus deposed"}
		]`),
	})

	out, err := runCLI(t, ts, "timeline", "list")
	if err != nil {
		t.Fatalf("timeline list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "44 BC") || !strings.Contains(lines[0], "Assassination of Caesar") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "476 AD") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestTimelineAdd(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"POST /api/timeline": {http.StatusCreated, `{"id":"t9","year":753,"era":"BC","title":"Founding of Rome","description":"Romulus"}`},
	})

	_, err := runCLI(t, ts, "timeline", "add", "--year", "753", "--era", "BC", "--title", "Founding of Rome", "--description", "Romulus")
	if err != nil {
		t.Fatalf("timeline add: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.only(t).Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["year"] != "753" || body["era"] != "BC" || body["title"] != "Founding of Rome" {
		t.Errorf("body = %v", body)
	}
}

func TestTimelineEdit_SendsOnlyChangedFields(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"PATCH /api/timeline/t1": ok(`{"id":"t1","year":44,"era":"BC","title":"Ides of March","description":"x"}`),
	})

	if _, err := runCLI(t, ts, "timeline", "edit", "t1", "--title", "Ides of March"); err != nil {
		t.Fatalf("timeline edit: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.only(t).Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if len(body) != 1 || body["title"] != "Ides of March" {
		t.Errorf("body = %v, want only title", body)
	}
}

func TestTimelineEdit_NothingToChange(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := runCLI(t, ts, "timeline", "edit", "t1")
	if err == nil || !strings.Contains(err.Error(), "nothing to change") {
		t.Errorf("err = %v, want nothing to change", err)
	}
	if len(ts.requests) != 0 {
		t.Errorf("sent %d requests, want 0", len(ts.requests))
	}
}

func TestTimelineReference(t *testing.T) {
	outcome := `{"record_id":"t1","kind":"timeline","state":"done","from_cache":false,
		"result":{"succeeded":true,"narrative":"**Caesar** was stabbed 23 times.","rewritten":"Caesar is killed by senators.","model":"gemini-2.0-flash","generatedAt":"2026-01-01T00:00:00Z"}}`
	ts := newTestServer(t, map[string]reply{
		"GET /api/timeline/t1/reference":             ok(outcome),
		"POST /api/timeline/t1/reference/regenerate": ok(outcome),
	})

	out, err := runCLI(t, ts, "timeline", "reference", "t1")
	if err != nil {
		t.Fatalf("timeline reference: %v", err)
	}
	for _, want := range []string{"Narrative", "**Caesar** was stabbed", "Suggested description", "gemini-2.0-flash"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if r := ts.only(t); r.Method != http.MethodGet {
		t.Errorf("method = %s, want GET", r.Method)
	}
}

func TestTimelineReference_Regenerate(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"POST /api/timeline/t1/reference/regenerate": ok(`{"record_id":"t1","kind":"timeline","state":"done","result":{"succeeded":true,"narrative":"fresh"}}`),
	})

	if _, err := runCLI(t, ts, "timeline", "reference", "t1", "--regenerate"); err != nil {
		t.Fatalf("timeline reference --regenerate: %v", err)
	}
	if r := ts.only(t); r.Method != http.MethodPost || r.Path != "/api/timeline/t1/reference/regenerate" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
}

func TestLearningRegenerate_Failed(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"POST /api/learning/l1/reference/regenerate": ok(`{"record_id":"l1","kind":"learning","state":"failed","result":{"succeeded":false,"error":"AI API key not configured"}}`),
	})

	_, err := runCLI(t, ts, "learning", "regenerate", "l1")
	if err == nil || !strings.Contains(err.Error(), "AI API key not configured") {
		t.Errorf("err = %v, want failure message", err)
	}
}

func TestReference_StillGenerating(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"GET /api/learning/l1/reference": {http.StatusAccepted, `{"record_id":"l1","kind":"learning","state":"generating","result":{"succeeded":false}}`},
	})
	// learning has no plain view command, so go through the shared helper.
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	var out bytes.Buffer
	cmd.SetOut(&out)

	prev := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	defer func() { newAPIClient = prev }()

	if err := showReference(cmd, "learning", "l1", false); err != nil {
		t.Errorf("showReference while generating: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("printed a reference while generating: %q", out.String())
	}
}

func TestLearningAdd_FactsFile(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"POST /api/learning": {http.StatusCreated, `{"id":"l1","title":"Punic Wars","yearRange":"264-146 BC","facts":"Carthage"}`},
	})
	path := filepath.Join(t.TempDir(), "punic.md")
	if err := os.WriteFile(path, []byte("- Hannibal crosses the Alps\n- Carthage destroyed\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := runCLI(t, ts, "learning", "add", "--title", "Punic Wars", "--year-range", "264-146 BC", "--facts-file", path)
	if err != nil {
		t.Fatalf("learning add: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.only(t).Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["facts"] != "- Hannibal crosses the Alps\n- Carthage destroyed" {
		t.Errorf("facts = %q", body["facts"])
	}
	if body["yearRange"] != "264-146 BC" {
		t.Errorf("yearRange = %v", body["yearRange"])
	}
}

func TestLearningAdd_FactsAndFile(t *testing.T) {
	_, err := runCLI(t, newTestServer(t, nil), "learning", "add", "--facts", "x", "--facts-file", "y.md")
	if err == nil || !strings.Contains(err.Error(), "not both") {
		t.Errorf("err = %v, want conflict error", err)
	}
}

func TestLearningShow(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"GET /api/learning/l1": ok(`{"id":"l1","title":"Punic Wars","yearRange":"264-146 BC","facts":"Carthage falls","createdAt":"2026-03-01T10:00:00Z",
			"enrichment":{"narrative":"Rome and Carthage fight three wars.","organizedFacts":"- 146 BC: Carthage destroyed","keyPoints":"- sea power","chronologicalEvents":"- 264 BC: war begins","generatedAt":"2026-03-01T10:01:00Z"}}`),
	})

	out, err := runCLI(t, ts, "learning", "show", "l1")
	if err != nil {
		t.Fatalf("learning show: %v", err)
	}
	for _, want := range []string{"Punic Wars (264-146 BC)", "Rome and Carthage", "Key points", "264 BC: war begins"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDelete_NotFoundIsNotAnError(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"DELETE /api/learning/gone": ok(`{"deleted":false}`),
	})

	if _, err := runCLI(t, ts, "learning", "rm", "gone"); err != nil {
		t.Errorf("learning rm of absent id: %v", err)
	}
}

func TestAccessLogin_Rejected(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"POST /access": {http.StatusUnauthorized, `{"error":{"message":"invalid access key","type":"authentication_error"}}`},
	})

	_, err := runCLI(t, ts, "access", "login", "wrong")
	if err == nil || err.Error() != "invalid access key" {
		t.Errorf("err = %v, want invalid access key", err)
	}
	if body := ts.only(t).Body; body != `{"token":"wrong"}` {
		t.Errorf("body = %s", body)
	}
}

func TestAccessLogin_DefaultsToConfiguredKey(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"POST /access": ok(`{"authenticated":true}`),
	})

	if _, err := runCLI(t, ts, "access", "login"); err != nil {
		t.Fatalf("access login: %v", err)
	}
	if body := ts.only(t).Body; body != `{"token":"test-token"}` {
		t.Errorf("body = %s", body)
	}
}

func TestGenerationsList(t *testing.T) {
	ts := newTestServer(t, map[string]reply{
		"GET /api/generations": ok(`[{"id":"g1","record_id":"t1","kind":"timeline","intent":"view","model":"m","status":"failed","error":"Rate limit exceeded","duration_ms":12,"created_at":"2026-03-01T10:00:00Z"}]`),
	})

	out, err := runCLI(t, ts, "generations", "list", "--limit", "5")
	if err != nil {
		t.Fatalf("generations list: %v", err)
	}
	if r := ts.only(t); r.Path != "/api/generations?limit=5&offset=0" {
		t.Errorf("path = %q", r.Path)
	}
	if !strings.Contains(out, "Rate limit exceeded") || !strings.Contains(out, "failed") {
		t.Errorf("output = %q", out)
	}
}

const exportBody = `{"timeline":[{"id":"t1","year":44,"era":"BC","title":"Assassination of Caesar","description":"Ides"}],
	"learning":[],"references":{"t1":{"succeeded":true,"narrative":"Caesar dies."}}}`

func TestDataExport_YAML(t *testing.T) {
	ts := newTestServer(t, map[string]reply{"GET /api/export": ok(exportBody)})

	out, err := runCLI(t, ts, "data", "export", "--format", "yaml")
	if err != nil {
		t.Fatalf("data export: %v", err)
	}
	for _, want := range []string{"timeline:", "title: Assassination of Caesar", "references:", "narrative: Caesar dies."} {
		if !strings.Contains(out, want) {
			t.Errorf("yaml missing %q:\n%s", want, out)
		}
	}
}

func TestDataExport_JSONFile(t *testing.T) {
	ts := newTestServer(t, map[string]reply{"GET /api/export": ok(exportBody)})
	path := filepath.Join(t.TempDir(), "export.json")

	if _, err := runCLI(t, ts, "data", "export", "--output", path); err != nil {
		t.Fatalf("data export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var snap struct {
		Timeline []struct {
			Title string `json:"title"`
		} `json:"timeline"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if len(snap.Timeline) != 1 || snap.Timeline[0].Title != "Assassination of Caesar" {
		t.Errorf("timeline = %+v", snap.Timeline)
	}
}

func TestDataExport_BadFormat(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := runCLI(t, ts, "data", "export", "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("err = %v", err)
	}
	if len(ts.requests) != 0 {
		t.Errorf("sent %d requests for a bad format", len(ts.requests))
	}
}

func TestReadFacts(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	os.WriteFile(txt, []byte("  Marius reforms the legions.\n"), 0o644)

	got, err := readFacts(txt)
	if err != nil || got != "Marius reforms the legions." {
		t.Errorf("readFacts(txt) = %q, %v", got, err)
	}

	if _, err := readFacts(filepath.Join(dir, "notes.docx")); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("readFacts(docx) err = %v", err)
	}
	if _, err := readFacts(filepath.Join(dir, "missing.md")); err == nil {
		t.Error("readFacts(missing) = nil error")
	}
	if _, err := readFacts(filepath.Join(dir, "missing.pdf")); err == nil {
		t.Error("readFacts(missing pdf) = nil error")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNoColorFlag(t *testing.T) {
	prev := noColor
	defer func() { noColor = prev }()

	noColor = true
	if got := colorize(colorRed, "x"); got != "x" {
		t.Errorf("colorize with noColor = %q", got)
	}
	noColor = false
	if got := colorize(colorRed, "x"); got != colorRed+"x"+colorReset {
		t.Errorf("colorize = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a  b\nc", 10); got != "a b c" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("Hannibal", 4); got != "Hann..." {
		t.Errorf("truncate = %q", got)
	}
}
