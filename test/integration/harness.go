// Package integration provides a reusable test harness for end-to-end
// testing of the fieldform bootstrap service. It wires the full archive
// pipeline over temporary directories with a sqlite form store and serves the
// operations router from an httptest server.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldform/internal/archive"
	"github.com/pitabwire/fieldform/internal/bootstrap"
	"github.com/pitabwire/fieldform/internal/definition"
	"github.com/pitabwire/fieldform/internal/observability"
	"github.com/pitabwire/fieldform/internal/store"
	"github.com/pitabwire/fieldform/internal/survey"
	"github.com/pitabwire/fieldform/internal/transport"
	"github.com/pitabwire/fieldform/model"
)

// DefaultDeployment is the identity the harness accepts unless overridden.
const DefaultDeployment = "flowaglimmerofhope"

// TestHarness encapsulates a fully wired bootstrap service.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	DropDir      string
	FormsDir     string
	ResourcesDir string

	// Internal components exposed for advanced test scenarios.
	Store        *store.SQLiteFormStore
	Cache        *definition.FormCache
	Orchestrator *bootstrap.Orchestrator
	Scheduler    *bootstrap.Scheduler
	Metrics      *observability.Metrics
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	deployment    survey.Deployment
	markProcessed bool
	strict        bool
}

// WithDeployment replaces the accepted deployment identity.
func WithDeployment(identity string) HarnessOption {
	return func(c *harnessConfig) {
		c.deployment = survey.Deployment{Identity: identity}
	}
}

// WithMarkProcessed renames archives after they are processed.
func WithMarkProcessed() HarnessOption {
	return func(c *harnessConfig) {
		c.markProcessed = true
	}
}

// WithStrictParsing makes degraded definition parses fail the entry.
func WithStrictParsing() HarnessOption {
	return func(c *harnessConfig) {
		c.strict = true
	}
}

// NewTestHarness wires the service over fresh temporary directories.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{deployment: survey.Deployment{Identity: DefaultDeployment}}
	for _, opt := range opts {
		opt(hc)
	}

	root := t.TempDir()
	h := &TestHarness{
		t:            t,
		DropDir:      filepath.Join(root, "akvoflow", "inbox"),
		FormsDir:     filepath.Join(root, "forms"),
		ResourcesDir: filepath.Join(root, "res"),
	}
	if err := os.MkdirAll(h.DropDir, 0o755); err != nil {
		t.Fatalf("create drop dir: %v", err)
	}

	logger := zap.NewNop()
	h.Metrics = observability.InitMetrics(prometheus.NewRegistry())
	h.Store = store.NewSQLiteFormStore(filepath.Join(root, "fieldform.sqlite"))

	parserOpts := []definition.ParserOption{definition.WithObserver(h.Metrics)}
	if hc.strict {
		parserOpts = append(parserOpts, definition.WithPolicy(definition.Strict))
	}
	parser := definition.NewParser(parserOpts...)

	cache, err := definition.NewFormCache(definition.NewLoader(parser), 16, h.Metrics)
	if err != nil {
		t.Fatalf("create form cache: %v", err)
	}
	h.Cache = cache

	installer := archive.NewFormInstaller(h.FormsDir, parser, survey.NewMapper(hc.deployment), h.Store,
		archive.WithFormCache(cache),
	)
	router := archive.NewRouter(archive.NewResourceDir(h.ResourcesDir, logger), installer,
		archive.WithEntryObserver(h.Metrics),
	)
	h.Orchestrator = bootstrap.NewOrchestrator(h.DropDir, hc.deployment.Identity, h.Store, router,
		bootstrap.WithRunGuard(bootstrap.NewMemoryRunGuard(), bootstrap.DefaultLeaseTTL),
		bootstrap.WithMarkProcessed(hc.markProcessed),
		bootstrap.WithRunObserver(h.Metrics),
	)
	h.Scheduler = bootstrap.NewScheduler(h.Orchestrator, 0, logger)

	ops := transport.NewRouter(transport.Dependencies{
		Logger:        logger,
		Bootstrap:     h.Scheduler,
		Forms:         definition.NewCatalog(h.FormsDir, cache),
		HealthHandler: observability.HandleHealth(),
		ReadyHandler: observability.HandleReady(observability.ReadinessChecks{
			DropDir: func() error {
				_, err := bootstrap.ListArchives(h.DropDir)
				return err
			},
		}),
	})
	h.server = httptest.NewServer(ops)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the base URL of the operations server.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// ZipFile is one entry of an archive built by Drop.
type ZipFile struct {
	Name string
	Body []byte
}

// ZipBytes builds a zip archive in memory.
func ZipBytes(t *testing.T, files ...ZipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f.Name)
		if err != nil {
			t.Fatalf("create %s: %v", f.Name, err)
		}
		if _, err := fw.Write(f.Body); err != nil {
			t.Fatalf("write %s: %v", f.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// Drop writes an archive holding files into the drop directory.
func (h *TestHarness) Drop(name string, files ...ZipFile) string {
	h.t.Helper()
	path := filepath.Join(h.DropDir, name)
	if err := os.WriteFile(path, ZipBytes(h.t, files...), 0o644); err != nil {
		h.t.Fatalf("write archive %s: %v", name, err)
	}
	return path
}

// Run performs one bootstrap run synchronously.
func (h *TestHarness) Run() model.ProcessingResult {
	return h.Orchestrator.Run(context.Background())
}

// Forms returns the forms recorded in the store.
func (h *TestHarness) Forms() []model.Form {
	h.t.Helper()
	ctx := context.Background()
	if err := h.Store.Open(ctx); err != nil {
		h.t.Fatalf("open store: %v", err)
	}
	defer h.Store.Close()

	forms, err := h.Store.ListForms(ctx)
	if err != nil {
		h.t.Fatalf("list forms: %v", err)
	}
	return forms
}

// GET issues a GET request against the operations server.
func (h *TestHarness) GET(path string) *http.Response {
	return h.do(http.MethodGet, path)
}

// POST issues a bodiless POST request against the operations server.
func (h *TestHarness) POST(path string) *http.Response {
	return h.do(http.MethodPost, path)
}

func (h *TestHarness) do(method, path string) *http.Response {
	h.t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, nil)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	resp, err := h.server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// ParseJSON decodes the response body into target and closes it.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
}

// ReadBody reads and closes the response body.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read body: %v", err)
	}
	return b
}

// AssertStatus fails the test if resp does not carry the expected status.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body := h.ReadBody(resp)
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}
