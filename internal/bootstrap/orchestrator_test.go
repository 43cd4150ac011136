package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pitabwire/fieldform/internal/archive"
	"github.com/pitabwire/fieldform/internal/definition"
	"github.com/pitabwire/fieldform/internal/observability"
	"github.com/pitabwire/fieldform/internal/store"
	"github.com/pitabwire/fieldform/internal/survey"
	"github.com/pitabwire/fieldform/model"
)

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	w := zip.NewWriter(f)
	for name, body := range entries {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(body)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type fakeProcessor struct {
	seen    []string
	results map[string]model.ProcessingResult
	panicOn string
}

func (p *fakeProcessor) ProcessArchive(ctx context.Context, a archive.Archive) model.ProcessingResult {
	name := filepath.Base(a.Name())
	p.seen = append(p.seen, name)
	if rc := model.RunContextFrom(ctx); rc == nil || rc.Archive != name || rc.RunID == "" {
		panic("run context not scoped to archive")
	}
	if name == p.panicOn {
		panic("boom")
	}
	if r, ok := p.results[name]; ok {
		return r
	}
	return model.ResultSuccess
}

type runCounter struct {
	archives []model.ProcessingResult
	runs     []model.ProcessingResult
}

func (c *runCounter) ArchiveProcessed(r model.ProcessingResult) { c.archives = append(c.archives, r) }
func (c *runCounter) RunCompleted(r model.ProcessingResult, _ time.Duration) {
	c.runs = append(c.runs, r)
}

func dropDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		writeZip(t, filepath.Join(dir, n), map[string]string{"1/a.xml": "<survey/>"})
	}
	return dir
}

func assertSeen(t *testing.T, proc *fakeProcessor, want ...string) {
	t.Helper()
	if len(want) == 0 && len(proc.seen) == 0 {
		return
	}
	if !reflect.DeepEqual(proc.seen, want) {
		t.Errorf("processed archives = %v, want %v", proc.seen, want)
	}
}

func assertStoreClosed(t *testing.T, fs *store.MemoryFormStore) {
	t.Helper()
	if fs.IsOpen() {
		t.Error("store must be closed after the run")
	}
}

func TestOrchestrator_Run_noArchives(t *testing.T) {
	tests := []struct {
		name string
		dir  string
	}{
		{"empty dir", t.TempDir()},
		{"missing dir", filepath.Join(t.TempDir(), "absent")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := store.NewMemoryFormStore()
			proc := &fakeProcessor{}
			o := NewOrchestrator(tt.dir, "dep", fs, proc)

			if got := o.Run(context.Background()); got != model.ResultSuccess {
				t.Errorf("Run() = %s, want success", got)
			}
			if fs.OpenCount() != 0 {
				t.Errorf("store opened %d times, want 0", fs.OpenCount())
			}
			assertSeen(t, proc)
		})
	}
}

func TestOrchestrator_Run_sortedAndStopsAtFirstFailure(t *testing.T) {
	dir := dropDir(t, "b.zip", "a.ZIP", "c.zip")
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	writeZip(t, filepath.Join(dir, ".hidden.zip"), map[string]string{"1/a.xml": "<survey/>"})

	fs := store.NewMemoryFormStore()
	proc := &fakeProcessor{results: map[string]model.ProcessingResult{
		"b.zip": model.ResultWrongDeploymentError,
	}}
	counter := &runCounter{}
	o := NewOrchestrator(dir, "dep", fs, proc, WithRunObserver(counter))

	if got := o.Run(context.Background()); got != model.ResultWrongDeploymentError {
		t.Errorf("Run() = %s, want wrong_deployment", got)
	}
	assertSeen(t, proc, "a.ZIP", "b.zip")
	if fs.OpenCount() != 1 {
		t.Errorf("store opened %d times, want 1", fs.OpenCount())
	}
	assertStoreClosed(t, fs)

	wantArchives := []model.ProcessingResult{model.ResultSuccess, model.ResultWrongDeploymentError}
	if !reflect.DeepEqual(counter.archives, wantArchives) {
		t.Errorf("archive results = %v, want %v", counter.archives, wantArchives)
	}
	if !reflect.DeepEqual(counter.runs, []model.ProcessingResult{model.ResultWrongDeploymentError}) {
		t.Errorf("run results = %v, want [wrong_deployment]", counter.runs)
	}
}

func TestOrchestrator_Run_recoversPanic(t *testing.T) {
	dir := dropDir(t, "a.zip", "b.zip")
	fs := store.NewMemoryFormStore()
	proc := &fakeProcessor{panicOn: "a.zip"}
	o := NewOrchestrator(dir, "dep", fs, proc)

	if got := o.Run(context.Background()); got != model.ResultRecoverableError {
		t.Errorf("Run() = %s, want recoverable_error", got)
	}
	assertSeen(t, proc, "a.zip")
	assertStoreClosed(t, fs)
}

func TestOrchestrator_Run_corruptArchive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.zip"), "not a zip")
	fs := store.NewMemoryFormStore()
	proc := &fakeProcessor{}
	o := NewOrchestrator(dir, "dep", fs, proc)

	if got := o.Run(context.Background()); got != model.ResultRecoverableError {
		t.Errorf("Run() = %s, want recoverable_error", got)
	}
	assertSeen(t, proc)
	assertStoreClosed(t, fs)
}

func TestOrchestrator_Run_markProcessed(t *testing.T) {
	dir := dropDir(t, "a.zip", "b.zip")
	fs := store.NewMemoryFormStore()
	proc := &fakeProcessor{results: map[string]model.ProcessingResult{
		"b.zip": model.ResultRecoverableError,
	}}
	o := NewOrchestrator(dir, "dep", fs, proc, WithMarkProcessed(true))

	if got := o.Run(context.Background()); got != model.ResultRecoverableError {
		t.Errorf("Run() = %s, want recoverable_error", got)
	}
	for _, name := range []string{"a.zip" + ProcessedSuffix, "b.zip" + ErrorSuffix} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	remaining, err := ListArchives(dir)
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("marked archives are picked up again: %v", remaining)
	}
}

func TestOrchestrator_Run_cancelled(t *testing.T) {
	dir := dropDir(t, "a.zip")
	fs := store.NewMemoryFormStore()
	proc := &fakeProcessor{}
	o := NewOrchestrator(dir, "dep", fs, proc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := o.Run(ctx); got != model.ResultRecoverableError {
		t.Errorf("Run() = %s, want recoverable_error", got)
	}
	assertSeen(t, proc)
	assertStoreClosed(t, fs)
}

func TestOrchestrator_Run_guardHeld(t *testing.T) {
	ctx := context.Background()
	dir := dropDir(t, "a.zip")
	guard := NewMemoryRunGuard()
	if ok, err := guard.Acquire(ctx, "other-run", time.Minute); err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v", ok, err)
	}

	fs := store.NewMemoryFormStore()
	proc := &fakeProcessor{}
	o := NewOrchestrator(dir, "dep", fs, proc, WithRunGuard(guard, time.Minute))

	if got := o.Run(ctx); got != model.ResultRecoverableError {
		t.Errorf("Run() with guard held = %s, want recoverable_error", got)
	}
	if fs.OpenCount() != 0 {
		t.Errorf("store opened %d times while guard held", fs.OpenCount())
	}

	if err := guard.Release(ctx, "other-run"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got := o.Run(ctx); got != model.ResultSuccess {
		t.Errorf("Run() after release = %s, want success", got)
	}
	assertSeen(t, proc, "a.zip")

	ok, err := guard.Acquire(ctx, "next-run", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !ok {
		t.Error("run must release the guard")
	}
}

const smallDefinition = `<?xml version="1.0" encoding="UTF-8"?>
<survey name="Small" version="2" surveyId="500" surveyGroupId="9" app="dep">
  <questionGroup><heading>G</heading>
    <question id="q1" type="free"><text>Q</text></question>
  </questionGroup>
</survey>`

func TestOrchestrator_Run_spanTree(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	dir := t.TempDir()
	writeZip(t, filepath.Join(dir, "forms.zip"), map[string]string{
		"500/small.xml": smallDefinition,
		"README.txt":    "read me",
	})

	fs := store.NewMemoryFormStore()
	installer := archive.NewFormInstaller(t.TempDir(), definition.NewParser(), survey.NewMapper(survey.Deployment{Identity: "dep"}), fs)
	router := archive.NewRouter(archive.NewResourceDir(t.TempDir(), nil), installer)
	o := NewOrchestrator(dir, "dep", fs, router)

	if got := o.Run(context.Background()); got != model.ResultSuccess {
		t.Fatalf("Run() = %s, want success", got)
	}

	spans := exporter.GetSpans()
	var run, arc tracetest.SpanStub
	var entries []tracetest.SpanStub
	for _, s := range spans {
		switch s.Name {
		case observability.SpanRun:
			run = s
		case observability.SpanArchive:
			arc = s
		case observability.SpanEntry:
			entries = append(entries, s)
		default:
			t.Errorf("unexpected span %q", s.Name)
		}
	}
	if !run.SpanContext.IsValid() || !arc.SpanContext.IsValid() {
		t.Fatalf("missing run or archive span in %d spans", len(spans))
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entry spans, want 2", len(entries))
	}

	if run.Parent.IsValid() {
		t.Error("run span should be a root span")
	}
	runAttrs := spanAttrs(run)
	if runAttrs["fieldform.run_id"] == "" {
		t.Error("run span should carry a run ID")
	}
	if runAttrs["fieldform.deployment"] != "dep" || runAttrs["fieldform.result"] != "success" {
		t.Errorf("run span attributes = %v", runAttrs)
	}

	if arc.Parent.SpanID() != run.SpanContext.SpanID() {
		t.Error("archive span should be a child of the run span")
	}
	arcAttrs := spanAttrs(arc)
	if arcAttrs["fieldform.archive"] != "forms.zip" || arcAttrs["fieldform.result"] != "success" {
		t.Errorf("archive span attributes = %v", arcAttrs)
	}

	kinds := map[string]map[string]string{}
	for _, e := range entries {
		if e.Parent.SpanID() != arc.SpanContext.SpanID() {
			t.Errorf("entry span should be a child of the archive span")
		}
		if e.SpanContext.TraceID() != run.SpanContext.TraceID() {
			t.Errorf("entry span left the run trace")
		}
		attrs := spanAttrs(e)
		kinds[attrs["fieldform.entry_kind"]] = attrs
	}
	def, ok := kinds[archive.KindDefinition]
	if !ok {
		t.Fatalf("no definition entry span in %v", kinds)
	}
	if def["fieldform.form_id"] != "500" || def["fieldform.result"] != "success" {
		t.Errorf("definition entry attributes = %v", def)
	}
	if skipped, ok := kinds[archive.KindSkipped]; !ok || skipped["fieldform.form_id"] != "" {
		t.Errorf("skipped entry attributes = %v", skipped)
	}
}

func TestOrchestrator_Run_failedArchiveSpanStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	dir := dropDir(t, "a.zip")
	proc := &fakeProcessor{results: map[string]model.ProcessingResult{
		"a.zip": model.ResultWrongDeploymentError,
	}}
	NewOrchestrator(dir, "dep", store.NewMemoryFormStore(), proc).Run(context.Background())

	for _, s := range exporter.GetSpans() {
		if s.Status.Code != codes.Error || s.Status.Description != "wrong_deployment" {
			t.Errorf("%s status = %v %q, want error wrong_deployment", s.Name, s.Status.Code, s.Status.Description)
		}
	}
	if n := len(exporter.GetSpans()); n != 2 {
		t.Errorf("got %d spans, want run and archive", n)
	}
}

func spanAttrs(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string, len(s.Attributes))
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

func TestListArchives(t *testing.T) {
	dir := dropDir(t, "b.zip", "A.Zip", "c.zip.processed")
	if err := os.Mkdir(filepath.Join(dir, "d.zip"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListArchives(dir)
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	want := []string{filepath.Join(dir, "A.Zip"), filepath.Join(dir, "b.zip")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListArchives() = %v, want %v", got, want)
	}
}
