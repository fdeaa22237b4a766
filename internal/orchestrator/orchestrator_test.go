package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threatline/threatline/internal/analysis"
	"github.com/threatline/threatline/internal/mitre"
)

// fakeStorage keeps uploads and persisted results in memory.
type fakeStorage struct {
	mu      sync.Mutex
	files   map[string]map[string][]byte // uploadID -> name -> content
	saved   map[string][]byte            // analysisID/resultType -> JSON
	listErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		files: make(map[string]map[string][]byte),
		saved: make(map[string][]byte),
	}
}

func (s *fakeStorage) addFile(uploadID, name string, content []byte) {
	if s.files[uploadID] == nil {
		s.files[uploadID] = make(map[string][]byte)
	}
	s.files[uploadID][name] = content
}

func (s *fakeStorage) ListFiles(_ context.Context, uploadID string) ([]FileInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []FileInfo
	for name, content := range s.files[uploadID] {
		out = append(out, FileInfo{Name: name, Size: int64(len(content))})
	}
	return out, nil
}

func (s *fakeStorage) Open(_ context.Context, uploadID, name string) (io.ReadCloser, error) {
	content, ok := s.files[uploadID][name]
	if !ok {
		return nil, fmt.Errorf("no such file %s", name)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *fakeStorage) SaveResult(_ context.Context, analysisID uuid.UUID, resultType string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[analysisID.String()+"/"+resultType] = b
	return nil
}

func (s *fakeStorage) LoadResult(_ context.Context, analysisID uuid.UUID, resultType string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.saved[analysisID.String()+"/"+resultType]
	if !ok {
		return fmt.Errorf("no saved result %s", resultType)
	}
	return json.Unmarshal(b, v)
}

func (s *fakeStorage) DeleteResult(_ context.Context, analysisID uuid.UUID, resultType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, analysisID.String()+"/"+resultType)
	return nil
}

func (s *fakeStorage) DeleteWorkdir(_ context.Context, uploadID string) error {
	delete(s.files, uploadID)
	return nil
}

func (s *fakeStorage) savedAnalysis(t *testing.T, id uuid.UUID) *analysis.Analysis {
	t.Helper()
	var a analysis.Analysis
	if err := s.LoadResult(context.Background(), id, "analysis", &a); err != nil {
		t.Fatalf("load persisted analysis: %v", err)
	}
	return &a
}

func (s *fakeStorage) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// fakeParser accepts everything and returns canned events.
type fakeParser struct {
	id     string
	events []analysis.LogEvent
	fail   string // non-empty means ParseResult{OK: false}
}

func (p *fakeParser) ID() string                  { return p.id }
func (p *fakeParser) Matches(string, []byte) bool { return true }

func (p *fakeParser) Parse(_ context.Context, _ []byte) analysis.ParseResult {
	if p.fail != "" {
		return analysis.ParseResult{OK: false, ErrorMessage: p.fail}
	}
	return analysis.ParseResult{Events: p.events, OK: true}
}

// fakeResolver returns its parser, or nothing when empty.
type fakeResolver struct {
	parser Parser
}

func (r *fakeResolver) Resolve(string, []byte, string) (Parser, bool) {
	if r.parser == nil {
		return nil, false
	}
	return r.parser, true
}

// fakeEngine returns canned matches. cancelOn makes it cancel the run
// from inside Match, simulating a cancel request mid-pipeline.
type fakeEngine struct {
	matches  []analysis.RuleMatchResult
	err      error
	cancelOn func()
}

func (e *fakeEngine) Match(ctx context.Context, _ []analysis.LogEvent, _ []byte) ([]analysis.RuleMatchResult, error) {
	if e.cancelOn != nil {
		e.cancelOn()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.matches, nil
}

// recordingNotifier captures progress and completion callbacks.
type recordingNotifier struct {
	mu          sync.Mutex
	progress    []int
	completions []analysis.Completion
}

func (n *recordingNotifier) Progress(_ uuid.UUID, percent int, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, percent)
}

func (n *recordingNotifier) Completed(c analysis.Completion) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completions = append(n.completions, c)
}

func (n *recordingNotifier) lastCompletion(t *testing.T) analysis.Completion {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.completions) == 0 {
		t.Fatal("expected a completion notification")
	}
	return n.completions[len(n.completions)-1]
}

func testEvents(n int) []analysis.LogEvent {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	events := make([]analysis.LogEvent, n)
	for i := range events {
		events[i] = analysis.LogEvent{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Level:      "info",
			Source:     "sshd",
			Message:    fmt.Sprintf("event %d", i),
			LineNumber: i + 1,
		}
	}
	return events
}

func testMatch(severity analysis.Severity, count int, confidence float64) analysis.RuleMatchResult {
	ts := time.Date(2026, 3, 10, 8, 5, 0, 0, time.UTC)
	details := make([]analysis.MatchDetail, count)
	for i := range details {
		details[i] = analysis.MatchDetail{
			Content:    fmt.Sprintf("match line %d", i),
			LineNumber: i + 1,
			Timestamp:  &ts,
			Confidence: confidence,
		}
	}
	return analysis.RuleMatchResult{
		RuleID:     "rule-1",
		RuleName:   "Test Rule",
		RuleType:   "sigma",
		Severity:   severity,
		MatchCount: count,
		Confidence: confidence,
		Matches:    details,
		Techniques: []string{"T1110.001"},
	}
}

type fixture struct {
	store    *fakeStorage
	notifier *recordingNotifier
	engine   *fakeEngine
	resolver *fakeResolver
	orch     *Orchestrator
}

func newFixture() *fixture {
	store := newFakeStorage()
	store.addFile("up-1", "auth.log", []byte("Mar 10 08:00:01 host sshd[10]: Failed password\n"))
	notifier := &recordingNotifier{}
	engine := &fakeEngine{matches: []analysis.RuleMatchResult{testMatch(analysis.SeverityHigh, 2, 0.9)}}
	resolver := &fakeResolver{parser: &fakeParser{id: "fake", events: testEvents(3)}}
	orch := New(store, resolver, engine, notifier, mitre.Builtin(), zap.NewNop())
	return &fixture{store: store, notifier: notifier, engine: engine, resolver: resolver, orch: orch}
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture()

	a, err := f.orch.Run(context.Background(), "up-1", DefaultOptions())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if a.Status != analysis.StatusCompleted {
		t.Errorf("status = %s, want completed", a.Status)
	}
	if a.Progress != 100 {
		t.Errorf("progress = %d, want 100", a.Progress)
	}
	if a.FileName != "auth.log" {
		t.Errorf("file name = %s", a.FileName)
	}
	if a.FileType != "log" {
		t.Errorf("file type = %s", a.FileType)
	}
	if len(a.SHA256) != 64 {
		t.Errorf("sha256 length = %d", len(a.SHA256))
	}
	// One high match, 2 occurrences at 0.9: 75*2*0.9 / 2 = 67.
	if a.ThreatScore != 67 {
		t.Errorf("threat score = %d, want 67", a.ThreatScore)
	}
	if a.Severity != analysis.SeverityHigh {
		t.Errorf("severity = %s, want high", a.Severity)
	}
	if a.Statistics.EventCount != 3 || a.Statistics.MatchCount != 1 {
		t.Errorf("statistics = %+v", a.Statistics)
	}
	if a.MITRE == nil || len(a.MITRE.Techniques) == 0 {
		t.Error("expected MITRE result")
	}
	if a.Timeline == nil || a.Timeline.Stats.TotalEvents != 5 {
		t.Errorf("expected 5 timeline events (3 log + 2 match details), got %+v", a.Timeline)
	}
	if a.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if !strings.Contains(a.Summary, "auth.log") {
		t.Errorf("summary missing file name: %q", a.Summary)
	}

	persisted := f.store.savedAnalysis(t, a.ID)
	if persisted.Status != analysis.StatusCompleted {
		t.Errorf("persisted status = %s", persisted.Status)
	}

	c := f.notifier.lastCompletion(t)
	if c.Status != analysis.StatusCompleted || c.ThreatScore != 67 {
		t.Errorf("completion = %+v", c)
	}
}

func TestRunProgressSequence(t *testing.T) {
	f := newFixture()

	if _, err := f.orch.Run(context.Background(), "up-1", DefaultOptions()); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	want := []int{5, 15, 35, 55, 65, 75, 85, 95, 100}
	f.notifier.mu.Lock()
	got := f.notifier.progress
	f.notifier.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("progress sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("progress[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRunMissingUploadPersistsNothing(t *testing.T) {
	f := newFixture()

	a, err := f.orch.Run(context.Background(), "does-not-exist", DefaultOptions())
	if a != nil {
		t.Errorf("expected nil analysis, got %+v", a)
	}
	if analysis.KindOf(err) != analysis.KindNotFound {
		t.Errorf("error kind = %v, want NotFound", analysis.KindOf(err))
	}
	if f.store.savedCount() != 0 {
		t.Errorf("expected nothing persisted, got %d results", f.store.savedCount())
	}
}

func TestRunUnsupportedFormat(t *testing.T) {
	f := newFixture()
	f.resolver.parser = nil

	a, err := f.orch.Run(context.Background(), "up-1", DefaultOptions())
	if analysis.KindOf(err) != analysis.KindUnsupportedFormat {
		t.Fatalf("error kind = %v, want UnsupportedFormat", analysis.KindOf(err))
	}
	if a == nil {
		t.Fatal("expected a failed record")
	}
	if a.Status != analysis.StatusFailed {
		t.Errorf("status = %s, want failed", a.Status)
	}
	if a.ErrorMessage == "" {
		t.Error("error message not set")
	}
	// The failure must still be persisted.
	persisted := f.store.savedAnalysis(t, a.ID)
	if persisted.Status != analysis.StatusFailed {
		t.Errorf("persisted status = %s", persisted.Status)
	}
}

func TestRunParseFailure(t *testing.T) {
	f := newFixture()
	f.resolver.parser = &fakeParser{id: "fake", fail: "no events decoded"}

	a, err := f.orch.Run(context.Background(), "up-1", DefaultOptions())
	if analysis.KindOf(err) != analysis.KindParseFailure {
		t.Fatalf("error kind = %v, want ParseFailure", analysis.KindOf(err))
	}
	if a.Status != analysis.StatusFailed {
		t.Errorf("status = %s", a.Status)
	}
	if !strings.Contains(a.ErrorMessage, "no events decoded") {
		t.Errorf("error message = %q", a.ErrorMessage)
	}
}

func TestRunRuleEngineFailure(t *testing.T) {
	f := newFixture()
	f.engine.matches = nil
	f.engine.err = fmt.Errorf("evaluator blew up")

	a, err := f.orch.Run(context.Background(), "up-1", DefaultOptions())
	if analysis.KindOf(err) != analysis.KindRuleEngineFailure {
		t.Fatalf("error kind = %v, want RuleEngineFailure", analysis.KindOf(err))
	}
	if a.Status != analysis.StatusFailed {
		t.Errorf("status = %s", a.Status)
	}
	if f.store.savedCount() == 0 {
		t.Error("failed record not persisted")
	}
}

func TestRunCancelMidPipeline(t *testing.T) {
	f := newFixture()
	opts := DefaultOptions()
	opts.AnalysisID = uuid.New()
	f.engine.cancelOn = func() {
		if err := f.orch.Cancel(opts.AnalysisID); err != nil {
			t.Errorf("Cancel: %v", err)
		}
	}

	a, err := f.orch.Run(context.Background(), "up-1", opts)
	if !analysis.IsCancelled(err) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if a.Status != analysis.StatusCancelled {
		t.Errorf("status = %s, want cancelled", a.Status)
	}
	// Cancellation before rule results: no matches, no summary.
	if len(a.RuleMatches) != 0 {
		t.Errorf("rule matches = %d, want 0", len(a.RuleMatches))
	}
	if a.Summary != "" {
		t.Errorf("summary = %q, want empty", a.Summary)
	}
	if a.Timeline != nil {
		t.Error("timeline should not be built after cancel")
	}
	persisted := f.store.savedAnalysis(t, a.ID)
	if persisted.Status != analysis.StatusCancelled {
		t.Errorf("persisted status = %s", persisted.Status)
	}
	c := f.notifier.lastCompletion(t)
	if c.Status != analysis.StatusCancelled {
		t.Errorf("completion status = %s", c.Status)
	}
}

func TestRunCancelledParentContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// ListFiles succeeds on the fake, so the run reaches the first
	// cancellation checkpoint and finalizes as cancelled.
	a, err := f.orch.Run(ctx, "up-1", DefaultOptions())
	if !analysis.IsCancelled(err) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if a == nil || a.Status != analysis.StatusCancelled {
		t.Fatalf("analysis = %+v", a)
	}
}

func TestRunPhaseToggles(t *testing.T) {
	f := newFixture()
	opts := Options{EnableMITRE: false, EnableTimeline: false}

	a, err := f.orch.Run(context.Background(), "up-1", opts)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if a.MITRE != nil {
		t.Error("MITRE phase should be skipped")
	}
	if a.Timeline != nil {
		t.Error("timeline phase should be skipped")
	}
	if a.Status != analysis.StatusCompleted {
		t.Errorf("status = %s", a.Status)
	}
	if a.ThreatScore != 67 {
		t.Errorf("threat score = %d", a.ThreatScore)
	}
}

func TestRunPreassignedID(t *testing.T) {
	f := newFixture()
	opts := DefaultOptions()
	opts.AnalysisID = uuid.New()

	a, err := f.orch.Run(context.Background(), "up-1", opts)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if a.ID != opts.AnalysisID {
		t.Errorf("analysis id = %s, want %s", a.ID, opts.AnalysisID)
	}
}

func TestStatusWhileNotRunning(t *testing.T) {
	f := newFixture()
	if _, ok := f.orch.Status(uuid.New()); ok {
		t.Error("expected no status for unknown id")
	}
	if err := f.orch.Cancel(uuid.New()); analysis.KindOf(err) != analysis.KindNotFound {
		t.Errorf("Cancel error kind = %v, want NotFound", analysis.KindOf(err))
	}
}

func TestRegisterVisibleBeforeRun(t *testing.T) {
	f := newFixture()
	id := uuid.New()
	f.orch.Register(id, "up-1")

	// Status and Cancel resolve the id before its Run call starts.
	status, ok := f.orch.Status(id)
	if !ok {
		t.Fatal("expected status for registered id")
	}
	if status.Status != analysis.StatusPending || status.UploadID != "up-1" {
		t.Errorf("status = %+v, want pending up-1", status)
	}
	if err := f.orch.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// A cancel before start is honored when the run begins.
	opts := DefaultOptions()
	opts.AnalysisID = id
	a, err := f.orch.Run(context.Background(), "up-1", opts)
	if !analysis.IsCancelled(err) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if a.Status != analysis.StatusCancelled {
		t.Errorf("status = %s, want cancelled", a.Status)
	}
	if _, ok := f.orch.Status(id); ok {
		t.Error("expected id untracked after run")
	}
}

func TestPrimaryFileOrder(t *testing.T) {
	files := []FileInfo{{Name: "b.log"}, {Name: "a.log"}, {Name: "c.log"}}
	if got := primaryFile(files); got.Name != "a.log" {
		t.Errorf("primary file = %s, want a.log", got.Name)
	}
}

func TestFileType(t *testing.T) {
	cases := []struct{ name, want string }{
		{"auth.log", "log"},
		{"events.JSONL", "jsonl"},
		{"noext", "log"},
	}
	for _, c := range cases {
		if got := fileType(c.name); got != c.want {
			t.Errorf("fileType(%s) = %s, want %s", c.name, got, c.want)
		}
	}
}
