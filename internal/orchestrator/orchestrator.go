// Package orchestrator sequences the analysis pipeline for one uploaded
// evidence artifact: resolve → hash → parse → match → score → map → timeline
// → summarize → persist.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threatline/threatline/internal/analysis"
	"github.com/threatline/threatline/internal/mitre"
	"github.com/threatline/threatline/internal/score"
	"github.com/threatline/threatline/internal/timeline"
)

// Progress percentages reported before each step.
const (
	progressResolve  = 5
	progressHash     = 15
	progressParse    = 35
	progressRules    = 55
	progressScore    = 65
	progressMITRE    = 75
	progressTimeline = 85
	progressSummary  = 95
	progressDone     = 100
)

// Options selects optional phases and a preferred parser for one run.
type Options struct {
	AnalysisID      uuid.UUID // optional; zero means generate
	PreferredParser string
	EnableMITRE     bool
	EnableTimeline  bool
}

// DefaultOptions enables every phase.
func DefaultOptions() Options {
	return Options{EnableMITRE: true, EnableTimeline: true}
}

// RunStatus is a safe snapshot of an in-flight run.
type RunStatus struct {
	ID       uuid.UUID       `json:"id"`
	UploadID string          `json:"upload_id"`
	Status   analysis.Status `json:"status"`
	Progress int             `json:"progress"`
}

// run tracks one in-flight analysis. cancel is nil until Run starts; a
// cancel requested before then is remembered and applied at start.
type run struct {
	cancel    context.CancelFunc
	cancelled bool
	snapshot  RunStatus
}

// Orchestrator composes the three algorithmic components with the
// external collaborators. Runs are independent; concurrent Run calls
// share only the rule engine's loaded rule set and the MITRE reference
// table, both read-only snapshots.
type Orchestrator struct {
	storage  Storage
	parsers  ParserResolver
	engine   RuleEngine
	notifier ProgressNotifier
	mapper   *mitre.Mapper
	builder  *timeline.Builder
	log      *zap.Logger

	mu      sync.Mutex
	running map[uuid.UUID]*run
}

// New creates an Orchestrator wired to its collaborators.
func New(storage Storage, parsers ParserResolver, engine RuleEngine, notifier ProgressNotifier, ref mitre.ReferenceData, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		storage:  storage,
		parsers:  parsers,
		engine:   engine,
		notifier: notifier,
		mapper:   mitre.NewMapper(ref),
		builder:  timeline.NewBuilder(),
		log:      log,
		running:  make(map[uuid.UUID]*run),
	}
}

// Run executes the full pipeline for one upload id. On any failure after
// the upload resolves, the returned Analysis is a well-formed, persisted
// record with status failed; only a missing upload yields no record at
// all. Cancellation finalizes the record as cancelled without a summary.
func (o *Orchestrator) Run(ctx context.Context, uploadID string, opts Options) (*analysis.Analysis, error) {
	a := analysis.New(uploadID)
	if opts.AnalysisID != uuid.Nil {
		a.ID = opts.AnalysisID
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.track(a, cancel)
	defer o.untrack(a.ID)

	o.log.Info("analysis started",
		zap.String("analysis_id", a.ID.String()),
		zap.String("upload_id", uploadID))

	// Step 1: resolve the uploaded evidence file. A missing upload is the
	// one failure that persists nothing.
	o.step(a, progressResolve, "resolving uploaded files")
	files, err := o.storage.ListFiles(ctx, uploadID)
	if err != nil {
		return nil, analysis.WrapError(analysis.KindNotFound, fmt.Sprintf("list files for upload %s", uploadID), err)
	}
	if len(files) == 0 {
		return nil, analysis.NewError(analysis.KindNotFound, fmt.Sprintf("no uploaded files for %s", uploadID))
	}

	if err := a.Begin(); err != nil {
		return nil, analysis.WrapError(analysis.KindInternal, "begin analysis", err)
	}

	// Step 2: read bytes and fingerprint the artifact.
	o.step(a, progressHash, "hashing evidence file")
	file := primaryFile(files)
	content, err := o.readFile(ctx, uploadID, file.Name)
	if err != nil {
		return o.fail(a, analysis.KindInternal, fmt.Sprintf("read %s: %v", file.Name, err), err)
	}
	sum := sha256.Sum256(content)
	a.FileName = file.Name
	a.FileSize = int64(len(content))
	a.FileType = fileType(file.Name)
	a.SHA256 = hex.EncodeToString(sum[:])

	if cancelled := o.checkCancel(ctx, a); cancelled != nil {
		return a, cancelled
	}

	// Step 3: resolve a parser.
	o.step(a, progressParse, "parsing log events")
	parser, ok := o.parsers.Resolve(file.Name, content, opts.PreferredParser)
	if !ok {
		return o.fail(a, analysis.KindUnsupportedFormat, fmt.Sprintf("no parser matched %s", file.Name), nil)
	}

	// Step 4: parse. Parser-reported failure stops the pipeline.
	res := parser.Parse(ctx, content)
	if !res.OK {
		return o.fail(a, analysis.KindParseFailure, res.ErrorMessage, nil)
	}
	events := res.Events
	a.Statistics.EventCount = len(events)

	if cancelled := o.checkCancel(ctx, a); cancelled != nil {
		return a, cancelled
	}

	// Step 5: run the detection rules.
	o.step(a, progressRules, "matching detection rules")
	matches, err := o.engine.Match(ctx, events, content)
	if err != nil {
		if ctx.Err() != nil {
			return a, o.finalizeCancelled(a)
		}
		return o.fail(a, analysis.KindRuleEngineFailure, fmt.Sprintf("rule engine: %v", err), err)
	}
	a.RuleMatches = matches
	a.Statistics.MatchCount = len(matches)
	a.Statistics.SeverityCounts = severityCounts(matches)

	if cancelled := o.checkCancel(ctx, a); cancelled != nil {
		return a, cancelled
	}

	// Step 6: aggregate the threat score.
	o.step(a, progressScore, "aggregating threat score")
	a.ThreatScore, a.Severity = score.Aggregate(matches)

	// Step 7: MITRE mapping (optional).
	if opts.EnableMITRE {
		o.step(a, progressMITRE, "mapping MITRE techniques")
		mapped, err := o.mapper.Map(ctx, matches)
		if err != nil {
			if analysis.IsCancelled(err) {
				return a, o.finalizeCancelled(a)
			}
			return o.fail(a, analysis.KindInternal, fmt.Sprintf("mitre mapping: %v", err), err)
		}
		a.MITRE = mapped
	}

	// Step 8: timeline (optional).
	if opts.EnableTimeline {
		o.step(a, progressTimeline, "building timeline")
		built, err := o.builder.Build(ctx, events, matches)
		if err != nil {
			if analysis.IsCancelled(err) {
				return a, o.finalizeCancelled(a)
			}
			return o.fail(a, analysis.KindInternal, fmt.Sprintf("timeline: %v", err), err)
		}
		a.Timeline = built
	}

	if cancelled := o.checkCancel(ctx, a); cancelled != nil {
		return a, cancelled
	}

	// Step 9: human-readable summary.
	o.step(a, progressSummary, "generating summary")
	a.Summary = buildSummary(a)

	// Step 10: finalize, persist, notify.
	if err := a.Complete(); err != nil {
		return o.fail(a, analysis.KindInternal, fmt.Sprintf("complete: %v", err), err)
	}
	o.persist(a)
	o.step(a, progressDone, "analysis complete")
	o.notifier.Completed(completionOf(a))

	o.log.Info("analysis completed",
		zap.String("analysis_id", a.ID.String()),
		zap.Int("threat_score", a.ThreatScore),
		zap.String("severity", string(a.Severity)),
		zap.Int("matches", len(a.RuleMatches)))
	return a, nil
}

// Cancel requests cooperative cancellation of a pending or processing
// run. Already-persisted partial state is not undone.
func (o *Orchestrator) Cancel(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.running[id]
	if !ok {
		return analysis.NewError(analysis.KindNotFound, fmt.Sprintf("no running analysis %s", id))
	}
	r.cancelled = true
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Register makes an analysis id visible to Status and Cancel before its
// Run call starts, closing the gap between handing out an id and the run
// goroutine tracking it. Run adopts the entry when it begins.
func (o *Orchestrator) Register(id uuid.UUID, uploadID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[id]; ok {
		return
	}
	o.running[id] = &run{
		snapshot: RunStatus{ID: id, UploadID: uploadID, Status: analysis.StatusPending},
	}
}

// Status returns a snapshot of an in-flight run.
func (o *Orchestrator) Status(id uuid.UUID) (RunStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.running[id]
	if !ok {
		return RunStatus{}, false
	}
	return r.snapshot, true
}

func (o *Orchestrator) track(a *analysis.Analysis, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.running[a.ID]
	if !ok {
		r = &run{}
		o.running[a.ID] = r
	}
	r.cancel = cancel
	r.snapshot = RunStatus{
		ID:       a.ID,
		UploadID: a.UploadID,
		Status:   a.Status,
		Progress: a.Progress,
	}
	if r.cancelled {
		cancel()
	}
}

func (o *Orchestrator) untrack(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, id)
}

// step records progress on the aggregate and pushes a notification.
func (o *Orchestrator) step(a *analysis.Analysis, percent int, message string) {
	a.Progress = percent
	o.mu.Lock()
	if r, ok := o.running[a.ID]; ok {
		r.snapshot.Status = a.Status
		r.snapshot.Progress = percent
	}
	o.mu.Unlock()
	o.notifier.Progress(a.ID, percent, message)
}

// checkCancel observes cooperative cancellation between phases. A
// cancelled run is finalized, persisted, and notified; the error returned
// carries KindCancelled so callers see Cancelled, not a failure.
func (o *Orchestrator) checkCancel(ctx context.Context, a *analysis.Analysis) error {
	select {
	case <-ctx.Done():
		return o.finalizeCancelled(a)
	default:
		return nil
	}
}

func (o *Orchestrator) finalizeCancelled(a *analysis.Analysis) error {
	a.Cancel()
	o.persist(a)
	o.notifier.Progress(a.ID, a.Progress, "analysis cancelled")
	o.notifier.Completed(completionOf(a))
	o.log.Info("analysis cancelled", zap.String("analysis_id", a.ID.String()))
	return analysis.NewError(analysis.KindCancelled, "analysis cancelled")
}

// fail finalizes the record as failed but still persists it: the core
// never drops a record once the upload resolved.
func (o *Orchestrator) fail(a *analysis.Analysis, kind analysis.Kind, message string, cause error) (*analysis.Analysis, error) {
	a.Fail(message)
	o.persist(a)
	o.notifier.Completed(completionOf(a))
	o.log.Warn("analysis failed",
		zap.String("analysis_id", a.ID.String()),
		zap.String("kind", kind.String()),
		zap.String("message", message))
	if cause != nil {
		return a, analysis.WrapError(kind, message, cause)
	}
	return a, analysis.NewError(kind, message)
}

// persist saves the aggregate with a background context so finalization
// survives a cancelled run context.
func (o *Orchestrator) persist(a *analysis.Analysis) {
	if err := o.storage.SaveResult(context.Background(), a.ID, "analysis", a); err != nil {
		o.log.Error("persist analysis", zap.String("analysis_id", a.ID.String()), zap.Error(err))
	}
}

func (o *Orchestrator) readFile(ctx context.Context, uploadID, name string) ([]byte, error) {
	rc, err := o.storage.Open(ctx, uploadID, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// primaryFile picks the artifact to analyze: one upload is one artifact,
// so the first file in name order wins.
func primaryFile(files []FileInfo) FileInfo {
	sorted := make([]FileInfo, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return sorted[0]
}

func fileType(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return "log"
	}
	return strings.ToLower(ext)
}

func severityCounts(matches []analysis.RuleMatchResult) map[string]int {
	if len(matches) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, m := range matches {
		counts[string(m.Severity)]++
	}
	return counts
}

func completionOf(a *analysis.Analysis) analysis.Completion {
	return analysis.Completion{
		AnalysisID:  a.ID,
		FileName:    a.FileName,
		SHA256:      a.SHA256,
		Status:      a.Status,
		ThreatScore: a.ThreatScore,
		Severity:    a.Severity,
		CompletedAt: a.CompletedAt,
		MatchCount:  len(a.RuleMatches),
	}
}
