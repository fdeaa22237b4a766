// Package notify delivers progress and completion notifications
// asynchronously. Delivery is best-effort: a full queue drops the
// notification rather than block the pipeline.
package notify

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threatline/threatline/internal/analysis"
)

// event is one queued notification; exactly one of the payloads is set.
type event struct {
	analysisID uuid.UUID
	percent    int
	message    string
	completion *analysis.Completion
}

// Queue is an asynchronous notifier that logs each notification through
// zap. It never blocks the caller.
type Queue struct {
	log    *zap.Logger
	events chan event
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewQueue creates a Queue with the given buffer size and starts its
// delivery goroutine.
func NewQueue(log *zap.Logger, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	q := &Queue{
		log:    log,
		events: make(chan event, size),
	}
	q.wg.Add(1)
	go q.deliver()
	return q
}

// Progress queues a progress notification; dropped when the queue is full.
func (q *Queue) Progress(analysisID uuid.UUID, percent int, message string) {
	q.push(event{analysisID: analysisID, percent: percent, message: message})
}

// Completed queues the final completion payload; dropped when the queue
// is full.
func (q *Queue) Completed(c analysis.Completion) {
	q.push(event{analysisID: c.AnalysisID, completion: &c})
}

// push enqueues without ever blocking the caller. Pushes after Close are
// dropped like full-queue pushes; runs finishing during shutdown must not
// take the process down.
func (q *Queue) push(ev event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.log.Debug("notification dropped", zap.String("analysis_id", ev.analysisID.String()))
		return
	}
	select {
	case q.events <- ev:
	default:
		q.log.Debug("notification dropped", zap.String("analysis_id", ev.analysisID.String()))
	}
}

// Close stops delivery after draining queued notifications. Later pushes
// are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	close(q.events)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) deliver() {
	defer q.wg.Done()
	for ev := range q.events {
		if ev.completion != nil {
			q.log.Info("analysis finished",
				zap.String("analysis_id", ev.completion.AnalysisID.String()),
				zap.String("file", ev.completion.FileName),
				zap.String("sha256", ev.completion.SHA256),
				zap.String("status", ev.completion.Status.String()),
				zap.Int("threat_score", ev.completion.ThreatScore),
				zap.String("severity", string(ev.completion.Severity)),
				zap.Int("match_count", ev.completion.MatchCount))
			continue
		}
		q.log.Info("analysis progress",
			zap.String("analysis_id", ev.analysisID.String()),
			zap.Int("percent", ev.percent),
			zap.String("message", ev.message))
	}
}
