package orchestrator

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/threatline/threatline/internal/analysis"
)

// FileInfo describes one uploaded evidence file.
type FileInfo struct {
	Name string
	Size int64
}

// Storage resolves uploaded evidence files and persists analysis results.
type Storage interface {
	// ListFiles returns the evidence files uploaded under the given id.
	ListFiles(ctx context.Context, uploadID string) ([]FileInfo, error)
	// Open opens one uploaded file as a byte stream.
	Open(ctx context.Context, uploadID, name string) (io.ReadCloser, error)
	// SaveResult persists a JSON-serializable blob keyed by analysis id
	// and result type.
	SaveResult(ctx context.Context, analysisID uuid.UUID, resultType string, v interface{}) error
	// LoadResult retrieves a previously saved blob into v.
	LoadResult(ctx context.Context, analysisID uuid.UUID, resultType string, v interface{}) error
	// DeleteResult removes a saved blob.
	DeleteResult(ctx context.Context, analysisID uuid.UUID, resultType string) error
	// DeleteWorkdir removes an upload's working directory.
	DeleteWorkdir(ctx context.Context, uploadID string) error
}

// Parser turns raw artifact bytes into log events. Capability-based:
// Matches decides applicability, Parse reports failure in the result
// rather than by error.
type Parser interface {
	ID() string
	Matches(filename string, content []byte) bool
	Parse(ctx context.Context, content []byte) analysis.ParseResult
}

// ParserResolver picks a parser for an artifact from a priority-ordered
// registry. The preferred id, when non-empty, is tried first.
type ParserResolver interface {
	Resolve(filename string, content []byte, preferred string) (Parser, bool)
}

// RuleEngine runs the loaded detection rules against extracted events and
// raw content. The loaded rule set is a read-only snapshot for the
// duration of one Match call.
type RuleEngine interface {
	Match(ctx context.Context, events []analysis.LogEvent, raw []byte) ([]analysis.RuleMatchResult, error)
}

// ProgressNotifier receives per-step progress and the final completion
// payload. Implementations must be best-effort and never block the
// pipeline.
type ProgressNotifier interface {
	Progress(analysisID uuid.UUID, percent int, message string)
	Completed(c analysis.Completion)
}
