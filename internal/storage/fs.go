// Package storage implements the filesystem-backed evidence and result
// store. Raw uploads are kept under uploads/<uploadID>/, persisted result
// blobs under results/<analysisID>/ with a SHA-256 manifest alongside.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatline/threatline/internal/orchestrator"
)

// FileHash records the SHA-256 hash of a saved result file.
type FileHash struct {
	File   string `json:"file"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

// Manifest records result file hashes for integrity verification.
type Manifest struct {
	GeneratedAt time.Time  `json:"generated_at"`
	AnalysisID  string     `json:"analysis_id"`
	Files       []FileHash `json:"files"`
}

// FS is the filesystem store. Thread-safe: concurrent runs may persist
// results at the same time.
type FS struct {
	root string
	mu   sync.Mutex
	// hashes accumulates per-analysis result hashes for the manifest.
	hashes map[string][]FileHash
}

// NewFS creates the store rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	for _, sub := range []string{"uploads", "results"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &FS{root: dir, hashes: make(map[string][]FileHash)}, nil
}

// Root returns the storage root directory.
func (s *FS) Root() string { return s.root }

// ImportUpload copies one evidence file into a fresh upload workdir and
// returns the generated upload id.
func (s *FS) ImportUpload(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	uploadID := uuid.New().String()
	dir := filepath.Join(s.root, "uploads", uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	return uploadID, nil
}

// ListFiles returns the evidence files under an upload id. A missing
// upload directory yields an empty list, not an error: absence is an
// expected condition the pipeline classifies itself.
func (s *FS) ListFiles(_ context.Context, uploadID string) ([]orchestrator.FileInfo, error) {
	dir, err := s.uploadDir(uploadID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var files []orchestrator.FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, orchestrator.FileInfo{Name: e.Name(), Size: info.Size()})
	}
	return files, nil
}

// Open opens one uploaded file as a byte stream.
func (s *FS) Open(_ context.Context, uploadID, name string) (io.ReadCloser, error) {
	dir, err := s.uploadDir(uploadID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, filepath.Base(name))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// SaveResult persists a JSON blob keyed by analysis id and result type,
// recording its hash in the analysis's manifest.
func (s *FS) SaveResult(_ context.Context, analysisID uuid.UUID, resultType string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", resultType, err)
	}
	dir := filepath.Join(s.root, "results", analysisID.String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	filename := resultType + ".json"
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}

	sum := sha256.Sum256(data)
	key := analysisID.String()
	s.mu.Lock()
	hashes := append(s.hashes[key], FileHash{
		File:   filename,
		SHA256: hex.EncodeToString(sum[:]),
		Size:   len(data),
	})
	s.hashes[key] = hashes
	manifest := Manifest{
		GeneratedAt: time.Now().UTC(),
		AnalysisID:  key,
		Files:       append([]FileHash(nil), hashes...),
	}
	s.mu.Unlock()

	return s.writeManifest(dir, manifest)
}

// LoadResult retrieves a previously saved blob into v.
func (s *FS) LoadResult(_ context.Context, analysisID uuid.UUID, resultType string, v interface{}) error {
	path := filepath.Join(s.root, "results", analysisID.String(), resultType+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return json.Unmarshal(data, v)
}

// DeleteResult removes a saved blob.
func (s *FS) DeleteResult(_ context.Context, analysisID uuid.UUID, resultType string) error {
	path := filepath.Join(s.root, "results", analysisID.String(), resultType+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// DeleteWorkdir removes an upload's working directory.
func (s *FS) DeleteWorkdir(_ context.Context, uploadID string) error {
	dir, err := s.uploadDir(uploadID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// Sweep deletes upload workdirs whose contents are older than maxAge.
// Returns the number of workdirs removed.
func (s *FS) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	uploads := filepath.Join(s.root, "uploads")
	entries, err := os.ReadDir(uploads)
	if err != nil {
		return 0, fmt.Errorf("list uploads: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(uploads, e.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Hashes returns the recorded result hashes for an analysis.
func (s *FS) Hashes(analysisID uuid.UUID) []FileHash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FileHash(nil), s.hashes[analysisID.String()]...)
}

// uploadDir resolves an upload id to its directory, rejecting ids that
// would escape the storage root.
func (s *FS) uploadDir(uploadID string) (string, error) {
	if uploadID == "" || uploadID != filepath.Base(uploadID) {
		return "", fmt.Errorf("invalid upload id %q", uploadID)
	}
	return filepath.Join(s.root, "uploads", uploadID), nil
}

func (s *FS) writeManifest(dir string, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
