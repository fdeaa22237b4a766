package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func importFile(t *testing.T, s *FS, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	uploadID, err := s.ImportUpload(path)
	if err != nil {
		t.Fatalf("ImportUpload: %v", err)
	}
	return uploadID
}

func TestNewFSCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewFS(dir); err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	for _, sub := range []string{"uploads", "results"} {
		if fi, err := os.Stat(filepath.Join(dir, sub)); err != nil || !fi.IsDir() {
			t.Errorf("%s not created: %v", sub, err)
		}
	}
}

func TestImportListOpen(t *testing.T) {
	s := newTestFS(t)
	uploadID := importFile(t, s, "auth.log", "line one\nline two\n")

	files, err := s.ListFiles(context.Background(), uploadID)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}
	if files[0].Name != "auth.log" {
		t.Errorf("name = %s", files[0].Name)
	}
	if files[0].Size != int64(len("line one\nline two\n")) {
		t.Errorf("size = %d", files[0].Size)
	}

	rc, err := s.Open(context.Background(), uploadID, "auth.log")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "line one\nline two\n" {
		t.Errorf("content = %q", data)
	}
}

func TestListFilesMissingUpload(t *testing.T) {
	s := newTestFS(t)
	files, err := s.ListFiles(context.Background(), uuid.New().String())
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("files = %v, want empty for missing upload", files)
	}
}

func TestUploadIDTraversalRejected(t *testing.T) {
	s := newTestFS(t)
	if _, err := s.ListFiles(context.Background(), "../results"); err == nil {
		t.Error("expected error for traversal in upload id")
	}
	if _, err := s.Open(context.Background(), "", "x"); err == nil {
		t.Error("expected error for empty upload id")
	}
}

func TestSaveLoadDeleteResult(t *testing.T) {
	s := newTestFS(t)
	id := uuid.New()
	in := map[string]interface{}{"threat_score": 67, "severity": "high"}

	if err := s.SaveResult(context.Background(), id, "analysis", in); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	var out map[string]interface{}
	if err := s.LoadResult(context.Background(), id, "analysis", &out); err != nil {
		t.Fatalf("LoadResult: %v", err)
	}
	if out["severity"] != "high" {
		t.Errorf("loaded = %v", out)
	}

	if err := s.DeleteResult(context.Background(), id, "analysis"); err != nil {
		t.Fatalf("DeleteResult: %v", err)
	}
	if err := s.LoadResult(context.Background(), id, "analysis", &out); err == nil {
		t.Error("expected error after delete")
	}
	// Deleting again is not an error.
	if err := s.DeleteResult(context.Background(), id, "analysis"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestManifestHashes(t *testing.T) {
	s := newTestFS(t)
	id := uuid.New()

	if err := s.SaveResult(context.Background(), id, "analysis", map[string]int{"a": 1}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.SaveResult(context.Background(), id, "timeline", map[string]int{"b": 2}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	manifestPath := filepath.Join(s.Root(), "results", id.String(), "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.AnalysisID != id.String() {
		t.Errorf("analysis id = %s", m.AnalysisID)
	}
	if len(m.Files) != 2 {
		t.Fatalf("manifest files = %d, want 2", len(m.Files))
	}

	// Each recorded hash matches the file on disk.
	for _, fh := range m.Files {
		data, err := os.ReadFile(filepath.Join(s.Root(), "results", id.String(), fh.File))
		if err != nil {
			t.Fatalf("read %s: %v", fh.File, err)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != fh.SHA256 {
			t.Errorf("hash mismatch for %s", fh.File)
		}
		if fh.Size != len(data) {
			t.Errorf("size mismatch for %s", fh.File)
		}
	}

	if got := s.Hashes(id); len(got) != 2 {
		t.Errorf("Hashes = %d entries, want 2", len(got))
	}
}

func TestDeleteWorkdir(t *testing.T) {
	s := newTestFS(t)
	uploadID := importFile(t, s, "a.log", "x")

	if err := s.DeleteWorkdir(context.Background(), uploadID); err != nil {
		t.Fatalf("DeleteWorkdir: %v", err)
	}
	files, err := s.ListFiles(context.Background(), uploadID)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("files after delete = %v", files)
	}
}

func TestSweep(t *testing.T) {
	s := newTestFS(t)
	oldID := importFile(t, s, "old.log", "old")
	newID := importFile(t, s, "new.log", "new")

	// Age the first workdir past the cutoff.
	oldDir := filepath.Join(s.Root(), "uploads", oldID)
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldDir, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := s.Sweep(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if files, _ := s.ListFiles(context.Background(), oldID); len(files) != 0 {
		t.Error("old upload should be swept")
	}
	if files, _ := s.ListFiles(context.Background(), newID); len(files) != 1 {
		t.Error("recent upload should survive")
	}
}

func TestSweepCancelled(t *testing.T) {
	s := newTestFS(t)
	importFile(t, s, "a.log", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Sweep(ctx, 0); err == nil {
		t.Error("expected context error")
	}
}
