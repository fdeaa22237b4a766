// Package server exposes the analysis pipeline over a local HTTP API.
// Results are fetched by polling; there is no push transport.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threatline/threatline/internal/analysis"
	"github.com/threatline/threatline/internal/orchestrator"
)

// Server is a local HTTP server that accepts uploads for analysis and
// serves persisted results.
type Server struct {
	orch       *orchestrator.Orchestrator
	storage    orchestrator.Storage
	defaults   orchestrator.Options
	log        *zap.Logger
	httpServer *http.Server
}

// New creates a Server.
func New(orch *orchestrator.Orchestrator, storage orchestrator.Storage, defaults orchestrator.Options, log *zap.Logger) *Server {
	return &Server{orch: orch, storage: storage, defaults: defaults, log: log}
}

// Start begins listening on the given port (0 = OS-assigned). Returns
// "host:port".
func (s *Server) Start(port int) (string, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}

	s.httpServer = &http.Server{Handler: s.Handler()}
	go s.httpServer.Serve(ln) //nolint:errcheck

	return ln.Addr().String(), nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer != nil {
		s.httpServer.Shutdown(ctx) //nolint:errcheck
	}
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/analyses", s.handleAnalyses)
	mux.HandleFunc("/analyses/", s.handleAnalysisByID)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submitRequest is the POST /analyses body.
type submitRequest struct {
	UploadID string `json:"upload_id"`
	Parser   string `json:"parser,omitempty"`
	MITRE    *bool  `json:"mitre,omitempty"`
	Timeline *bool  `json:"timeline,omitempty"`
}

// handleAnalyses starts a new analysis run for an upload id.
func (s *Server) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UploadID == "" {
		http.Error(w, "upload_id is required", http.StatusBadRequest)
		return
	}

	opts := s.defaults
	opts.AnalysisID = uuid.New()
	opts.PreferredParser = req.Parser
	if req.MITRE != nil {
		opts.EnableMITRE = *req.MITRE
	}
	if req.Timeline != nil {
		opts.EnableTimeline = *req.Timeline
	}

	// Register before responding so a poll or cancel on the returned id
	// never races the run goroutine's startup.
	s.orch.Register(opts.AnalysisID, req.UploadID)
	go func() {
		if _, err := s.orch.Run(context.Background(), req.UploadID, opts); err != nil {
			s.log.Warn("analysis run",
				zap.String("analysis_id", opts.AnalysisID.String()),
				zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"analysis_id": opts.AnalysisID.String(),
		"upload_id":   req.UploadID,
	})
}

// handleAnalysisByID serves GET /analyses/{id} and POST
// /analyses/{id}/cancel.
func (s *Server) handleAnalysisByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/analyses/")
	idPart, action, _ := strings.Cut(rest, "/")
	id, err := uuid.Parse(idPart)
	if err != nil {
		http.Error(w, "invalid analysis id", http.StatusBadRequest)
		return
	}

	switch {
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancel(w, id)
	case action == "" && r.Method == http.MethodGet:
		s.get(w, r, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) cancel(w http.ResponseWriter, id uuid.UUID) {
	if err := s.orch.Cancel(id); err != nil {
		if analysis.KindOf(err) == analysis.KindNotFound {
			http.Error(w, "no running analysis", http.StatusNotFound)
			return
		}
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	// In-flight runs answer with a progress snapshot; finished runs with
	// the persisted aggregate.
	if status, ok := s.orch.Status(id); ok {
		writeJSON(w, http.StatusOK, status)
		return
	}
	var a analysis.Analysis
	if err := s.storage.LoadResult(r.Context(), id, "analysis", &a); err != nil {
		http.Error(w, "analysis not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, &a)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
