// Package httpapi exposes the job dispatcher over HTTP: enqueue endpoints
// for each session variant, a session-state read endpoint, and the
// folder-status WebSocket upgrade (§4.F "F exposes the primary API
// consumed by HTTP handlers").
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/orbimport/importsvc/internal/errorsx"
	"github.com/orbimport/importsvc/internal/importstate"
	"github.com/orbimport/importsvc/internal/jobs"
	"github.com/orbimport/importsvc/internal/pubsub"
	"github.com/orbimport/importsvc/pkg/store"
)

// Service wires the dispatcher and the status subscriber onto HTTP routes.
type Service struct {
	dispatcher *jobs.Dispatcher
	db         *store.Store
	subscriber *pubsub.Subscriber
}

// New builds a Service.
func New(dispatcher *jobs.Dispatcher, db *store.Store, subscriber *pubsub.Subscriber) *Service {
	return &Service{dispatcher: dispatcher, db: db, subscriber: subscriber}
}

// Router assembles the chi router: request logging, panic recovery, CORS,
// health endpoints, and the bearer-guarded folder/session/status routes.
func (s *Service) Router(jwtSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", healthz)
	r.Get("/readyz", s.readyz)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(jwtSecret))

		r.Get("/folders/{hash}/session", s.getSession)
		r.Post("/folders/{hash}/preview", s.postPreview)
		r.Post("/folders/{hash}/candidates", s.postAddCandidates)
		r.Post("/folders/{hash}/import", s.postImportCandidate)
		r.Post("/folders/{hash}/auto", s.postImportAuto)
		r.Post("/folders/{hash}/bootleg", s.postImportBootleg)
		r.Post("/folders/{hash}/undo", s.postUndo)

		r.Get("/ws/folder-status", s.wsFolderStatus)
	})

	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Service) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		http.Error(w, "postgres: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type sessionView struct {
	ID             string                         `json:"id"`
	FolderHash     string                         `json:"folder_hash"`
	FolderPath     string                         `json:"folder_path"`
	FolderRevision int                            `json:"folder_revision"`
	Progress       string                         `json:"progress"`
	Tasks          []taskView                     `json:"tasks"`
	Exc            *errorsx.SerializedException  `json:"exception,omitempty"`
}

type taskView struct {
	ID                string   `json:"id"`
	Progress          string   `json:"progress"`
	ChosenCandidateID *string  `json:"chosen_candidate_id,omitempty"`
	CommittedAlbumID  string   `json:"committed_album_id,omitempty"`
	CandidateCount    int      `json:"candidate_count"`
}

func toSessionView(session *importstate.SessionState) sessionView {
	v := sessionView{
		ID:             session.ID,
		FolderHash:     session.FolderHash,
		FolderPath:     session.FolderPath,
		FolderRevision: session.FolderRevision,
		Progress:       session.Progress().String(),
		Exc:            errorsx.Serialize(session.Exc),
	}
	for _, t := range session.Tasks {
		v.Tasks = append(v.Tasks, taskView{
			ID:                t.ID,
			Progress:          t.Progress.String(),
			ChosenCandidateID: t.ChosenCandidateID,
			CommittedAlbumID:  t.CommittedAlbumID,
			CandidateCount:    len(t.Candidates),
		})
	}
	return v
}

func (s *Service) getSession(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	session, err := s.dispatcher.LoadSession(r.Context(), hash)
	if err != nil {
		writeErr(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(session))
}

type folderPathReq struct {
	FolderPath string `json:"folder_path"`
}

func (s *Service) postPreview(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	var req folderPathReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.dispatcher.EnqueuePreview(r.Context(), hash, req.FolderPath)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

type addCandidatesReq struct {
	FolderPath   string   `json:"folder_path"`
	SearchIDs    []string `json:"search_ids"`
	SearchArtist string   `json:"search_artist"`
	SearchAlbum  string   `json:"search_album"`
}

func (s *Service) postAddCandidates(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	var req addCandidatesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.dispatcher.EnqueuePreviewAddCandidates(r.Context(), hash, req.FolderPath, req.SearchIDs, req.SearchArtist, req.SearchAlbum)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

type importCandidateReq struct {
	FolderPath       string            `json:"folder_path"`
	CandidateIDs     map[string]string `json:"candidate_ids"`
	DuplicateActions map[string]string `json:"duplicate_actions"`
}

func (s *Service) postImportCandidate(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	var req importCandidateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.dispatcher.EnqueueImportCandidate(r.Context(), hash, req.FolderPath, req.CandidateIDs, req.DuplicateActions)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

type importAutoReq struct {
	FolderPath       string            `json:"folder_path"`
	ImportThreshold  float64           `json:"import_threshold"`
	DuplicateActions map[string]string `json:"duplicate_actions"`
}

func (s *Service) postImportAuto(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	var req importAutoReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.dispatcher.EnqueueImportAuto(r.Context(), hash, req.FolderPath, req.ImportThreshold, req.DuplicateActions)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Service) postImportBootleg(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	var req folderPathReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.dispatcher.EnqueueImportBootleg(r.Context(), hash, req.FolderPath)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

type undoReq struct {
	FolderPath  string `json:"folder_path"`
	DeleteFiles bool   `json:"delete_files"`
}

func (s *Service) postUndo(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	var req undoReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, err := s.dispatcher.EnqueueImportUndo(r.Context(), hash, req.FolderPath, req.DeleteFiles)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
