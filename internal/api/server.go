// Package api exposes the workspace store over HTTP for the host chat layer:
// file CRUD, lock management, chat identity hand-off, snapshot save/restore,
// and an SSE stream of change events.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/draftbench/draftbench/internal/events"
	"github.com/draftbench/draftbench/internal/lockstore"
	"github.com/draftbench/draftbench/internal/logging"
	"github.com/draftbench/draftbench/internal/sandbox"
	"github.com/draftbench/draftbench/internal/snapshot"
	"github.com/draftbench/draftbench/internal/workspace"
)

// Server routes host-layer requests to the workspace store and the snapshot
// coordinator.
type Server struct {
	ws          *workspace.Store
	coord       *snapshot.Coordinator
	broadcaster *events.Broadcaster
}

// NewServer creates an API server. broadcaster may be nil; the events
// endpoint then returns 404.
func NewServer(ws *workspace.Store, coord *snapshot.Coordinator, broadcaster *events.Broadcaster) *Server {
	return &Server{ws: ws, coord: coord, broadcaster: broadcaster}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/v1/files", s.handleListFiles)
	mux.HandleFunc("GET /api/v1/files/content", s.handleFileContent)
	mux.HandleFunc("POST /api/v1/files", s.handleCreate)
	mux.HandleFunc("PUT /api/v1/files", s.handleSave)
	mux.HandleFunc("DELETE /api/v1/files", s.handleDelete)

	mux.HandleFunc("GET /api/v1/locks", s.handleLockState)
	mux.HandleFunc("POST /api/v1/locks", s.handleLock)
	mux.HandleFunc("DELETE /api/v1/locks", s.handleUnlock)

	mux.HandleFunc("POST /api/v1/chat", s.handleSetChat)
	mux.HandleFunc("DELETE /api/v1/chats/{id}", s.handleDeleteChat)

	mux.HandleFunc("POST /api/v1/snapshots", s.handleSaveSnapshot)
	mux.HandleFunc("POST /api/v1/snapshots/restore", s.handleRestore)

	mux.HandleFunc("GET /api/v1/modifications", s.handleModifications)
	mux.HandleFunc("POST /api/v1/modifications/reset", s.handleResetModifications)

	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"entries": s.ws.FileCount(),
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.ws.Files())
}

func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	e, ok := s.ws.GetFile(path)
	if !ok || e.IsFolder() {
		s.sendError(w, http.StatusNotFound, "file not found: "+path)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"path":      e.Path,
		"content":   e.Content,
		"is_binary": e.IsBinary,
	})
}

type fileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Base64  bool   `json:"base64,omitempty"`
	Folder  bool   `json:"folder,omitempty"`
}

func (fr *fileRequest) body() ([]byte, error) {
	if !fr.Base64 {
		return []byte(fr.Content), nil
	}
	return base64.StdEncoding.DecodeString(fr.Content)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Folder {
		if err := s.ws.CreateFolder(r.Context(), req.Path); err != nil {
			s.sendOpError(w, err)
			return
		}
	} else {
		data, err := req.body()
		if err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid base64 content")
			return
		}
		if err := s.ws.CreateFile(r.Context(), req.Path, data); err != nil {
			s.sendOpError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	data, err := req.body()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid base64 content")
		return
	}
	if err := s.ws.SaveFile(r.Context(), req.Path, data); err != nil {
		s.sendOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	folder := r.URL.Query().Get("folder") == "true"
	var err error
	if folder {
		err = s.ws.DeleteFolder(r.Context(), path)
	} else {
		err = s.ws.DeleteFile(r.Context(), path)
	}
	if err != nil {
		s.sendOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLockState(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	folder := r.URL.Query().Get("folder") == "true"
	var st lockstore.LockState
	if folder {
		st = s.ws.IsFolderLocked(r.Context(), path)
	} else {
		st = s.ws.IsFileLocked(r.Context(), path)
	}
	s.sendJSON(w, http.StatusOK, map[string]any{
		"path":      path,
		"locked":    st.Locked,
		"locked_by": st.LockedBy,
	})
}

type lockRequest struct {
	Path   string `json:"path"`
	Folder bool   `json:"folder,omitempty"`
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var err error
	if req.Folder {
		err = s.ws.LockFolder(r.Context(), req.Path)
	} else {
		err = s.ws.LockFile(r.Context(), req.Path)
	}
	if err != nil {
		s.sendOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	folder := r.URL.Query().Get("folder") == "true"
	var err error
	if folder {
		err = s.ws.UnlockFolder(r.Context(), path)
	} else {
		err = s.ws.UnlockFile(r.Context(), path)
	}
	if err != nil {
		s.sendOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.ws.SetActiveChat(req.ChatID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	if chatID == "" {
		s.sendError(w, http.StatusBadRequest, "missing chat id")
		return
	}
	if err := s.coord.DeleteChat(r.Context(), chatID); err != nil {
		s.sendOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID    string `json:"chat_id"`
		MessageID string `json:"message_id"`
		Summary   string `json:"summary,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.coord.OnMessagesSaved(r.Context(), req.ChatID, req.MessageID, req.Summary); err != nil {
		s.sendOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.coord.RestoreLatest(r.Context(), req.ChatID); err != nil {
		s.sendOpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModifications(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.ws.FileModifications())
}

func (s *Server) handleResetModifications(w http.ResponseWriter, _ *http.Request) {
	s.ws.ResetFileModifications()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		s.sendError(w, http.StatusNotFound, "events not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// sendOpError maps store errors to HTTP status codes.
func (s *Server) sendOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspace.ErrInvalidPath):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sandbox.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lockstore.ErrNoActiveChat), errors.Is(err, snapshot.ErrNoChat):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		logging.Error("request failed", logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": message,
		"code":  code,
	})
}
