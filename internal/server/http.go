package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bushportal/livecoding/internal/livecoding"
	"github.com/bushportal/livecoding/internal/session"
)

// GenerateRequest is the POST /api/live-coding/generate body.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse is the success body of POST /api/live-coding/generate.
type GenerateResponse struct {
	SessionID string                  `json:"sessionId"`
	Files     []session.GeneratedFile `json:"files"`
	FileCount int                     `json:"fileCount"`
}

// FailureResponse is the body of every non-2xx response.
type FailureResponse struct {
	Error     string `json:"error"`
	SessionID string `json:"sessionId,omitempty"`
}

// HealthResponse is the GET /healthz body.
type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Clients  int    `json:"clients"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	found, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, FailureResponse{Error: session.ErrSessionNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, FailureResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, FailureResponse{Error: livecoding.ErrEmptyPrompt.Error()})
		return
	}

	final, err := s.orchestrator.Generate(r.Context(), req.Prompt, s.broadcastSink(nil))
	switch {
	case errors.Is(err, livecoding.ErrEmptyPrompt):
		writeJSON(w, http.StatusBadRequest, FailureResponse{Error: err.Error()})
		return
	case errors.Is(err, livecoding.ErrRunTimeout):
		writeJSON(w, http.StatusGatewayTimeout, FailureResponse{Error: final.Error, SessionID: final.ID})
		return
	case err != nil:
		s.logger.Error("generate failed before the run", "error", err)
		writeJSON(w, http.StatusInternalServerError, FailureResponse{Error: "internal server error"})
		return
	}

	if final.Status == session.StatusError {
		writeJSON(w, http.StatusBadGateway, FailureResponse{Error: final.Error, SessionID: final.ID})
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{
		SessionID: final.ID,
		Files:     final.Files,
		FileCount: len(final.Files),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Sessions: s.registry.Len(),
		Clients:  s.hub.Count(),
	})
}
