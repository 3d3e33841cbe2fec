package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/user/appforge/internal/apperr"
	"github.com/user/appforge/internal/codegen"
	"github.com/user/appforge/internal/synth"
	"github.com/user/appforge/internal/types"
)

type ingestRequest struct {
	Events []json.RawMessage `json:"events"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, s.log, err)
		return
	}
	result, err := s.deps.Ingest.Ingest(r.Context(), req.Events)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var filter types.SessionFilter
	var err error
	if filter.ActiveOnly, err = queryBool(r, "active"); err != nil {
		writeError(w, s.log, err)
		return
	}
	if filter.ClosedOnly, err = queryBool(r, "closed"); err != nil {
		writeError(w, s.log, err)
		return
	}
	sessions, err := s.deps.Ingest.Sessions(r.Context(), filter)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Ingest.Session(r.Context(), sessionParam(r))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	events, err := s.deps.Ingest.Events(r.Context(), sessionParam(r), limit)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Ingest.CloseSession(r.Context(), sessionParam(r))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.deps.Engine.Patterns(r.Context(), sessionParam(r))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, patterns)
}

type recognizeRequest struct {
	SessionID types.SessionID `json:"sessionId"`
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	var req recognizeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, s.log, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, s.log, apperr.Invalid("MISSING_SESSION_ID", "sessionId is required"))
		return
	}
	patterns, err := s.deps.Engine.Recognize(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, patterns)
}

type createModelRequest struct {
	SessionID  types.SessionID   `json:"sessionId,omitempty"`
	SessionIDs []types.SessionID `json:"sessionIds,omitempty"`
	PatternIDs []types.PatternID `json:"patternIds,omitempty"`
	synth.Options
}

func (s *Server) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req createModelRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, s.log, err)
		return
	}
	src := synth.Source{SessionIDs: req.SessionIDs, PatternIDs: req.PatternIDs}
	if req.SessionID != "" {
		src.SessionIDs = append([]types.SessionID{req.SessionID}, src.SessionIDs...)
	}
	model, err := s.deps.Models.SynthesizeFrom(r.Context(), src, req.Options)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, model)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	var filter synth.Filter
	var err error
	if filter.MinConfidence, err = queryFloat(r, "minConfidence"); err != nil {
		writeError(w, s.log, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, s.log, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		writeError(w, s.log, err)
		return
	}
	page, err := s.deps.Models.List(r.Context(), filter)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	expand := r.URL.Query().Get("expand")
	if expand != "" && expand != "patterns" {
		writeError(w, s.log, apperr.Invalid("INVALID_QUERY", "expand must be \"patterns\""))
		return
	}
	view, err := s.deps.Models.Get(r.Context(), modelParam(r), expand == "patterns")
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	var patch synth.Patch
	if err := decodeJSON(r, &patch, false); err != nil {
		writeError(w, s.log, err)
		return
	}
	model, err := s.deps.Models.Update(r.Context(), modelParam(r), patch)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Models.Delete(r.Context(), modelParam(r)); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGenerate answers with artifact summaries, or with full content
// when preview is set.
func (s *Server) handleGenerate(preview bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req codegen.Request
		if err := decodeJSON(r, &req, false); err != nil {
			writeError(w, s.log, err)
			return
		}
		artifacts, err := s.deps.Codegen.Generate(r.Context(), req)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		if !preview {
			artifacts = codegen.Summaries(artifacts)
		}
		writeJSON(w, http.StatusOK, artifacts)
	}
}

func sessionParam(r *http.Request) types.SessionID {
	return types.SessionID(chi.URLParam(r, "id"))
}

func modelParam(r *http.Request) types.ModelID {
	return types.ModelID(chi.URLParam(r, "id"))
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Invalid("INVALID_QUERY", "%s must be a non-negative integer", key)
	}
	return n, nil
}

func queryFloat(r *http.Request, key string) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		return 0, apperr.Invalid("INVALID_QUERY", "%s must be a number in [0,1]", key)
	}
	return f, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, apperr.Invalid("INVALID_QUERY", "%s must be a boolean", key)
	}
	return b, nil
}
