package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
	"github.com/therealutkarshpriyadarshi/ann/pkg/api/rest/middleware"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.service.Health())
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"indexes": s.service.ListIndexes(r.Context()),
	})
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req api.CreateIndexRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	st, err := s.service.CreateIndex(r.Context(), chi.URLParam(r, "namespace"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.GetIndex(r.Context(), chi.URLParam(r, "namespace"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleUpdateIndex(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateIndexRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	st, err := s.service.UpdateIndex(r.Context(), chi.URLParam(r, "namespace"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "namespace")
	if err := s.service.DeleteIndex(r.Context(), name); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"namespace": name, "status": "deleted"})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req api.InsertRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	resp, err := s.service.Insert(r.Context(), chi.URLParam(r, "namespace"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req api.QueryRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	resp, err := s.service.Query(r.Context(), chi.URLParam(r, "namespace"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req api.PersistRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	resp, err := s.service.Save(r.Context(), chi.URLParam(r, "namespace"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req api.LoadRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	resp, err := s.service.Load(r.Context(), chi.URLParam(r, "namespace"), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into v. Unknown fields are rejected. An empty body
// is accepted when optional is set.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		return false
	}
	middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	return false
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode response", map[string]interface{}{"error": err})
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.HTTPStatus(api.Code(err))
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetRequestID(r.Context()),
			"error":      err,
		})
	}
	middleware.WriteError(w, status, err.Error())
}
