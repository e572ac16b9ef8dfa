package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"reviewdesk/request"
	"reviewdesk/review"
)

type createSessionPayload struct {
	View string `json:"view" validate:"required"`
}

type openPayload struct {
	RequestID string         `json:"request_id" validate:"required"`
	Action    request.Action `json:"action" validate:"required"`
}

type submitPayload struct {
	Action request.Action  `json:"action" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"max=500"`
}

type sessionResponse struct {
	ID       string          `json:"id"`
	Snapshot review.Snapshot `json:"snapshot"`
}

type submitResponse struct {
	Request  request.Request `json:"request"`
	Snapshot review.Snapshot `json:"snapshot"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var p createSessionPayload
	if err := decodeAndValidate(r, &p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if !canUseView(roleFrom(r.Context()), p.View) {
		writeError(w, http.StatusForbidden, "view not available to your department")
		return
	}
	dept, err := review.Preset(p.View, s.guards...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, c, err := s.sessions.Create(r.Context(), userIDFrom(r.Context()), dept)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{ID: id, Snapshot: c.Snapshot()})
}

// session resolves the {id} path parameter to the caller's controller.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (string, *review.Controller, bool) {
	id := chi.URLParam(r, "id")
	c, err := s.sessions.Get(id, userIDFrom(r.Context()))
	if err != nil {
		s.respondErr(w, r, err)
		return "", nil, false
	}
	return id, c, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, Snapshot: c.Snapshot()})
}

func (s *Server) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.session(w, r)
	if !ok {
		return
	}
	var p openPayload
	if err := decodeAndValidate(r, &p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if _, err := c.Open(r.Context(), p.RequestID, p.Action); err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, Snapshot: c.Snapshot()})
}

func (s *Server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := c.Cancel(r.Context()); err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: id, Snapshot: c.Snapshot()})
}

func (s *Server) handleSessionSubmit(w http.ResponseWriter, r *http.Request) {
	_, c, ok := s.session(w, r)
	if !ok {
		return
	}
	var p submitPayload
	if err := decodeAndValidate(r, &p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	req, err := c.Submit(r.Context(), review.SubmitParams{Action: p.Action, Amount: p.Amount, Reason: p.Reason})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{Request: req, Snapshot: c.Snapshot()})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context())); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
