package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"reviewdesk/auth"
	"reviewdesk/lock"
	"reviewdesk/request"
	"reviewdesk/review"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type statsResponse struct {
	Kind     request.Kind   `json:"kind"`
	ByStatus map[string]int `json:"by_status"`
	Locked   int            `json:"locked"`
	Total    int            `json:"total"`
}

type createRequestPayload struct {
	Kind          request.Kind    `json:"kind" validate:"required,oneof=redeem disputed"`
	PlayerID      string          `json:"player_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method" validate:"max=32"`
	CashtagID     *string         `json:"cashtag_id"`
	Notes         *string         `json:"notes" validate:"omitempty,max=2000"`
}

type updateRequestPayload struct {
	PaymentMethod *string          `json:"payment_method" validate:"omitempty,max=32"`
	CashtagID     *string          `json:"cashtag_id"`
	Notes         *string          `json:"notes" validate:"omitempty,max=2000"`
	Amount        *decimal.Decimal `json:"amount"`
}

type acquirePayload struct {
	ModalType lock.ModalType `json:"modal_type" validate:"required"`
	// Action, when given, must open ModalType; guards see it.
	Action request.Action `json:"action"`
}

type actionPayload struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"max=500"`
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := request.Filters{
		Kind:      request.Kind(q.Get("kind")),
		PlayerID:  q.Get("player_id"),
		SortKey:   q.Get("sort"),
		SortOrder: q.Get("order"),
	}
	if filters.Kind != "" && !filters.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "invalid kind")
		return
	}
	if raw := q.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				filters.Statuses = append(filters.Statuses, request.Status(st))
			}
		}
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	items, total, err := s.requestService.List(r.Context(), filters)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if items == nil {
		items = []request.Request{}
	}
	writeJSON(w, http.StatusOK, listResponse[request.Request]{Items: items, Total: total})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requestService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRequestStats(w http.ResponseWriter, r *http.Request) {
	kind := request.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = request.KindRedeem
	}
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "invalid kind")
		return
	}
	stats, err := s.requestService.Stats(r.Context(), kind)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := statsResponse{Kind: stats.Kind, ByStatus: make(map[string]int, len(stats.ByStatus)), Locked: stats.Locked, Total: stats.Total}
	for st, n := range stats.ByStatus {
		resp.ByStatus[string(st)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var p createRequestPayload
	if err := decodeAndValidate(r, &p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	req, err := s.requestService.Create(r.Context(), request.CreateParams{
		Kind:          p.Kind,
		PlayerID:      p.PlayerID,
		Amount:        p.Amount,
		PaymentMethod: p.PaymentMethod,
		CashtagID:     p.CashtagID,
		Notes:         p.Notes,
		ActorID:       userIDFrom(r.Context()),
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	var p updateRequestPayload
	if err := decodeAndValidate(r, &p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	req, err := s.requestService.UpdateFields(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()), request.Fields{
		PaymentMethod: p.PaymentMethod,
		CashtagID:     p.CashtagID,
		Notes:         p.Notes,
		Amount:        p.Amount,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleAcquireLock(w http.ResponseWriter, r *http.Request) {
	if roleFrom(r.Context()) == auth.DepartmentAudit {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var p acquirePayload
	if err := decodeAndValidate(r, &p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if p.Action != "" && p.Action.Modal() != p.ModalType {
		writeError(w, http.StatusBadRequest, "action does not match modal_type")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.checkGuards(r.Context(), id, p.Action); err != nil {
		s.respondErr(w, r, err)
		return
	}
	st, err := s.lockService.Acquire(r.Context(), id, userIDFrom(r.Context()), p.ModalType)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	if err := s.lockService.Release(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context())); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.lockService.ForceRelease(r.Context(), id); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.log().Warn("lock force-released by admin", "request_id", id, "admin_id", userIDFrom(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApplyAction(w http.ResponseWriter, r *http.Request) {
	action := request.Action(chi.URLParam(r, "action"))
	if action.Modal() == lock.ModalNone {
		s.respondErr(w, r, request.ErrUnknownAction)
		return
	}
	if !canRunAction(roleFrom(r.Context()), action) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var p actionPayload
	if err := decodeAndValidate(r, &p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.checkGuards(r.Context(), id, action); err != nil {
		s.respondErr(w, r, err)
		return
	}
	req, err := s.requestService.Apply(r.Context(), request.ActionParams{
		RequestID: id,
		ActorID:   userIDFrom(r.Context()),
		Action:    action,
		Amount:    p.Amount,
		Reason:    p.Reason,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// checkGuards runs the business guards against the current row, the same
// ones a review session runs before it takes the lock.
func (s *Server) checkGuards(ctx context.Context, id string, action request.Action) error {
	if len(s.guards) == 0 {
		return nil
	}
	req, err := s.requestService.Get(ctx, id)
	if err != nil {
		return err
	}
	for _, guard := range s.guards {
		if err := guard(ctx, req, action); err != nil {
			if errors.Is(err, review.ErrGuardRejected) {
				s.log().Info("guard rejected request", "request_id", id, "action", action, "staff_id", userIDFrom(ctx), "error", err)
			}
			return err
		}
	}
	return nil
}
