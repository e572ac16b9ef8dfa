package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"reviewdesk/activity"
	"reviewdesk/auth"
	"reviewdesk/cashtag"
	"reviewdesk/player"
)

type userResponse struct {
	ID         string          `json:"id"`
	Email      string          `json:"email"`
	FullName   string          `json:"full_name"`
	Department auth.Department `json:"department"`
	CreatedAt  string          `json:"created_at"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Department: u.Department,
		CreatedAt:  u.CreatedAt.Format(time.RFC3339),
	}
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type departmentPayload struct {
	Department auth.Department `json:"department" validate:"required"`
}

type playerResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Banned   bool   `json:"banned"`
}

type activityResponse struct {
	ID        int64          `json:"id"`
	RequestID *string        `json:"request_id"`
	ActorID   *string        `json:"actor_id"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeAndValidate(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	// departments other than the default are granted by an admin afterwards
	req.Department = ""
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: toUserResponse(res.User)})
}

func (s *Server) handleSetDepartment(w http.ResponseWriter, r *http.Request) {
	var p departmentPayload
	if err := decodeAndValidate(r, &p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if !p.Department.Valid() {
		writeError(w, http.StatusBadRequest, "unknown department")
		return
	}
	user, err := s.authService.SetDepartment(r.Context(), roleFrom(r.Context()), chi.URLParam(r, "id"), p.Department)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*user))
}

func (s *Server) handleListCashtags(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.cashtagService.List(r.Context(), cashtag.Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if items == nil {
		items = []cashtag.Cashtag{}
	}
	writeJSON(w, http.StatusOK, listResponse[cashtag.Cashtag]{Items: items, Total: len(items)})
}

func (s *Server) handleCreateCashtag(w http.ResponseWriter, r *http.Request) {
	var p cashtag.CreateParams
	if err := decodeAndValidate(r, &p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	c, err := s.cashtagService.Create(r.Context(), p)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCashtag(w http.ResponseWriter, r *http.Request) {
	c, err := s.cashtagService.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCashtag(w http.ResponseWriter, r *http.Request) {
	var p cashtag.UpdateParams
	if err := decodeAndValidate(r, &p); err != nil {
		s.respondErr(w, r, err)
		return
	}
	c, err := s.cashtagService.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCashtag(w http.ResponseWriter, r *http.Request) {
	if err := s.cashtagService.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := s.playerService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, playerResponse{ID: p.ID, Username: p.Username, Banned: p.Banned})
}

func (s *Server) handleBanPlayer(w http.ResponseWriter, r *http.Request) {
	s.setBan(w, r, true)
}

func (s *Server) handleUnbanPlayer(w http.ResponseWriter, r *http.Request) {
	s.setBan(w, r, false)
}

func (s *Server) setBan(w http.ResponseWriter, r *http.Request, banned bool) {
	id := chi.URLParam(r, "id")
	var (
		p   player.Player
		err error
	)
	if banned {
		p, err = s.playerService.Ban(r.Context(), id)
	} else {
		p, err = s.playerService.Unban(r.Context(), id)
	}
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.log().Info("player ban changed", "player_id", id, "banned", banned, "staff_id", userIDFrom(r.Context()))
	writeJSON(w, http.StatusOK, playerResponse{ID: p.ID, Username: p.Username, Banned: p.Banned})
}

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := activity.Filters{
		RequestID: q.Get("request_id"),
		ActorID:   q.Get("actor_id"),
		Action:    q.Get("action"),
	}
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filters.Since = &since
	}

	entries, err := s.activityLog.List(r.Context(), filters)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	items := make([]activityResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, activityResponse{
			ID:        e.ID,
			RequestID: e.RequestID,
			ActorID:   e.ActorID,
			Action:    e.Action,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, listResponse[activityResponse]{Items: items, Total: len(items)})
}
