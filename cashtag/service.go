package cashtag

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid signals a create or update that fails validation.
var ErrInvalid = errors.New("cashtag: invalid input")

// Store abstracts repository operations for the service.
type Store interface {
	Create(ctx context.Context, p CreateParams) (Cashtag, error)
	GetByID(ctx context.Context, id string) (Cashtag, error)
	List(ctx context.Context, status Status, limit int) ([]Cashtag, error)
	Update(ctx context.Context, id string, p UpdateParams) (Cashtag, error)
	Delete(ctx context.Context, id string) error
}

// Service exposes business-level cashtag operations.
type Service struct {
	repo Store
}

// NewService builds a Service using the provided repository.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// Create normalizes the handle to a leading '$' and stores the cashtag.
func (s *Service) Create(ctx context.Context, p CreateParams) (Cashtag, error) {
	p.Handle = NormalizeHandle(p.Handle)
	p.Provider = strings.TrimSpace(p.Provider)
	if len(p.Handle) < 2 || p.Provider == "" {
		return Cashtag{}, fmt.Errorf("%w: handle and provider required", ErrInvalid)
	}
	if p.DailyLimit.IsNegative() {
		return Cashtag{}, fmt.Errorf("%w: daily limit must not be negative", ErrInvalid)
	}
	return s.repo.Create(ctx, p)
}

// GetByID returns the cashtag for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Cashtag, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit cashtags, optionally restricted to one status.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]Cashtag, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	return s.repo.List(ctx, status, limit)
}

// Update changes provider, status or daily limit.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (Cashtag, error) {
	if p.Status != nil && !p.Status.Valid() {
		return Cashtag{}, fmt.Errorf("%w: unknown status %q", ErrInvalid, *p.Status)
	}
	if p.DailyLimit != nil && p.DailyLimit.IsNegative() {
		return Cashtag{}, fmt.Errorf("%w: daily limit must not be negative", ErrInvalid)
	}
	return s.repo.Update(ctx, id, p)
}

// Delete removes the cashtag.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// NormalizeHandle trims whitespace, lowercases and ensures a '$' prefix.
func NormalizeHandle(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimLeft(h, "$")
	if h == "" {
		return ""
	}
	return "$" + h
}
