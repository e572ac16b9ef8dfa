// Package player exposes the slice of player data staff workflows need:
// identity and the ban flag checked before any review action.
package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("player: not found")
	ErrDuplicate = errors.New("player: username already exists")
)

type Player struct {
	ID        string
	Username  string
	Banned    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, username string) (Player, error) {
	const q = `
		INSERT INTO players (username) VALUES ($1)
		RETURNING id::text, username, is_banned, created_at, updated_at
	`
	p, err := scanPlayer(r.pool.QueryRow(ctx, q, username))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Player{}, ErrDuplicate
		}
		return Player{}, fmt.Errorf("player: create: %w", err)
	}
	return p, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Player, error) {
	const q = `
		SELECT id::text, username, is_banned, created_at, updated_at
		FROM players
		WHERE id = $1
	`
	p, err := scanPlayer(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Player{}, ErrNotFound
		}
		return Player{}, fmt.Errorf("player: get: %w", err)
	}
	return p, nil
}

func (r *Repository) SetBanned(ctx context.Context, id string, banned bool) (Player, error) {
	const q = `
		UPDATE players SET is_banned = $2, updated_at = now()
		WHERE id = $1
		RETURNING id::text, username, is_banned, created_at, updated_at
	`
	p, err := scanPlayer(r.pool.QueryRow(ctx, q, id, banned))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Player{}, ErrNotFound
		}
		return Player{}, fmt.Errorf("player: set banned: %w", err)
	}
	return p, nil
}

func scanPlayer(row pgx.Row) (Player, error) {
	var p Player
	return p, row.Scan(&p.ID, &p.Username, &p.Banned, &p.CreatedAt, &p.UpdatedAt)
}

// Reader is what Service needs from storage.
type Reader interface {
	Get(ctx context.Context, id string) (Player, error)
	SetBanned(ctx context.Context, id string, banned bool) (Player, error)
}

type Service struct {
	repo Reader
}

func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id string) (Player, error) {
	return s.repo.Get(ctx, id)
}

// IsBanned reports the ban flag for a player.
func (s *Service) IsBanned(ctx context.Context, id string) (bool, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return p.Banned, nil
}

func (s *Service) Ban(ctx context.Context, id string) (Player, error) {
	return s.repo.SetBanned(ctx, id, true)
}

func (s *Service) Unban(ctx context.Context, id string) (Player, error) {
	return s.repo.SetBanned(ctx, id, false)
}
