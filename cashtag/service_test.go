package cashtag

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestCreate_NormalizesHandleAndRejectsDuplicates(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateParams{Handle: "  $$PayDesk ", Provider: "cashapp", DailyLimit: decimal.NewFromInt(500)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Handle != "$paydesk" {
		t.Fatalf("expected normalized handle, got %q", c.Handle)
	}
	if c.Status != StatusActive {
		t.Fatalf("expected new cashtag to be active, got %s", c.Status)
	}

	if _, err := svc.Create(ctx, CreateParams{Handle: "paydesk", Provider: "cashapp"}); !errors.Is(err, ErrDuplicateHandle) {
		t.Fatalf("expected ErrDuplicateHandle, got %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(newFakeStore())
	ctx := context.Background()

	cases := []CreateParams{
		{Handle: "$", Provider: "cashapp"},
		{Handle: "desk", Provider: " "},
		{Handle: "desk", Provider: "cashapp", DailyLimit: decimal.NewFromInt(-1)},
	}
	for _, p := range cases {
		if _, err := svc.Create(ctx, p); !errors.Is(err, ErrInvalid) {
			t.Errorf("%+v: expected ErrInvalid, got %v", p, err)
		}
	}
}

func TestUpdate_StatusLifecycle(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store)
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateParams{Handle: "desk", Provider: "cashapp"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	paused := StatusPaused
	got, err := svc.Update(ctx, c.ID, UpdateParams{Status: &paused})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != StatusPaused {
		t.Fatalf("expected paused, got %s", got.Status)
	}

	bogus := Status("frozen")
	if _, err := svc.Update(ctx, c.ID, UpdateParams{Status: &bogus}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}

	active, err := svc.List(ctx, StatusActive, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("paused cashtag listed as active")
	}

	if err := svc.Delete(ctx, c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetByID(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

type fakeStore struct {
	rows map[string]Cashtag
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]Cashtag{}}
}

func (f *fakeStore) Create(_ context.Context, p CreateParams) (Cashtag, error) {
	for _, c := range f.rows {
		if c.Handle == p.Handle {
			return Cashtag{}, ErrDuplicateHandle
		}
	}
	c := Cashtag{ID: uuid.NewString(), Handle: p.Handle, Provider: p.Provider, Status: StatusActive, DailyLimit: p.DailyLimit}
	f.rows[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (Cashtag, error) {
	c, ok := f.rows[id]
	if !ok {
		return Cashtag{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) List(_ context.Context, status Status, _ int) ([]Cashtag, error) {
	var out []Cashtag
	for _, c := range f.rows {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, id string, p UpdateParams) (Cashtag, error) {
	c, ok := f.rows[id]
	if !ok {
		return Cashtag{}, ErrNotFound
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Provider != nil {
		c.Provider = *p.Provider
	}
	if p.DailyLimit != nil {
		c.DailyLimit = *p.DailyLimit
	}
	f.rows[id] = c
	return c, nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	if _, ok := f.rows[id]; !ok {
		return ErrNotFound
	}
	delete(f.rows, id)
	return nil
}
