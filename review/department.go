package review

import (
	"context"
	"fmt"

	"reviewdesk/lock"
	"reviewdesk/request"
)

// Guard runs before Acquire. Returning an error matching ErrGuardRejected
// refuses the action; any other error is passed through. Either way no lock
// is taken.
type Guard func(ctx context.Context, req request.Request, action request.Action) error

// ActionSpec binds an action to the dialog that owns the lock while it is
// reviewed and the guards checked before acquiring.
type ActionSpec struct {
	Modal  lock.ModalType
	Guards []Guard
}

// Department parameterizes one Controller: which requests it shows and
// which actions it may run on them.
type Department struct {
	Name    string
	Filter  request.Filters
	Actions map[request.Action]ActionSpec
}

const (
	ViewFinance      = "finance"
	ViewOperations   = "operations"
	ViewVerification = "verification"
	ViewDisputes     = "disputes"
)

// Views lists the preset names accepted by Preset.
var Views = []string{ViewFinance, ViewOperations, ViewVerification, ViewDisputes}

// Preset returns the named department. guards are attached to every action.
func Preset(name string, guards ...Guard) (Department, error) {
	switch name {
	case ViewFinance:
		return newDepartment(name, request.KindRedeem,
			[]request.Status{request.StatusQueued, request.StatusQueuedPartiallyPaid, request.StatusPaused},
			[]request.Action{request.ActionPay, request.ActionPause, request.ActionResume, request.ActionReject},
			guards), nil
	case ViewOperations:
		return newDepartment(name, request.KindRedeem,
			[]request.Status{request.StatusPending},
			[]request.Action{request.ActionApprove, request.ActionReject},
			guards), nil
	case ViewVerification:
		return newDepartment(name, request.KindRedeem,
			[]request.Status{request.StatusVerificationPending},
			[]request.Action{request.ActionVerify, request.ActionReject},
			guards), nil
	case ViewDisputes:
		return newDepartment(name, request.KindDisputed,
			[]request.Status{request.StatusDisputed},
			[]request.Action{request.ActionResolve, request.ActionReject},
			guards), nil
	default:
		return Department{}, fmt.Errorf("review: unknown view %q", name)
	}
}

func newDepartment(name string, kind request.Kind, statuses []request.Status, actions []request.Action, guards []Guard) Department {
	d := Department{
		Name:    name,
		Filter:  request.Filters{Kind: kind, Statuses: statuses, PageSize: 100},
		Actions: make(map[request.Action]ActionSpec, len(actions)),
	}
	for _, a := range actions {
		d.Actions[a] = ActionSpec{Modal: a.Modal(), Guards: guards}
	}
	return d
}

// Allows reports whether the department can run action inside modal.
func (d Department) Allows(action request.Action, modal lock.ModalType) bool {
	spec, ok := d.Actions[action]
	return ok && spec.Modal == modal
}

// BanChecker reports whether a player is banned.
type BanChecker interface {
	IsBanned(ctx context.Context, playerID string) (bool, error)
}

// BannedPlayerGuard refuses any action on requests from banned players.
func BannedPlayerGuard(players BanChecker) Guard {
	return func(ctx context.Context, req request.Request, _ request.Action) error {
		banned, err := players.IsBanned(ctx, req.PlayerID)
		if err != nil {
			return err
		}
		if banned {
			return Reject("banned_player", "the player is banned")
		}
		return nil
	}
}
