// Package account maps local-user indices to the platform identities they
// are logged in as.
package account

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/logging"
	"github.com/matheus3301/netid/internal/status"
)

type slot struct {
	machine *status.Machine
	id      identity.Identity
	account string
}

// Registry owns the fixed set of local-user slots.
type Registry struct {
	mu       sync.RWMutex
	slots    []*slot
	platform backend.Platform
	logger   *zap.Logger
}

// NewRegistry creates maxLocalUsers logged-out slots.
func NewRegistry(p backend.Platform, maxLocalUsers int, b *bus.Bus, logger *zap.Logger) *Registry {
	slots := make([]*slot, maxLocalUsers)
	for i := range slots {
		slots[i] = &slot{machine: status.NewMachine(i, b)}
	}
	return &Registry{
		slots:    slots,
		platform: p,
		logger:   logging.OrNop(logger),
	}
}

// Max returns the number of local-user slots.
func (r *Registry) Max() int { return len(r.slots) }

func (r *Registry) slot(localUser int) (*slot, error) {
	if localUser < 0 || localUser >= len(r.slots) {
		return nil, fmt.Errorf("local user %d out of range [0,%d): %w", localUser, len(r.slots), errs.ErrInvalidLocalUser)
	}
	return r.slots[localUser], nil
}

// Login starts a platform login for localUser. cb fires once with the
// identity the platform reports, or the failure.
func (r *Registry) Login(localUser int, creds backend.Credentials, cb func(identity.Identity, error)) error {
	s, err := r.slot(localUser)
	if err != nil {
		return err
	}
	if err := s.machine.Transition(status.LoggingIn); err != nil {
		return fmt.Errorf("login local user %d: %w", localUser, errs.ErrOperationInProgress)
	}
	if cb == nil {
		cb = func(identity.Identity, error) {}
	}

	r.logger.Info("login started", zap.Int("local_user", localUser), zap.String("kind", string(creds.Kind)))
	r.platform.Login(creds, func(id identity.Identity, err error) {
		if err == nil && !id.IsValid() {
			err = errs.Rejected(500, "platform returned an invalid identity")
		}
		if err != nil {
			_ = s.machine.TransitionFrom(status.LoggingIn, status.LoggedOut)
			r.logger.Warn("login failed", zap.Int("local_user", localUser), zap.Error(err))
			cb(identity.Invalid, err)
			return
		}

		r.mu.Lock()
		s.id = id
		s.account = creds.Account
		r.mu.Unlock()
		if terr := s.machine.TransitionFrom(status.LoggingIn, status.LoggedIn); terr != nil {
			r.logger.Warn("login completed out of order", zap.Int("local_user", localUser), zap.Error(terr))
		}
		r.logger.Info("logged in", zap.Int("local_user", localUser), zap.String("identity", id.String()))
		cb(id, nil)
	})
	return nil
}

// Logout logs localUser out. On platform failure the user stays logged in.
func (r *Registry) Logout(localUser int, cb func(error)) error {
	s, err := r.slot(localUser)
	if err != nil {
		return err
	}
	id, err := r.Identity(localUser)
	if err != nil {
		return err
	}
	if err := s.machine.TransitionFrom(status.LoggedIn, status.LoggingOut); err != nil {
		return fmt.Errorf("logout local user %d: %w", localUser, errs.ErrOperationInProgress)
	}
	if cb == nil {
		cb = func(error) {}
	}

	r.platform.Logout(id, func(err error) {
		if err != nil {
			_ = s.machine.TransitionFrom(status.LoggingOut, status.LoggedIn)
			r.logger.Warn("logout failed", zap.Int("local_user", localUser), zap.Error(err))
			cb(err)
			return
		}
		r.mu.Lock()
		s.id = identity.Invalid
		s.account = ""
		r.mu.Unlock()
		_ = s.machine.TransitionFrom(status.LoggingOut, status.LoggedOut)
		r.logger.Info("logged out", zap.Int("local_user", localUser))
		cb(nil)
	})
	return nil
}

// Identity returns the identity localUser is logged in as. It fails with
// ErrInvalidLocalUser unless the user is logged in.
func (r *Registry) Identity(localUser int) (identity.Identity, error) {
	s, err := r.slot(localUser)
	if err != nil {
		return identity.Invalid, err
	}
	if s.machine.Current() != status.LoggedIn {
		return identity.Invalid, fmt.Errorf("local user %d is %s: %w", localUser, s.machine.Current(), errs.ErrInvalidLocalUser)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !s.id.IsValid() {
		return identity.Invalid, fmt.Errorf("local user %d has no identity: %w", localUser, errs.ErrInvalidLocalUser)
	}
	return s.id, nil
}

// Status returns localUser's login state; out-of-range users are LoggedOut.
func (r *Registry) Status(localUser int) status.State {
	s, err := r.slot(localUser)
	if err != nil {
		return status.LoggedOut
	}
	return s.machine.Current()
}

// Account returns the account name localUser logged in with.
func (r *Registry) Account(localUser int) string {
	s, err := r.slot(localUser)
	if err != nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return s.account
}

// LocalUserOf finds the logged-in slot holding id.
func (r *Registry) LocalUserOf(id identity.Identity) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, s := range r.slots {
		if s.id.IsValid() && s.id.Equal(id) {
			return i, true
		}
	}
	return -1, false
}

// LoggedIn lists the logged-in local users in index order.
func (r *Registry) LoggedIn() []int {
	var out []int
	for i, s := range r.slots {
		if s.machine.Current() == status.LoggedIn {
			out = append(out, i)
		}
	}
	return out
}

// ReplaceIdentity swaps old for upgraded in any slot holding old.
func (r *Registry) ReplaceIdentity(old, upgraded identity.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := false
	for _, s := range r.slots {
		if s.id.IsValid() && s.id.Equal(old) {
			s.id = upgraded
			replaced = true
		}
	}
	return replaced
}
