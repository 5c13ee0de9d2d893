package vault

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
	"github.com/CptDat9/loomix-vault-factory/internal/strategy"
)

// Saver persists committed snapshots. Failures are logged, not returned.
type Saver interface {
	Save(snap model.VaultSnapshot) error
}

// state is everything a vault owns. It is only touched under Vault.mu.
type state struct {
	totalShares     uint256.Int
	totalIdle       uint256.Int
	totalDebt       uint256.Int
	balances        map[string]uint256.Int
	strategies      map[string]model.StrategyEntry
	queue           []string
	unlock          unlockSchedule
	autoAllocate    bool
	depositLimit    uint256.Int
	hasDepositLimit bool
}

func (s state) clone() state {
	c := s
	c.balances = maps.Clone(s.balances)
	c.strategies = maps.Clone(s.strategies)
	c.queue = slices.Clone(s.queue)
	return c
}

// Vault is a single-asset, multi-strategy allocation vault. Every operation
// runs under one mutex, so mutations never interleave and reads always see a
// settled state.
type Vault struct {
	mu sync.Mutex

	id     string
	params model.VaultParams
	st     state
	caps   map[string]strategy.Strategy

	auth             Authorizer
	emitter          events.Emitter
	saver            Saver
	logger           *zap.Logger
	now              func() time.Time
	valuationTimeout time.Duration
}

// Option configures a Vault.
type Option func(*Vault)

// WithEmitter routes committed events to e.
func WithEmitter(e events.Emitter) Option {
	return func(v *Vault) {
		if e != nil {
			v.emitter = e
		}
	}
}

// WithLogger sets the vault logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Vault) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		if now != nil {
			v.now = now
		}
	}
}

// WithAuthorizer replaces the default in-memory role table.
func WithAuthorizer(a Authorizer) Option {
	return func(v *Vault) {
		if a != nil {
			v.auth = a
		}
	}
}

// WithSaver persists a snapshot after every committed mutation.
func WithSaver(s Saver) Option {
	return func(v *Vault) { v.saver = s }
}

// WithValuationTimeout bounds each strategy valuation call made by ProcessReport.
func WithValuationTimeout(d time.Duration) Option {
	return func(v *Vault) { v.valuationTimeout = d }
}

// New creates an empty vault. The governance account from params is granted
// RoleGovernance on the default role table.
func New(id string, params model.VaultParams, opts ...Option) (*Vault, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidParams)
	}
	if strings.TrimSpace(params.Asset) == "" {
		return nil, fmt.Errorf("%w: asset is required", ErrInvalidParams)
	}
	if strings.TrimSpace(params.Governance) == "" {
		return nil, fmt.Errorf("%w: governance is required", ErrInvalidParams)
	}
	if params.ProfitMaxUnlock < 0 {
		return nil, fmt.Errorf("%w: negative profit unlock duration", ErrInvalidParams)
	}

	roles := NewRoles()
	roles.Grant(RoleGovernance, params.Governance)

	v := &Vault{
		id:      id,
		params:  params,
		caps:    make(map[string]strategy.Strategy),
		auth:    roles,
		emitter: events.Noop{},
		logger:  zap.NewNop(),
		now:     time.Now,
		st: state{
			balances:   make(map[string]uint256.Int),
			strategies: make(map[string]model.StrategyEntry),
			unlock:     unlockSchedule{duration: uint64(params.ProfitMaxUnlock / time.Second)},
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With(zap.String("vault", id))
	return v, nil
}

func (v *Vault) ID() string { return v.id }

func (v *Vault) Params() model.VaultParams { return v.params }

// Authorizer returns the collaborator that answers role checks.
func (v *Vault) Authorizer() Authorizer { return v.auth }

// HasRole reports whether caller holds role.
func (v *Vault) HasRole(role Role, caller string) bool { return v.auth.HasRole(role, caller) }

func (v *Vault) clock() uint64 { return unixSeconds(v.now()) }

func unixSeconds(t time.Time) uint64 {
	secs := t.Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs)
}

// exec runs fn as one serialized mutation. The role check happens before the
// lock is taken; fn must leave v.st untouched when it returns an error.
// Events are emitted after the lock is released.
func (v *Vault) exec(caller string, role Role, fn func(now uint64) ([]events.Event, error)) error {
	if role != "" && !v.auth.HasRole(role, caller) {
		return fmt.Errorf("%w: %q requires %s", ErrUnauthorized, caller, role)
	}

	evts, err := v.commit(fn)
	if err != nil {
		return err
	}
	for _, evt := range evts {
		v.emitter.Emit(evt)
	}
	return nil
}

// commit holds the lock for fn and the snapshot save. A panic raised by a
// strategy inside fn rolls the state back and surfaces as
// ErrStrategyUnavailable, leaving the vault usable.
func (v *Vault) commit(fn func(now uint64) ([]events.Event, error)) (evts []events.Event, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev, prevCaps := v.st.clone(), maps.Clone(v.caps)
	defer func() {
		if r := recover(); r != nil {
			v.st, v.caps = prev, prevCaps
			v.logger.Error("vault operation panicked", zap.String("vault", v.id), zap.Any("panic", r))
			evts, err = nil, fmt.Errorf("%w: panic: %v", ErrStrategyUnavailable, r)
		}
	}()

	evts, err = fn(v.clock())
	if err == nil && v.saver != nil && len(evts) > 0 {
		if serr := v.saver.Save(v.snapshotLocked()); serr != nil {
			v.logger.Error("persist snapshot failed", zap.Error(serr))
		}
	}
	return evts, err
}

// activeStrategy returns the entry and capability for an active strategy.
func (v *Vault) activeStrategy(id string) (model.StrategyEntry, strategy.Strategy, error) {
	entry, ok := v.st.strategies[id]
	if !ok {
		return model.StrategyEntry{}, nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
	}
	if !entry.Active() {
		return model.StrategyEntry{}, nil, fmt.Errorf("%w: %s", ErrStrategyNotActive, id)
	}
	s, ok := v.caps[id]
	if !ok {
		return model.StrategyEntry{}, nil, fmt.Errorf("%w: no capability for %s", ErrUnknownStrategy, id)
	}
	return entry, s, nil
}

// Strategy returns the accounting entry for id.
func (v *Vault) Strategy(id string) (model.StrategyEntry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.st.strategies[id]
	return e, ok
}

// Strategies returns every entry, active or revoked, sorted by id.
func (v *Vault) Strategies() []model.StrategyEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.StrategyEntry, 0, len(v.st.strategies))
	for _, e := range v.st.strategies {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AutoAllocate reports whether deposits are pushed into the queue.
func (v *Vault) AutoAllocate() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.autoAllocate
}

// ProfitUnlockDuration returns the current release window for gains.
func (v *Vault) ProfitUnlockDuration() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return time.Duration(v.st.unlock.duration) * time.Second
}

// FullUnlockAt returns when the currently locked profit is fully released.
func (v *Vault) FullUnlockAt() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return time.Unix(int64(v.st.unlock.fullUnlock), 0)
}

// SetAutoAllocate toggles auto-allocation of deposits.
func (v *Vault) SetAutoAllocate(_ context.Context, caller string, enabled bool) error {
	return v.exec(caller, RoleGovernance, func(now uint64) ([]events.Event, error) {
		v.st.autoAllocate = enabled
		return []events.Event{events.ConfigUpdated{
			VaultID: v.id, Key: "auto_allocate", Value: fmt.Sprintf("%t", enabled), Timestamp: now,
		}}, nil
	})
}

// SetProfitUnlockDuration changes the release window for future gains. Zero
// releases everything currently locked.
func (v *Vault) SetProfitUnlockDuration(_ context.Context, caller string, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative profit unlock duration", ErrInvalidParams)
	}
	return v.exec(caller, RoleGovernance, func(now uint64) ([]events.Event, error) {
		v.st.unlock.setDuration(now, uint64(d/time.Second))
		return []events.Event{events.ConfigUpdated{
			VaultID: v.id, Key: "profit_unlock", Value: d.String(), Timestamp: now,
		}}, nil
	})
}

// SetDepositLimit caps total assets accepted through Deposit. nil removes the cap.
func (v *Vault) SetDepositLimit(_ context.Context, caller string, limit *uint256.Int) error {
	return v.exec(caller, RoleGovernance, func(now uint64) ([]events.Event, error) {
		value := "unlimited"
		if limit == nil {
			v.st.depositLimit = uint256.Int{}
			v.st.hasDepositLimit = false
		} else {
			v.st.depositLimit = *limit
			v.st.hasDepositLimit = true
			value = limit.Dec()
		}
		return []events.Event{events.ConfigUpdated{
			VaultID: v.id, Key: "deposit_limit", Value: value, Timestamp: now,
		}}, nil
	})
}

// GrantRole assigns role to account. Requires governance and a RoleManager.
func (v *Vault) GrantRole(_ context.Context, caller string, role Role, account string) error {
	return v.changeRole(caller, role, account, true)
}

// RevokeRole removes role from account.
func (v *Vault) RevokeRole(_ context.Context, caller string, role Role, account string) error {
	return v.changeRole(caller, role, account, false)
}

func (v *Vault) changeRole(caller string, role Role, account string, grant bool) error {
	return v.exec(caller, RoleGovernance, func(now uint64) ([]events.Event, error) {
		rm, ok := v.auth.(RoleManager)
		if !ok {
			return nil, ErrReadOnlyRoles
		}
		if strings.TrimSpace(account) == "" {
			return nil, fmt.Errorf("%w: account is required", ErrInvalidParams)
		}
		key := "role_grant"
		if grant {
			rm.Grant(role, account)
		} else {
			key = "role_revoke"
			rm.Revoke(role, account)
		}
		return []events.Event{events.ConfigUpdated{
			VaultID: v.id, Key: key, Value: string(role) + ":" + account, Timestamp: now,
		}}, nil
	})
}
