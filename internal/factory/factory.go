package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CptDat9/loomix-vault-factory/internal/events"
	"github.com/CptDat9/loomix-vault-factory/internal/model"
	"github.com/CptDat9/loomix-vault-factory/internal/store"
	"github.com/CptDat9/loomix-vault-factory/internal/strategy"
	"github.com/CptDat9/loomix-vault-factory/internal/vault"
)

// ErrVaultNotFound is returned for an unknown vault id or index.
var ErrVaultNotFound = errors.New("factory: vault not found")

// VaultInfo pairs a vault id with its creation parameters.
type VaultInfo struct {
	ID     string
	Params model.VaultParams
}

// Factory creates vaults and keeps them in creation order.
type Factory struct {
	mu     sync.RWMutex
	vaults []*vault.Vault
	byID   map[string]*vault.Vault
	// owner maps a strategy id to the vault it was first bound to. Bindings
	// survive revocation so a revoked entry can only return to its own vault.
	owner map[string]string

	dir              *strategy.Directory
	store            store.Store
	emitter          events.Emitter
	logger           *zap.Logger
	now              func() time.Time
	valuationTimeout time.Duration
	newID            func() (string, error)
}

// Option configures a Factory.
type Option func(*Factory)

// WithStore persists every vault after each committed mutation.
func WithStore(s store.Store) Option {
	return func(f *Factory) { f.store = s }
}

func WithEmitter(e events.Emitter) Option {
	return func(f *Factory) {
		if e != nil {
			f.emitter = e
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Factory) {
		if now != nil {
			f.now = now
		}
	}
}

// WithValuationTimeout is passed to every vault the factory creates or restores.
func WithValuationTimeout(d time.Duration) Option {
	return func(f *Factory) { f.valuationTimeout = d }
}

// WithIDGenerator overrides vault id generation.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(f *Factory) {
		if gen != nil {
			f.newID = gen
		}
	}
}

// New creates a Factory that resolves strategies through dir.
func New(dir *strategy.Directory, opts ...Option) *Factory {
	if dir == nil {
		dir, _ = strategy.NewDirectory()
	}
	f := &Factory{
		byID:    make(map[string]*vault.Vault),
		owner:   make(map[string]string),
		dir:     dir,
		emitter: events.Noop{},
		logger:  zap.NewNop(),
		now:     time.Now,
		newID:   timeOrderedID,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// timeOrderedID returns a UUIDv7 so that ids sort in creation order, which
// keeps vault indexes stable across a restore.
func timeOrderedID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Directory returns the strategy directory vaults resolve capabilities from.
func (f *Factory) Directory() *strategy.Directory { return f.dir }

func (f *Factory) vaultOptions(roles vault.Authorizer) []vault.Option {
	opts := []vault.Option{
		vault.WithEmitter(f.emitter),
		vault.WithLogger(f.logger),
		vault.WithClock(f.now),
		vault.WithValuationTimeout(f.valuationTimeout),
	}
	if roles != nil {
		opts = append(opts, vault.WithAuthorizer(roles))
	}
	if f.store != nil {
		opts = append(opts, vault.WithSaver(f.store))
	}
	return opts
}

// CreateVault deploys a new empty vault. Governance receives every role.
func (f *Factory) CreateVault(_ context.Context, params model.VaultParams) (*vault.Vault, error) {
	id, err := f.newID()
	if err != nil {
		return nil, fmt.Errorf("generate vault id: %w", err)
	}

	roles := vault.NewRoles()
	for _, role := range vault.AllRoles {
		roles.Grant(role, params.Governance)
	}
	v, err := vault.New(id, params, f.vaultOptions(roles)...)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.vaults = append(f.vaults, v)
	f.byID[id] = v
	f.mu.Unlock()

	if f.store != nil {
		if err := f.store.Save(v.Snapshot()); err != nil {
			f.logger.Error("persist new vault failed", zap.String("vault", id), zap.Error(err))
		}
	}

	ts := f.now().Unix()
	if ts < 0 {
		ts = 0
	}
	f.emitter.Emit(events.VaultCreated{
		VaultID:     id,
		AgentName:   params.AgentName,
		Asset:       params.Asset,
		TokenName:   params.TokenName,
		TokenSymbol: params.TokenSymbol,
		Governance:  params.Governance,
		Timestamp:   uint64(ts),
	})
	f.logger.Info("vault created",
		zap.String("vault", id),
		zap.String("asset", params.Asset),
		zap.String("governance", params.Governance))
	return v, nil
}

// AddStrategy resolves strategyID in the directory and registers it with the
// vault on behalf of caller.
func (f *Factory) AddStrategy(ctx context.Context, caller, vaultID, strategyID string, addToQueue bool) error {
	v, err := f.VaultByID(vaultID)
	if err != nil {
		return err
	}
	s, ok := f.dir.Get(strategyID)
	if !ok {
		return fmt.Errorf("%w: %s is not in the strategy directory", vault.ErrUnknownStrategy, strategyID)
	}

	f.mu.Lock()
	bound, ok := f.owner[strategyID]
	if ok && bound != vaultID {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s is bound to vault %s", vault.ErrStrategyBound, strategyID, bound)
	}
	f.owner[strategyID] = vaultID
	f.mu.Unlock()

	if err := v.RegisterStrategy(ctx, caller, s, addToQueue); err != nil {
		if !ok {
			f.mu.Lock()
			delete(f.owner, strategyID)
			f.mu.Unlock()
		}
		return err
	}
	return nil
}

// Restore loads every persisted vault. It must run before any vault is
// created. Snapshots that fail validation abort the restore.
func (f *Factory) Restore(_ context.Context) (int, error) {
	if f.store == nil {
		return 0, nil
	}
	snaps, err := f.store.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("load vaults: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.vaults) > 0 {
		return 0, errors.New("factory: restore into a non-empty factory")
	}
	for _, snap := range snaps {
		for _, st := range snap.Strategies {
			if bound, ok := f.owner[st.ID]; ok && bound != snap.ID {
				return 0, fmt.Errorf("%w: %s is bound to vaults %s and %s", vault.ErrStrategyBound, st.ID, bound, snap.ID)
			}
			f.owner[st.ID] = snap.ID
		}
		v, err := vault.Restore(snap, f.dir, f.vaultOptions(nil)...)
		if err != nil {
			return 0, err
		}
		f.vaults = append(f.vaults, v)
		f.byID[v.ID()] = v
	}
	f.logger.Info("vaults restored", zap.Int("count", len(snaps)))
	return len(snaps), nil
}

// Len returns the number of vaults.
func (f *Factory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vaults)
}

// ListVaults returns every vault id in creation order.
func (f *Factory) ListVaults() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, len(f.vaults))
	for i, v := range f.vaults {
		ids[i] = v.ID()
	}
	return ids
}

// ListVaultsWithParams returns ids with creation parameters, in creation order.
func (f *Factory) ListVaultsWithParams() []VaultInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]VaultInfo, len(f.vaults))
	for i, v := range f.vaults {
		out[i] = VaultInfo{ID: v.ID(), Params: v.Params()}
	}
	return out
}

// Vaults returns the vaults in creation order.
func (f *Factory) Vaults() []*vault.Vault {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*vault.Vault, len(f.vaults))
	copy(out, f.vaults)
	return out
}

// Vault returns the vault at index i.
func (f *Factory) Vault(i int) (*vault.Vault, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i < 0 || i >= len(f.vaults) {
		return nil, fmt.Errorf("%w: index %d", ErrVaultNotFound, i)
	}
	return f.vaults[i], nil
}

// VaultByID returns the vault with the given id.
func (f *Factory) VaultByID(id string) (*vault.Vault, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, id)
	}
	return v, nil
}
