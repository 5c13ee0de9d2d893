package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
)

// Strategy is the capability a vault needs from an external yield strategy.
// Implementations may fail or return less than requested on any call.
type Strategy interface {
	ID() string
	// CurrentValue returns the total value the strategy holds for the vault.
	CurrentValue(ctx context.Context) (uint256.Int, error)
	// Deposit hands amount to the strategy and returns how much it accepted.
	Deposit(ctx context.Context, amount uint256.Int) (uint256.Int, error)
	// Withdraw asks for amount back. recovered is what actually arrived;
	// loss is capital the strategy realized as lost while unwinding.
	Withdraw(ctx context.Context, amount uint256.Int) (recovered, loss uint256.Int, err error)
}

// Previewer is implemented by strategies that can quote a withdrawal without
// moving funds. Vaults use it to reject lossy withdrawals up front.
type Previewer interface {
	PreviewWithdraw(ctx context.Context, amount uint256.Int) (recovered, loss uint256.Int, err error)
}

// Directory resolves strategy identifiers to capabilities.
type Directory struct {
	mu   sync.RWMutex
	byID map[string]Strategy
}

// NewDirectory creates a Directory holding the given strategies.
func NewDirectory(strategies ...Strategy) (*Directory, error) {
	d := &Directory{byID: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		if err := d.Add(s); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add registers a strategy. Identifiers must be unique.
func (d *Directory) Add(s Strategy) error {
	if s == nil || s.ID() == "" {
		return fmt.Errorf("strategy directory: strategy id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[s.ID()]; ok {
		return fmt.Errorf("strategy directory: duplicate strategy %q", s.ID())
	}
	d.byID[s.ID()] = s
	return nil
}

// Get looks a strategy up by id.
func (d *Directory) Get(id string) (Strategy, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.byID[id]
	return s, ok
}

// IDs returns every known identifier in sorted order.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.byID))
	for id := range d.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
