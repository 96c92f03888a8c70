// Package cli holds operator helpers invoked outside the request path.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/products"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// ReplayCLI verifies and repairs the materialized inventory state from the
// transaction ledger.
type ReplayCLI struct {
	repo     *inventory.Repository
	replayer *inventory.Replayer
	close    func()
}

// NewReplayCLI connects to the database and prepares the replay helpers.
func NewReplayCLI(ctx context.Context, dsn string) (*ReplayCLI, error) {
	pool, err := db.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	repo := inventory.NewRepository(pool)
	lookup := products.NewCostingLookup(products.NewRepository(pool))
	return &ReplayCLI{
		repo:     repo,
		replayer: inventory.NewReplayer(repo, lookup),
		close:    pool.Close,
	}, nil
}

// Close releases the database pool.
func (c *ReplayCLI) Close() {
	if c != nil && c.close != nil {
		c.close()
	}
}

// Verify reports every divergence between the stored balances/layers and a
// fresh ledger rebuild, writing one line per mismatch.
func (c *ReplayCLI) Verify(ctx context.Context, out io.Writer) (int, error) {
	mismatches, err := c.replayer.Verify(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range mismatches {
		fmt.Fprintln(out, m.String())
	}
	return len(mismatches), nil
}

// Rebuild replaces the stored balances and layers with a full ledger rebuild.
// Run Verify first; Rebuild is the repair step, not the diagnostic.
func (c *ReplayCLI) Rebuild(ctx context.Context) error {
	state, err := c.replayer.Rebuild(ctx)
	if err != nil {
		return err
	}
	return c.repo.RestoreState(ctx, state)
}

// Run dispatches a replay verb: "verify" or "rebuild".
func (c *ReplayCLI) Run(ctx context.Context, verb string, out io.Writer) error {
	switch verb {
	case "verify":
		count, err := c.Verify(ctx, out)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("replay: %d mismatches found", count)
		}
		fmt.Fprintln(out, "replay: materialized state matches the ledger")
		return nil
	case "rebuild":
		if err := c.Rebuild(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "replay: balances and layers rebuilt from the ledger")
		return nil
	default:
		return errors.New("replay: expected verb verify or rebuild")
	}
}
