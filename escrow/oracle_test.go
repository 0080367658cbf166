package escrow

import (
	"context"
	"testing"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOracle_Collection(t *testing.T) {
	ledger := newFakeLedger()
	for id := int64(1); id <= 120; id++ {
		ledger.minted[id] = true
	}
	ledger.mint(addr1, 3)
	ledger.mint(addr1, 60)
	ledger.mint(addr1, 117)
	ledger.mint(addr2, 5)

	o := NewOracle(ledger, slog.Disabled)
	owned, err := o.Collection(context.Background(), addr1, 120)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 60, 117}, owned)

	// Unminted ids are never queried for balances.
	owned, err = o.Collection(context.Background(), addr1, 2)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestOracle_Collection_BatchFallback(t *testing.T) {
	ledger := newFakeLedger()
	for id := int64(1); id <= 10; id++ {
		ledger.minted[id] = true
	}
	ledger.mint(addr1, 2)
	ledger.mint(addr1, 9)
	ledger.failBatch = true

	o := NewOracle(ledger, slog.Disabled)
	owned, err := o.Collection(context.Background(), addr1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 9}, owned)
}

func TestOracle_Collection_BadTokenSkipped(t *testing.T) {
	ledger := newFakeLedger()
	for id := int64(1); id <= 5; id++ {
		ledger.minted[id] = true
	}
	ledger.mint(addr1, 1)
	ledger.mint(addr1, 4)
	// Token 4 fails both paths; it reads as not owned instead of sinking
	// the whole scan.
	ledger.failTokenIDs[4] = true

	o := NewOracle(ledger, slog.Disabled)
	owned, err := o.Collection(context.Background(), addr1, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, owned)
}

func TestOracle_OwnsToken(t *testing.T) {
	ledger := newFakeLedger()
	ledger.mint(addr1, 7)

	o := NewOracle(ledger, slog.Disabled)
	owns, err := o.OwnsToken(context.Background(), addr1, 7)
	require.NoError(t, err)
	assert.True(t, owns)

	owns, err = o.OwnsToken(context.Background(), addr2, 7)
	require.NoError(t, err)
	assert.False(t, owns)

	ledger.failTokenIDs[7] = true
	_, err = o.OwnsToken(context.Background(), addr1, 7)
	require.Error(t, err)
	assert.Equal(t, KindChainError, KindOf(err))
}

func TestOracle_ArbitrateWinner(t *testing.T) {
	ledger := newFakeLedger()
	o := NewOracle(ledger, slog.Disabled)
	ctx := context.Background()

	// Claimed winner holds the first staked token: claim stands.
	ledger.mint(addr1, 10)
	winner, err := o.ArbitrateWinner(ctx, addr1, addr2, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, addr1, winner)

	// Claimed winner lost custody; the other player holds their stake.
	ledger.balances[addr1][10] = 0
	ledger.mint(addr2, 20)
	winner, err = o.ArbitrateWinner(ctx, addr1, addr2, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, addr2, winner)

	// Neither holds anything: the claim is left standing.
	ledger.balances[addr2][20] = 0
	winner, err = o.ArbitrateWinner(ctx, addr1, addr2, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, addr1, winner)
}
