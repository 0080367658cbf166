package escrow

import (
	"context"
	"math/big"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
)

// balanceBatchSize caps how many token ids go into one balanceOfBatch call.
// Public RPC endpoints reject oversized multicalls well before gas limits.
const balanceBatchSize = 50

// Ledger is the read surface the oracle needs from the card contract.
// *CardLedger satisfies it; tests substitute fakes.
type Ledger interface {
	BalanceOf(ctx context.Context, owner common.Address, id *big.Int) (*big.Int, error)
	BalanceOfBatch(ctx context.Context, owner common.Address, ids []*big.Int) ([]*big.Int, error)
	Exists(ctx context.Context, id *big.Int) (bool, error)
}

// Oracle answers ownership questions against the card ledger. It keeps no
// state of its own; every answer reflects the chain at call time.
type Oracle struct {
	ledger Ledger
	log    slog.Logger
}

func NewOracle(ledger Ledger, log slog.Logger) *Oracle {
	return &Oracle{ledger: ledger, log: log}
}

// OwnsToken reports whether owner holds at least one unit of the token.
func (o *Oracle) OwnsToken(ctx context.Context, owner common.Address, tokenID int64) (bool, error) {
	bal, err := o.ledger.BalanceOf(ctx, owner, big.NewInt(tokenID))
	if err != nil {
		return false, Classify("balanceOf", err)
	}
	return bal.Sign() > 0, nil
}

// Collection scans token ids 1..maxTokenID and returns the ids the owner
// holds. Ids that were never minted are skipped via exists before querying
// balances. Batched reads are tried first; a failing batch degrades to
// per-token balanceOf so one bad id cannot blank the whole collection.
func (o *Oracle) Collection(ctx context.Context, owner common.Address, maxTokenID int64) ([]int64, error) {
	var candidates []*big.Int
	for id := int64(1); id <= maxTokenID; id++ {
		bid := big.NewInt(id)
		minted, err := o.ledger.Exists(ctx, bid)
		if err != nil {
			return nil, Classify("exists", err)
		}
		if minted {
			candidates = append(candidates, bid)
		}
	}

	var owned []int64
	for start := 0; start < len(candidates); start += balanceBatchSize {
		end := start + balanceBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		balances, err := o.ledger.BalanceOfBatch(ctx, owner, batch)
		if err != nil || len(balances) != len(batch) {
			o.log.Debugf("oracle: batch %d..%d failed (%v), retrying per token", start, end, err)
			balances = o.balancesOneByOne(ctx, owner, batch)
		}
		for i, bal := range balances {
			if bal != nil && bal.Sign() > 0 {
				owned = append(owned, batch[i].Int64())
			}
		}
	}
	return owned, nil
}

// balancesOneByOne is the degraded path: individual failures read as zero.
func (o *Oracle) balancesOneByOne(ctx context.Context, owner common.Address, ids []*big.Int) []*big.Int {
	balances := make([]*big.Int, len(ids))
	for i, id := range ids {
		bal, err := o.ledger.BalanceOf(ctx, owner, id)
		if err != nil {
			o.log.Debugf("oracle: balanceOf(%s, %s) failed: %v", owner, id, err)
			continue
		}
		balances[i] = bal
	}
	return balances
}

// ArbitrateWinner decides whether a claimed outcome matches current custody
// of the two staked tokens. The claimed winner's stake is checked first: if
// they hold it the claim stands, otherwise custody of the other stake
// decides. When neither wallet holds anything (stakes escrowed, or already
// moved) the claim is left standing.
func (o *Oracle) ArbitrateWinner(ctx context.Context, claimed, other common.Address, stakedFirst, stakedSecond int64) (common.Address, error) {
	holds, err := o.OwnsToken(ctx, claimed, stakedFirst)
	if err != nil {
		return common.Address{}, err
	}
	if holds {
		return claimed, nil
	}
	holds, err = o.OwnsToken(ctx, other, stakedSecond)
	if err != nil {
		return common.Address{}, err
	}
	if holds {
		return other, nil
	}
	return claimed, nil
}
