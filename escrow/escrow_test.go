package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/czefenglim/pokebattle/cardgame"
)

var (
	addr1     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	addr2     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	operator  = common.HexToAddress("0x9999999999999999999999999999999999999999")
	vaultAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

// fakeLedger backs the oracle and coordinator with in-memory balances.
type fakeLedger struct {
	balances  map[common.Address]map[int64]int64
	minted    map[int64]bool
	approvals map[common.Address]bool

	failBatch    bool
	failTokenIDs map[int64]bool

	transferErr error
	transfers   []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:     make(map[common.Address]map[int64]int64),
		minted:       make(map[int64]bool),
		approvals:    make(map[common.Address]bool),
		failTokenIDs: make(map[int64]bool),
	}
}

func (f *fakeLedger) mint(owner common.Address, id int64) {
	if f.balances[owner] == nil {
		f.balances[owner] = make(map[int64]int64)
	}
	f.balances[owner][id]++
	f.minted[id] = true
}

func (f *fakeLedger) BalanceOf(_ context.Context, owner common.Address, id *big.Int) (*big.Int, error) {
	if f.failTokenIDs[id.Int64()] {
		return nil, fmt.Errorf("token %d read failed", id.Int64())
	}
	return big.NewInt(f.balances[owner][id.Int64()]), nil
}

func (f *fakeLedger) BalanceOfBatch(ctx context.Context, owner common.Address, ids []*big.Int) ([]*big.Int, error) {
	if f.failBatch {
		return nil, errors.New("multicall too large")
	}
	out := make([]*big.Int, len(ids))
	for i, id := range ids {
		bal, err := f.BalanceOf(ctx, owner, id)
		if err != nil {
			return nil, err
		}
		out[i] = bal
	}
	return out, nil
}

func (f *fakeLedger) Exists(_ context.Context, id *big.Int) (bool, error) {
	return f.minted[id.Int64()], nil
}

func (f *fakeLedger) IsApprovedForAll(_ context.Context, owner, _ common.Address) (bool, error) {
	return f.approvals[owner], nil
}

func (f *fakeLedger) SetApprovalForAll(ctx context.Context, signer Signer, _ common.Address, approved bool) (*types.Transaction, error) {
	if _, err := signer.Opts(ctx); err != nil {
		return nil, err
	}
	f.approvals[signer.Address()] = approved
	return newFakeTx(), nil
}

func (f *fakeLedger) SafeTransferFrom(ctx context.Context, signer Signer, from, to common.Address, id *big.Int) (*types.Transaction, error) {
	if _, err := signer.Opts(ctx); err != nil {
		return nil, err
	}
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.transfers = append(f.transfers, fmt.Sprintf("%d:%s->%s", id.Int64(), from.Hex(), to.Hex()))
	return newFakeTx(), nil
}

// fakeVault records staking calls and serves getWager readbacks.
type fakeVault struct {
	created    map[string]int64
	joined     map[string]int64
	resolveErr error
	resolved   map[string]common.Address
	cancelled  []string
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		created:  make(map[string]int64),
		joined:   make(map[string]int64),
		resolved: make(map[string]common.Address),
	}
}

func (f *fakeVault) Address() common.Address { return vaultAddr }

func (f *fakeVault) CreateWager(ctx context.Context, signer Signer, battleID string, tokenID *big.Int) (*types.Transaction, error) {
	if _, err := signer.Opts(ctx); err != nil {
		return nil, err
	}
	f.created[battleID] = tokenID.Int64()
	return newFakeTx(), nil
}

func (f *fakeVault) JoinWager(ctx context.Context, signer Signer, battleID string, tokenID *big.Int) (*types.Transaction, error) {
	if _, err := signer.Opts(ctx); err != nil {
		return nil, err
	}
	f.joined[battleID] = tokenID.Int64()
	return newFakeTx(), nil
}

func (f *fakeVault) ResolveBattle(ctx context.Context, signer Signer, battleID string, winner common.Address) (*types.Transaction, error) {
	if _, err := signer.Opts(ctx); err != nil {
		return nil, err
	}
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	f.resolved[battleID] = winner
	return newFakeTx(), nil
}

func (f *fakeVault) CancelWager(ctx context.Context, signer Signer, battleID string) (*types.Transaction, error) {
	if _, err := signer.Opts(ctx); err != nil {
		return nil, err
	}
	f.cancelled = append(f.cancelled, battleID)
	return newFakeTx(), nil
}

func (f *fakeVault) GetWager(_ context.Context, battleID string) (*WagerInfo, error) {
	_, c := f.created[battleID]
	_, j := f.joined[battleID]
	return &WagerInfo{
		BattleID:       battleID,
		Player1:        addr1,
		Player2:        addr2,
		Player1TokenID: big.NewInt(f.created[battleID]),
		Player2TokenID: big.NewInt(f.joined[battleID]),
		IsActive:       c && j,
		CreatedAt:      big.NewInt(0),
	}, nil
}

type fakeSigner struct {
	addr     common.Address
	reject   bool
	outOfGas bool
}

func (f *fakeSigner) Address() common.Address { return f.addr }

func (f *fakeSigner) Opts(context.Context) (*bind.TransactOpts, error) {
	if f.reject {
		return nil, fmt.Errorf("wallet: %w", ErrRejected)
	}
	if f.outOfGas {
		return nil, errors.New("insufficient funds for gas * price + value")
	}
	return &bind.TransactOpts{From: f.addr}, nil
}

type fakeCatalog struct {
	cards map[int64]cardgame.Card
}

func (f *fakeCatalog) CardByTokenID(id int64) (cardgame.Card, bool) {
	c, ok := f.cards[id]
	return c, ok
}

func (f *fakeCatalog) MaxTokenID() int64 {
	max := int64(0)
	for id := range f.cards {
		if id > max {
			max = id
		}
	}
	return max
}

var txNonce uint64

func newFakeTx() *types.Transaction {
	txNonce++
	return types.NewTx(&types.LegacyTx{Nonce: txNonce, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
}

// testEnv bundles a coordinator over fakes with mined-instantly receipts.
type testEnv struct {
	ledger  *fakeLedger
	vault   *fakeVault
	catalog *fakeCatalog
	coord   *Coordinator
	states  []string
}

func newTestEnv() *testEnv {
	env := &testEnv{
		ledger:  newFakeLedger(),
		vault:   newFakeVault(),
		catalog: &fakeCatalog{cards: make(map[int64]cardgame.Card)},
	}
	env.coord = NewCoordinator(Config{
		Log:      slog.Disabled,
		Oracle:   NewOracle(env.ledger, slog.Disabled),
		Catalog:  env.catalog,
		Vault:    env.vault,
		Ledger:   env.ledger,
		Operator: &fakeSigner{addr: operator},
		WaitTx:   func(context.Context, *types.Transaction) error { return nil },
		OnState: func(battleID, playerID string, state AttemptState) {
			env.states = append(env.states, fmt.Sprintf("%s:%s", playerID, state))
		},
		Rand: rand.New(rand.NewSource(11)),
	})
	return env
}

// addCard mints a token for owner and registers its catalogue entry.
func (env *testEnv) addCard(owner common.Address, id int64, rarity string) {
	env.ledger.mint(owner, id)
	env.catalog.cards[id] = cardgame.Card{
		TokenID: id,
		TcgID:   fmt.Sprintf("cat-%d", id),
		Name:    fmt.Sprintf("card %d", id),
		Rarity:  rarity,
		MaxHP:   100,
		HP:      100,
	}
}
