package escrow

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/czefenglim/pokebattle/cardgame"
)

// AttemptState tracks one party's on-chain staking attempt. It is pushed to
// the client on every transition so the UI can show wallet progress.
type AttemptState string

const (
	StateIdle       AttemptState = "idle"
	StateApproving  AttemptState = "approving"
	StateSubmitting AttemptState = "submitting"
	StateConfirmed  AttemptState = "confirmed"
	StateFailed     AttemptState = "failed"
	StateOffChain   AttemptState = "offchain"
)

// Party is one player's side of a wager session.
type Party struct {
	PlayerID string
	Address  common.Address
	Signer   Signer
	TokenID  int64
	Card     cardgame.Card
	State    AttemptState
}

// Session is the escrow state for one battle's wager. Mutated only through
// the coordinator; the mutex covers reads from the chain watcher.
type Session struct {
	mu sync.RWMutex

	BattleID string
	Rarity   string
	Parties  [2]*Party

	// Locked means both stakes are held by the vault on chain. OffChain
	// means the wager proceeds without the contract after a declined or
	// unfundable transaction.
	Locked   bool
	OffChain bool
}

func (s *Session) party(playerID string) *Party {
	for _, p := range s.Parties {
		if p != nil && p.PlayerID == playerID {
			return p
		}
	}
	return nil
}

// Snapshot returns the session flags without racing the lock flow.
func (s *Session) Snapshot() (locked, offchain bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Locked, s.OffChain
}

// TransferResult is the wire record of how (or whether) the staked cards
// moved after a battle.
type TransferResult struct {
	BattleID string  `json:"battleId"`
	WinnerID string  `json:"winnerId"`
	Method   string  `json:"method"` // contract | manual | offchain | failed
	TxHash   string  `json:"txHash,omitempty"`
	TokenIDs []int64 `json:"tokenIds,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Catalog resolves token ids to card metadata.
type Catalog interface {
	CardByTokenID(tokenID int64) (cardgame.Card, bool)
	MaxTokenID() int64
}

// Vault is the wager contract surface the coordinator drives. *WagerVault
// satisfies it.
type Vault interface {
	Address() common.Address
	CreateWager(ctx context.Context, signer Signer, battleID string, tokenID *big.Int) (*types.Transaction, error)
	JoinWager(ctx context.Context, signer Signer, battleID string, tokenID *big.Int) (*types.Transaction, error)
	ResolveBattle(ctx context.Context, signer Signer, battleID string, winner common.Address) (*types.Transaction, error)
	CancelWager(ctx context.Context, signer Signer, battleID string) (*types.Transaction, error)
	GetWager(ctx context.Context, battleID string) (*WagerInfo, error)
}

// TransferLedger is the approval/transfer surface of the card contract.
type TransferLedger interface {
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
	SetApprovalForAll(ctx context.Context, signer Signer, operator common.Address, approved bool) (*types.Transaction, error)
	SafeTransferFrom(ctx context.Context, signer Signer, from, to common.Address, id *big.Int) (*types.Transaction, error)
}

// Config wires a coordinator.
type Config struct {
	Log     slog.Logger
	Oracle  *Oracle
	Catalog Catalog
	Vault   Vault
	Ledger  TransferLedger

	// Operator signs resolveBattle and manual fallback transfers.
	Operator Signer

	// WaitTx blocks until a transaction is mined and returns an error on
	// revert. Defaults to bind.WaitMined against Backend when unset.
	WaitTx  func(ctx context.Context, tx *types.Transaction) error
	Backend ContractBackend

	// OnState receives party attempt transitions.
	OnState func(battleID, playerID string, state AttemptState)

	Rand *rand.Rand
}

// Coordinator owns wager sessions: stake selection, on-chain locking with
// off-chain fallback, and post-battle resolution.
type Coordinator struct {
	log      slog.Logger
	oracle   *Oracle
	catalog  Catalog
	vault    Vault
	ledger   TransferLedger
	operator Signer
	waitTx   func(ctx context.Context, tx *types.Transaction) error
	onState  func(battleID, playerID string, state AttemptState)
	rng      *rand.Rand

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewCoordinator(cfg Config) *Coordinator {
	wait := cfg.WaitTx
	if wait == nil {
		backend := cfg.Backend
		wait = func(ctx context.Context, tx *types.Transaction) error {
			_, err := waitMined(ctx, backend, tx)
			return err
		}
	}
	onState := cfg.OnState
	if onState == nil {
		onState = func(string, string, AttemptState) {}
	}
	return &Coordinator{
		log:      cfg.Log,
		oracle:   cfg.Oracle,
		catalog:  cfg.Catalog,
		vault:    cfg.Vault,
		ledger:   cfg.Ledger,
		operator: cfg.Operator,
		waitTx:   wait,
		onState:  onState,
		rng:      cfg.Rand,
		sessions: make(map[string]*Session),
	}
}

// SetStateNotifier replaces the attempt-state callback. The hub installs
// itself here after construction.
func (c *Coordinator) SetStateNotifier(f func(battleID, playerID string, state AttemptState)) {
	if f == nil {
		f = func(string, string, AttemptState) {}
	}
	c.onState = f
}

// Session returns the live session for a battle, if any.
func (c *Coordinator) Session(battleID string) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[battleID]
}

// DropSession forgets a session after resolution or room teardown.
func (c *Coordinator) DropSession(battleID string) {
	c.mu.Lock()
	delete(c.sessions, battleID)
	c.mu.Unlock()
}

// SelectStakes picks one card per player for the wager. Each collection is
// filtered to the target rarity; a player owning nothing at that tier stakes
// from their full collection instead, without loosening the other player's
// filter. Neither player owning anything stakeable is a KindNoEligibleCards
// failure.
func (c *Coordinator) SelectStakes(ctx context.Context, battleID, rarity string, p1ID string, p1Addr common.Address, p2ID string, p2Addr common.Address) (*Session, error) {
	maxID := c.catalog.MaxTokenID()

	owned1, err := c.oracle.Collection(ctx, p1Addr, maxID)
	if err != nil {
		return nil, err
	}
	owned2, err := c.oracle.Collection(ctx, p2Addr, maxID)
	if err != nil {
		return nil, err
	}

	cards1 := c.resolveCards(owned1)
	cards2 := c.resolveCards(owned2)
	if len(cards1) == 0 || len(cards2) == 0 {
		return nil, classified(KindNoEligibleCards, "selectStakes",
			"player collections empty (p1=%d p2=%d)", len(cards1), len(cards2))
	}

	pool1 := filterRarity(cards1, rarity)
	if len(pool1) == 0 {
		c.log.Debugf("escrow %s: %s owns no %q cards, staking from full collection", battleID, p1ID, rarity)
		pool1 = cards1
	}
	pool2 := filterRarity(cards2, rarity)
	if len(pool2) == 0 {
		c.log.Debugf("escrow %s: %s owns no %q cards, staking from full collection", battleID, p2ID, rarity)
		pool2 = cards2
	}

	card1 := pool1[c.rng.Intn(len(pool1))]
	card2 := pool2[c.rng.Intn(len(pool2))]

	s := &Session{
		BattleID: battleID,
		Rarity:   rarity,
		Parties: [2]*Party{
			{PlayerID: p1ID, Address: p1Addr, TokenID: card1.TokenID, Card: card1, State: StateIdle},
			{PlayerID: p2ID, Address: p2Addr, TokenID: card2.TokenID, Card: card2, State: StateIdle},
		},
	}
	c.mu.Lock()
	c.sessions[battleID] = s
	c.mu.Unlock()

	c.log.Infof("escrow %s: staked token %d (%s) vs token %d (%s), rarity=%q",
		battleID, card1.TokenID, p1ID, card2.TokenID, p2ID, rarity)
	return s, nil
}

func (c *Coordinator) resolveCards(tokenIDs []int64) []cardgame.Card {
	cards := make([]cardgame.Card, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if card, ok := c.catalog.CardByTokenID(id); ok {
			cards = append(cards, card)
		}
	}
	return cards
}

// filterRarity keeps the cards at the target tier. Rarity strings come from
// both the catalogue and client config, so the comparison ignores case.
func filterRarity(cards []cardgame.Card, rarity string) []cardgame.Card {
	if rarity == "" {
		return cards
	}
	var out []cardgame.Card
	for _, card := range cards {
		if strings.EqualFold(card.Rarity, rarity) {
			out = append(out, card)
		}
	}
	return out
}

// RegisterSigners attaches each party's signer before locking.
func (s *Session) RegisterSigners(signers map[string]Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.Parties {
		if sig, ok := signers[p.PlayerID]; ok {
			p.Signer = sig
		}
	}
}

// Lock escrows both stakes in the vault: approval first when missing, then
// createWager for the first party and joinWager for the second, then a
// getWager readback to confirm the vault holds both. A classified error
// leaves the session unlocked; KindUserRejected and KindInsufficientBalance
// are the caller's cue to fall back off-chain.
func (c *Coordinator) Lock(ctx context.Context, s *Session) error {
	steps := []struct {
		party  *Party
		submit func(context.Context, *Party) (*types.Transaction, error)
	}{
		{s.Parties[0], func(ctx context.Context, p *Party) (*types.Transaction, error) {
			return c.vault.CreateWager(ctx, p.Signer, s.BattleID, big.NewInt(p.TokenID))
		}},
		{s.Parties[1], func(ctx context.Context, p *Party) (*types.Transaction, error) {
			return c.vault.JoinWager(ctx, p.Signer, s.BattleID, big.NewInt(p.TokenID))
		}},
	}

	for _, step := range steps {
		p := step.party
		if p.Signer == nil {
			return classified(KindChainError, "lock", "no signer for %s", p.PlayerID)
		}

		if err := c.ensureApproval(ctx, s, p); err != nil {
			c.setState(s, p, StateFailed)
			return err
		}

		c.setState(s, p, StateSubmitting)
		tx, err := step.submit(ctx, p)
		if err != nil {
			c.setState(s, p, StateFailed)
			return Classify("stake", err)
		}
		if err := c.waitTx(ctx, tx); err != nil {
			c.setState(s, p, StateFailed)
			return Classify("stake", err)
		}
		c.setState(s, p, StateConfirmed)
	}

	info, err := c.vault.GetWager(ctx, s.BattleID)
	if err != nil {
		return Classify("getWager", err)
	}
	if !info.IsActive {
		return classified(KindChainError, "getWager", "wager %s not active after staking", s.BattleID)
	}

	s.mu.Lock()
	s.Locked = true
	s.mu.Unlock()
	c.log.Infof("escrow %s: locked on chain", s.BattleID)
	return nil
}

func (c *Coordinator) ensureApproval(ctx context.Context, s *Session, p *Party) error {
	approved, err := c.ledger.IsApprovedForAll(ctx, p.Address, c.vault.Address())
	if err != nil {
		return Classify("isApprovedForAll", err)
	}
	if approved {
		return nil
	}

	c.setState(s, p, StateApproving)
	tx, err := c.ledger.SetApprovalForAll(ctx, p.Signer, c.vault.Address(), true)
	if err != nil {
		cerr := Classify("setApprovalForAll", err)
		if cerr.Kind == KindChainError {
			cerr.Kind = KindApprovalFailed
		}
		return cerr
	}
	if err := c.waitTx(ctx, tx); err != nil {
		return classified(KindApprovalFailed, "setApprovalForAll", "approval not mined: %v", err)
	}
	return nil
}

// FallBackOffChain downgrades a session after a declined or unfundable
// transaction: the wager proceeds as a demo stake with no custody.
func (c *Coordinator) FallBackOffChain(s *Session) {
	s.mu.Lock()
	s.OffChain = true
	s.Locked = false
	for _, p := range s.Parties {
		p.State = StateOffChain
	}
	s.mu.Unlock()
	for _, p := range s.Parties {
		c.onState(s.BattleID, p.PlayerID, StateOffChain)
	}
	c.log.Warnf("escrow %s: continuing off chain", s.BattleID)
}

// Resolve settles a finished battle. On-chain sessions try resolveBattle
// first; if the vault call fails the loser's stake is moved with a direct
// operator transfer. Off-chain sessions produce a no-custody result. Resolve
// never returns an error: the outcome, including total failure, is the
// TransferResult itself.
func (c *Coordinator) Resolve(ctx context.Context, s *Session, winnerID string) *TransferResult {
	winner := s.party(winnerID)
	if winner == nil {
		return &TransferResult{
			BattleID: s.BattleID,
			WinnerID: winnerID,
			Method:   "failed",
			Error:    fmt.Sprintf("winner %s not in session", winnerID),
		}
	}
	var loser *Party
	for _, p := range s.Parties {
		if p.PlayerID != winnerID {
			loser = p
		}
	}

	tokens := []int64{s.Parties[0].TokenID, s.Parties[1].TokenID}

	_, offchain := s.Snapshot()
	if offchain {
		c.log.Infof("escrow %s: off-chain wager, recording result only", s.BattleID)
		return &TransferResult{
			BattleID: s.BattleID,
			WinnerID: winnerID,
			Method:   "offchain",
			TokenIDs: tokens,
		}
	}

	tx, err := c.vault.ResolveBattle(ctx, c.operator, s.BattleID, winner.Address)
	if err == nil {
		if werr := c.waitTx(ctx, tx); werr == nil {
			c.log.Infof("escrow %s: resolved via contract, tx=%s", s.BattleID, tx.Hash())
			return &TransferResult{
				BattleID: s.BattleID,
				WinnerID: winnerID,
				Method:   "contract",
				TxHash:   tx.Hash().Hex(),
				TokenIDs: tokens,
			}
		} else {
			err = werr
		}
	}
	c.log.Warnf("escrow %s: resolveBattle failed (%v), trying manual transfer", s.BattleID, err)

	if verr := c.verifyManualTransfer(ctx, winner, loser); verr != nil {
		c.log.Errorf("escrow %s: manual transfer blocked: %v", s.BattleID, verr)
		return &TransferResult{
			BattleID: s.BattleID,
			WinnerID: winnerID,
			Method:   "failed",
			TokenIDs: tokens,
			Error:    fmt.Sprintf("resolveBattle: %v; manual: %v", err, verr),
		}
	}

	tx, merr := c.ledger.SafeTransferFrom(ctx, c.operator, loser.Address, winner.Address, big.NewInt(loser.TokenID))
	if merr == nil {
		if werr := c.waitTx(ctx, tx); werr == nil {
			c.log.Infof("escrow %s: resolved via manual transfer, tx=%s", s.BattleID, tx.Hash())
			return &TransferResult{
				BattleID: s.BattleID,
				WinnerID: winnerID,
				Method:   "manual",
				TxHash:   tx.Hash().Hex(),
				TokenIDs: []int64{loser.TokenID},
			}
		} else {
			merr = werr
		}
	}

	c.log.Errorf("escrow %s: both settlement paths failed: resolve=%v manual=%v", s.BattleID, err, merr)
	return &TransferResult{
		BattleID: s.BattleID,
		WinnerID: winnerID,
		Method:   "failed",
		TokenIDs: tokens,
		Error:    fmt.Sprintf("resolveBattle: %v; manual: %v", err, merr),
	}
}

// verifyManualTransfer gates the operator fallback: the claimed outcome must
// be consistent with current custody of the stakes, and the loser must still
// hold and have approved the token about to move.
func (c *Coordinator) verifyManualTransfer(ctx context.Context, winner, loser *Party) error {
	arb, err := c.oracle.ArbitrateWinner(ctx, winner.Address, loser.Address, winner.TokenID, loser.TokenID)
	if err != nil {
		return err
	}
	if arb != winner.Address {
		return fmt.Errorf("stake custody favors %s, refusing transfer", arb.Hex())
	}
	owns, err := c.oracle.OwnsToken(ctx, loser.Address, loser.TokenID)
	if err != nil {
		return err
	}
	if !owns {
		return fmt.Errorf("loser %s no longer holds token %d", loser.Address.Hex(), loser.TokenID)
	}
	approved, err := c.ledger.IsApprovedForAll(ctx, loser.Address, c.vault.Address())
	if err != nil {
		return Classify("isApprovedForAll", err)
	}
	if !approved {
		return fmt.Errorf("loser %s has not approved transfers", loser.Address.Hex())
	}
	return nil
}

// Cancel voids an on-chain wager for an abandoned room. The returned
// transaction, if any, is handed to the chain watcher for confirmation
// tracking.
func (c *Coordinator) Cancel(ctx context.Context, s *Session) (*types.Transaction, error) {
	locked, offchain := s.Snapshot()
	if offchain || !locked {
		c.DropSession(s.BattleID)
		return nil, nil
	}
	tx, err := c.vault.CancelWager(ctx, c.operator, s.BattleID)
	if err != nil {
		return nil, Classify("cancelWager", err)
	}
	c.DropSession(s.BattleID)
	return tx, nil
}

func (c *Coordinator) setState(s *Session, p *Party, state AttemptState) {
	s.mu.Lock()
	p.State = state
	s.mu.Unlock()
	c.onState(s.BattleID, p.PlayerID, state)
}
