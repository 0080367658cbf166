package cardgame

import (
	"context"
	"sync"

	"github.com/decred/slog"
)

// RoomStatus tracks where a room is in its pre-battle lifecycle.
type RoomStatus string

const (
	RoomWaiting   RoomStatus = "waiting"
	RoomSelecting RoomStatus = "selecting"
	RoomReady     RoomStatus = "ready"
	RoomBattle    RoomStatus = "battle"
)

// GamePhase tracks where a live battle is. It only ever moves forward.
type GamePhase string

const (
	PhaseWaiting  GamePhase = "waiting"
	PhaseCoinFlip GamePhase = "coin_flip"
	PhasePlaying  GamePhase = "playing"
	PhaseFinished GamePhase = "finished"
)

// Attack is one attack line on a card. Cost is an ordered list of energy
// type names; "Colorless" slots accept any energy.
type Attack struct {
	Name   string   `json:"name"`
	Damage int      `json:"damage"`
	Cost   []string `json:"cost"`
}

// Card is a single collectible card. TokenID is the ledger identity, TcgID
// the catalogue identity; they are distinct. Only HP mutates during a match.
type Card struct {
	TokenID  int64    `json:"tokenId"`
	TcgID    string   `json:"tcgId"`
	Name     string   `json:"name"`
	ImageURL string   `json:"imageUrl"`
	Type     string   `json:"type"`
	Rarity   string   `json:"rarity"`
	MaxHP    int      `json:"maxHp"`
	HP       int      `json:"hp"`
	Attacks  []Attack `json:"attacks"`
	Owner    string   `json:"owner,omitempty"`
}

// Energy is an ephemeral per-turn resource unit. It never outlives a match.
type Energy struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// EnergyTypes is the closed set of energy types. The last entry is the
// wildcard Colorless type.
var EnergyTypes = []Energy{
	{Type: "Fire", Symbol: "🔥"},
	{Type: "Water", Symbol: "💧"},
	{Type: "Grass", Symbol: "🌿"},
	{Type: "Electric", Symbol: "⚡"},
	{Type: "Psychic", Symbol: "🔮"},
	{Type: "Fighting", Symbol: "👊"},
	{Type: "Colorless", Symbol: "⭐"},
}

const (
	// BenchSize is the number of reserve slots per player.
	BenchSize = 3
	// DeckSize is how many cards of a fetched deck enter a match.
	DeckSize = 10
	// OpeningHandSize is drawn when the battle is dealt.
	OpeningHandSize = 5
)

// Notifier delivers an event to one connected client. Sends must not block;
// implementations drop on a slow receiver.
type Notifier interface {
	Enqueue(eventType string, payload interface{}) bool
}

// Player is one seat in a room. Lifetime is bound to the room. Field writes
// outside this package take the embedded lock.
type Player struct {
	sync.RWMutex

	ID            string
	Name          string
	Avatar        string
	DeckID        string
	Confirmed     bool
	Present       bool
	WalletAddress string

	Notifier Notifier
}

// Notify enqueues an event for this player's client, if any is attached.
func (p *Player) Notify(eventType string, payload interface{}) {
	p.RLock()
	n := p.Notifier
	p.RUnlock()
	if n != nil {
		n.Enqueue(eventType, payload)
	}
}

// SetNotifier swaps the attached client stream (reconnects).
func (p *Player) SetNotifier(n Notifier) {
	p.Lock()
	p.Notifier = n
	p.Unlock()
}

// SetPresent flips the presence flag and reports the previous value.
func (p *Player) SetPresent(present bool) bool {
	p.Lock()
	prev := p.Present
	p.Present = present
	p.Unlock()
	return prev
}

// Marshal returns the wire form of the player.
func (p *Player) Marshal() *PlayerInfo {
	if p == nil {
		return nil
	}
	p.RLock()
	defer p.RUnlock()
	return &PlayerInfo{
		ID:            p.ID,
		Name:          p.Name,
		Avatar:        p.Avatar,
		DeckID:        p.DeckID,
		Confirmed:     p.Confirmed,
		Present:       p.Present,
		WalletAddress: p.WalletAddress,
	}
}

// PlayerInfo is the wire form of a Player.
type PlayerInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar"`
	DeckID        string `json:"deckId,omitempty"`
	Confirmed     bool   `json:"confirmed"`
	Present       bool   `json:"present"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

// RoomInfo is the wire form of a Room.
type RoomInfo struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Status          RoomStatus  `json:"status"`
	Countdown       int         `json:"timer"`
	CountdownActive bool        `json:"timerActive"`
	WagerLocked     bool        `json:"wagerLocked"`
	ContractLocked  bool        `json:"contractLocked"`
	WagerRarity     string      `json:"wagerRarity,omitempty"`
	WagerCardID1    string      `json:"wagerCardId1,omitempty"`
	WagerCardID2    string      `json:"wagerCardId2,omitempty"`
	Player1         *PlayerInfo `json:"player1"`
	Player2         *PlayerInfo `json:"player2"`
}

// Room is one battle lobby. All mutation of the room and of its battle state
// happens on the room's serialized queue; see Room.Dispatch.
type Room struct {
	sync.RWMutex
	Ctx    context.Context
	Cancel context.CancelFunc

	ID   string
	Name string

	Status  RoomStatus
	Players []*Player

	Countdown       int
	CountdownActive bool
	countdownStop   chan struct{}

	// Wager bookkeeping. WagerTriggered flips once when both seats are
	// present so selection runs exactly once per room.
	WagerTriggered bool
	WagerLocked    bool
	ContractLocked bool
	WagerRarity    string
	WagerCardID1   string
	WagerCardID2   string

	Battle *BattleState

	queue chan func()

	log slog.Logger
}

// DeckStore supplies deck contents at battle initialization. External
// collaborator; the core only consumes read results.
type DeckStore interface {
	FetchDeck(ctx context.Context, userID, deckID string) ([]Card, error)
}

// ResultSummary is what the completion reporter receives when a battle
// reaches its terminal phase.
type ResultSummary struct {
	RoomID     string
	WinnerID   string
	LoserID    string
	TurnNumber int
	Knockouts  map[string]int
	Surrender  bool
}

// CompletionReporter persists the final result. Failures are logged by the
// caller and never roll back in-memory completion.
type CompletionReporter interface {
	RecordResult(ctx context.Context, summary *ResultSummary) error
}
