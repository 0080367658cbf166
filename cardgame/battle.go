package cardgame

import (
	"fmt"
	"math/rand"

	"github.com/decred/slog"
)

// PlayerZone holds one player's side of the board.
type PlayerZone struct {
	PlayerID string
	Name     string
	Avatar   string
	DeckID   string

	Active *Card
	Hand   []Card
	Deck   []Card
	Bench  []*Card

	// AttachedEnergies is keyed by card TcgID; energy travels with the
	// card, not with the board slot.
	AttachedEnergies map[string][]Energy

	// Pending holds energy issued this turn and not yet attached. At most
	// one unit per turn.
	Pending []Energy
}

func (z *PlayerZone) benchOccupied() bool {
	for _, c := range z.Bench {
		if c != nil {
			return true
		}
	}
	return false
}

// cardOwned returns the card with the given TcgID if it sits in this
// player's active slot or bench.
func (z *PlayerZone) cardOwned(tcgID string) *Card {
	if z.Active != nil && z.Active.TcgID == tcgID {
		return z.Active
	}
	for _, c := range z.Bench {
		if c != nil && c.TcgID == tcgID {
			return c
		}
	}
	return nil
}

// BattleState is the single authoritative state of one live battle. It is
// deliberately lock-free: every mutation runs on the owning room's
// serialized queue, so there is exactly one writer.
type BattleState struct {
	RoomID              string
	Phase               GamePhase
	TurnNumber          int
	CurrentTurnPlayerID string
	StarterID           string
	Winner              string
	LastAction          *AppliedAction

	Zones     map[string]*PlayerZone
	Knockouts map[string]int

	coinAcks map[string]bool
	applied  map[string]struct{}
	rng      *rand.Rand
	log      slog.Logger
}

// Seat pairs a player identity with the deck fetched for them.
type Seat struct {
	PlayerID string
	Name     string
	Avatar   string
	DeckID   string
	Deck     []Card
}

// NewBattleState deals a battle for two seats: each deck is truncated to
// DeckSize, shuffled, and an opening hand is drawn. The state starts in
// PhaseWaiting; call Begin to flip the coin.
func NewBattleState(roomID string, seats [2]Seat, rng *rand.Rand, log slog.Logger) (*BattleState, error) {
	if seats[0].PlayerID == seats[1].PlayerID {
		return nil, fmt.Errorf("battle needs two distinct players")
	}

	bs := &BattleState{
		RoomID:     roomID,
		Phase:      PhaseWaiting,
		TurnNumber: 1,
		Zones:      make(map[string]*PlayerZone, 2),
		Knockouts:  make(map[string]int, 2),
		coinAcks:   make(map[string]bool, 2),
		applied:    make(map[string]struct{}),
		rng:        rng,
		log:        log,
	}

	for _, seat := range seats {
		if len(seat.Deck) == 0 {
			return nil, fmt.Errorf("player %s has an empty deck", seat.PlayerID)
		}
		deck := append([]Card(nil), seat.Deck...)
		if len(deck) > DeckSize {
			deck = deck[:DeckSize]
		}
		rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

		draw := OpeningHandSize
		if draw > len(deck) {
			draw = len(deck)
		}
		zone := &PlayerZone{
			PlayerID:         seat.PlayerID,
			Name:             seat.Name,
			Avatar:           seat.Avatar,
			DeckID:           seat.DeckID,
			Hand:             append([]Card(nil), deck[:draw]...),
			Deck:             append([]Card(nil), deck[draw:]...),
			Bench:            make([]*Card, BenchSize),
			AttachedEnergies: make(map[string][]Energy),
		}
		bs.Zones[seat.PlayerID] = zone
		bs.Knockouts[seat.PlayerID] = 0
	}
	return bs, nil
}

// Begin flips the coin: a starter is chosen uniformly at random, once, by
// the server. Idempotent after the first call.
func (bs *BattleState) Begin() {
	if bs.Phase != PhaseWaiting {
		return
	}
	ids := bs.playerIDs()
	bs.StarterID = ids[bs.rng.Intn(len(ids))]
	bs.CurrentTurnPlayerID = bs.StarterID
	bs.Phase = PhaseCoinFlip
	bs.log.Debugf("battle %s: coin flip, %s starts", bs.RoomID, bs.StarterID)
}

// AcknowledgeCoinFlip records a player's flip acknowledgment. When both
// players have acknowledged, the battle enters PhasePlaying and the starter
// receives the first energy. Duplicate acknowledgments are no-ops.
func (bs *BattleState) AcknowledgeCoinFlip(playerID string) (started bool, err error) {
	if bs.Phase == PhasePlaying {
		return false, nil
	}
	if bs.Phase != PhaseCoinFlip {
		return false, ruleErrorf(CodeBadPhase, "battle is %s, not %s", bs.Phase, PhaseCoinFlip)
	}
	if _, ok := bs.Zones[playerID]; !ok {
		return false, ruleErrorf(CodeInvalidAction, "player %s not in battle", playerID)
	}
	bs.coinAcks[playerID] = true
	if len(bs.coinAcks) < len(bs.Zones) {
		return false, nil
	}
	bs.Phase = PhasePlaying
	bs.issueEnergy(bs.StarterID)
	return true, nil
}

// Apply validates and applies one action. On a rule violation the state is
// unchanged and the error carries a RuleCode for the offending client only.
// Retransmits of attacks, switches and turn ends are absorbed as duplicates,
// keyed by turn, actor and the action payload; a replayed card play or
// energy attachment is caught by slot and energy validation instead.
func (bs *BattleState) Apply(a *Action) (*ActionResult, error) {
	if bs.Phase == PhaseFinished {
		return nil, ruleErrorf(CodeBadPhase, "battle already finished")
	}
	zone, ok := bs.Zones[a.Actor]
	if !ok {
		return nil, ruleErrorf(CodeInvalidAction, "player %s not in battle", a.Actor)
	}

	if a.Type == ActionSurrender {
		bs.finish(bs.opponentOf(a.Actor))
		bs.LastAction = &AppliedAction{TurnNumber: bs.TurnNumber, Type: a.Type, Actor: a.Actor}
		return &ActionResult{Finished: true, WinnerID: bs.Winner}, nil
	}

	if bs.Phase != PhasePlaying {
		return nil, ruleErrorf(CodeBadPhase, "battle is %s, not %s", bs.Phase, PhasePlaying)
	}

	key := bs.idempotencyKey(a)
	if repeatUnsafe(a.Type) {
		if _, dup := bs.applied[key]; dup {
			return &ActionResult{Duplicate: true}, nil
		}
	}

	// An END_TURN retransmit that already advanced the turn would bounce off
	// the turn gate; absorb it instead.
	if a.Type == ActionEndTurn && bs.LastAction != nil &&
		bs.LastAction.Type == ActionEndTurn && bs.LastAction.Actor == a.Actor &&
		bs.LastAction.TurnNumber == bs.TurnNumber-1 {
		return &ActionResult{Duplicate: true}, nil
	}

	// Turn ownership is the hard gate. The only off-turn exception besides
	// surrender is the forced bench promotion after a knockout.
	forced := a.Type == ActionSwitchActive && zone.Active == nil
	if a.Actor != bs.CurrentTurnPlayerID && !forced {
		return nil, ruleErrorf(CodeNotYourTurn, "it is not %s's turn", a.Actor)
	}

	var (
		res  *ActionResult
		err  error
		turn = bs.TurnNumber
	)
	switch a.Type {
	case ActionPlayCard:
		res, err = bs.applyPlayCard(zone, a)
	case ActionAttachEnergy:
		res, err = bs.applyAttachEnergy(zone, a)
	case ActionAttack:
		res, err = bs.applyAttack(zone, a)
	case ActionSwitchActive:
		res, err = bs.applySwitchActive(zone, a, forced)
	case ActionEndTurn:
		res, err = bs.applyEndTurn(a)
	default:
		return nil, ruleErrorf(CodeInvalidAction, "unknown action %q", a.Type)
	}
	if err != nil {
		return nil, err
	}

	if repeatUnsafe(a.Type) {
		bs.applied[key] = struct{}{}
	}
	bs.LastAction = &AppliedAction{TurnNumber: turn, Type: a.Type, Actor: a.Actor}
	return res, nil
}

func (bs *BattleState) applyPlayCard(zone *PlayerZone, a *Action) (*ActionResult, error) {
	if a.CardIndex < 0 || a.CardIndex >= len(zone.Hand) {
		return nil, ruleErrorf(CodeInvalidAction, "hand index %d out of range", a.CardIndex)
	}
	card := zone.Hand[a.CardIndex]

	if a.TargetSlot.Active {
		if zone.Active != nil {
			return nil, ruleErrorf(CodeSlotOccupied, "active slot is occupied")
		}
		zone.Active = &card
	} else {
		idx := a.TargetSlot.Bench
		if idx < 0 || idx >= BenchSize {
			return nil, ruleErrorf(CodeInvalidAction, "bench index %d out of range", idx)
		}
		if zone.Bench[idx] != nil {
			return nil, ruleErrorf(CodeSlotOccupied, "bench slot %d is occupied", idx)
		}
		zone.Bench[idx] = &card
	}
	zone.Hand = append(zone.Hand[:a.CardIndex], zone.Hand[a.CardIndex+1:]...)
	return &ActionResult{}, nil
}

func (bs *BattleState) applyAttachEnergy(zone *PlayerZone, a *Action) (*ActionResult, error) {
	idx := -1
	for i, e := range zone.Pending {
		if e.Type == a.EnergyType {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ruleErrorf(CodeInsufficientEnergy,
			"no unused %s energy issued this turn", a.EnergyType)
	}
	card := zone.cardOwned(a.TargetCardID)
	if card == nil {
		return nil, ruleErrorf(CodeInvalidAction,
			"card %s is not on %s's board", a.TargetCardID, a.Actor)
	}
	energy := zone.Pending[idx]
	zone.Pending = append(zone.Pending[:idx], zone.Pending[idx+1:]...)
	zone.AttachedEnergies[card.TcgID] = append(zone.AttachedEnergies[card.TcgID], energy)
	return &ActionResult{}, nil
}

func (bs *BattleState) applyAttack(zone *PlayerZone, a *Action) (*ActionResult, error) {
	if zone.Active == nil {
		return nil, ruleErrorf(CodeNoActiveCard, "%s has no active card", a.Actor)
	}
	oppID := bs.opponentOf(a.Actor)
	opp := bs.Zones[oppID]
	if opp.Active == nil {
		return nil, ruleErrorf(CodeNoActiveCard, "opponent has no active card")
	}
	if a.AttackIndex < 0 || a.AttackIndex >= len(zone.Active.Attacks) {
		return nil, ruleErrorf(CodeInvalidAction, "attack index %d out of range", a.AttackIndex)
	}
	attack := zone.Active.Attacks[a.AttackIndex]

	remaining, ok := payEnergyCost(zone.AttachedEnergies[zone.Active.TcgID], attack.Cost, zone.Active.Type)
	if !ok {
		return nil, ruleErrorf(CodeInsufficientEnergy,
			"attached energy cannot pay cost of %s", attack.Name)
	}
	zone.AttachedEnergies[zone.Active.TcgID] = remaining

	opp.Active.HP -= attack.Damage
	if opp.Active.HP < 0 {
		opp.Active.HP = 0
	}
	res := &ActionResult{}
	if opp.Active.HP == 0 {
		res.KnockedOutPlayer = oppID
		bs.Knockouts[a.Actor]++
		delete(opp.AttachedEnergies, opp.Active.TcgID)
		opp.Active = nil
		if !opp.benchOccupied() {
			bs.finish(a.Actor)
			res.Finished = true
			res.WinnerID = a.Actor
		}
	}
	return res, nil
}

func (bs *BattleState) applySwitchActive(zone *PlayerZone, a *Action, forced bool) (*ActionResult, error) {
	idx := a.BenchIndex
	if idx < 0 || idx >= BenchSize || zone.Bench[idx] == nil {
		return nil, ruleErrorf(CodeInvalidAction, "bench slot %d is empty", idx)
	}
	if !forced {
		cost := RetreatCost(zone.Active.HP)
		if len(zone.AttachedEnergies[zone.Active.TcgID]) < cost {
			return nil, ruleErrorf(CodeInsufficientRetreatCost,
				"retreat needs %d energy, %d attached",
				cost, len(zone.AttachedEnergies[zone.Active.TcgID]))
		}
	}
	incoming := zone.Bench[idx]
	zone.Bench[idx] = zone.Active // nil when forced
	zone.Active = incoming
	return &ActionResult{}, nil
}

func (bs *BattleState) applyEndTurn(a *Action) (*ActionResult, error) {
	// Unused energy does not carry over.
	bs.Zones[a.Actor].Pending = nil

	next := bs.opponentOf(a.Actor)
	bs.TurnNumber++
	bs.CurrentTurnPlayerID = next
	bs.pruneApplied()

	nz := bs.Zones[next]
	if len(nz.Deck) > 0 {
		nz.Hand = append(nz.Hand, nz.Deck[0])
		nz.Deck = nz.Deck[1:]
	}
	bs.issueEnergy(next)
	return &ActionResult{}, nil
}

// issueEnergy grants the single per-turn energy unit, biased toward the
// player's active card type.
func (bs *BattleState) issueEnergy(playerID string) {
	zone := bs.Zones[playerID]
	activeType := ""
	if zone.Active != nil {
		activeType = zone.Active.Type
	}
	zone.Pending = []Energy{GenerateEnergy(bs.rng, activeType)}
}

func (bs *BattleState) finish(winnerID string) {
	if bs.Phase == PhaseFinished {
		return
	}
	bs.Phase = PhaseFinished
	bs.Winner = winnerID
	bs.log.Infof("battle %s finished, winner %s", bs.RoomID, winnerID)
}

func (bs *BattleState) opponentOf(playerID string) string {
	for id := range bs.Zones {
		if id != playerID {
			return id
		}
	}
	return ""
}

func (bs *BattleState) playerIDs() []string {
	ids := make([]string, 0, len(bs.Zones))
	for id := range bs.Zones {
		ids = append(ids, id)
	}
	// Map iteration order would leak into the coin flip otherwise.
	if len(ids) == 2 && ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return ids
}

// idempotencyKey identifies one concrete action within a turn. The payload
// discriminator keeps a second, distinct action of the same type (a bench
// placement after an active placement) from reading as a retransmit.
func (bs *BattleState) idempotencyKey(a *Action) string {
	return fmt.Sprintf("%d|%s|%s|%s", bs.TurnNumber, a.Type, a.Actor, a.payloadKey())
}

// repeatUnsafe marks the actions whose replay would revalidate cleanly and
// mutate state a second time. Replayed plays and attachments fail the slot
// and energy checks on their own and need no key.
func repeatUnsafe(t ActionType) bool {
	return t == ActionAttack || t == ActionSwitchActive || t == ActionEndTurn
}

// pruneApplied drops idempotency keys from earlier turns; duplicates of a
// stale turn are rejected by the turn gate anyway.
func (bs *BattleState) pruneApplied() {
	prefix := fmt.Sprintf("%d|", bs.TurnNumber)
	for k := range bs.applied {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			delete(bs.applied, k)
		}
	}
}
