package cardgame

// BattleSnapshot is the wire form of a battle, deep-copied so the caller can
// marshal it off the room queue without racing state mutation.
type BattleSnapshot struct {
	RoomID              string                   `json:"roomId"`
	Phase               GamePhase                `json:"gamePhase"`
	TurnNumber          int                      `json:"turnNumber"`
	CurrentTurnPlayerID string                   `json:"currentTurnPlayerId"`
	StarterID           string                   `json:"starterId"`
	Winner              string                   `json:"winner,omitempty"`
	LastAction          *AppliedAction           `json:"lastAction,omitempty"`
	Players             map[string]*ZoneSnapshot `json:"players"`
	Knockouts           map[string]int           `json:"knockouts"`
}

// ZoneSnapshot is the wire form of one player's side of the board.
type ZoneSnapshot struct {
	PlayerID         string              `json:"playerId"`
	Name             string              `json:"name"`
	Avatar           string              `json:"avatar"`
	DeckID           string              `json:"deckId"`
	Active           *Card               `json:"active"`
	Hand             []Card              `json:"hand"`
	DeckCount        int                 `json:"deckCount"`
	Bench            []*Card             `json:"bench"`
	AttachedEnergies map[string][]Energy `json:"attachedEnergies"`
	Pending          []Energy            `json:"pendingEnergies"`
}

// Snapshot deep-copies the battle into its wire form. Must run on the room
// queue like every other read of live state.
func (bs *BattleState) Snapshot() *BattleSnapshot {
	snap := &BattleSnapshot{
		RoomID:              bs.RoomID,
		Phase:               bs.Phase,
		TurnNumber:          bs.TurnNumber,
		CurrentTurnPlayerID: bs.CurrentTurnPlayerID,
		StarterID:           bs.StarterID,
		Winner:              bs.Winner,
		Players:             make(map[string]*ZoneSnapshot, len(bs.Zones)),
		Knockouts:           make(map[string]int, len(bs.Knockouts)),
	}
	if bs.LastAction != nil {
		la := *bs.LastAction
		snap.LastAction = &la
	}
	for id, n := range bs.Knockouts {
		snap.Knockouts[id] = n
	}
	for id, zone := range bs.Zones {
		zs := &ZoneSnapshot{
			PlayerID:         zone.PlayerID,
			Name:             zone.Name,
			Avatar:           zone.Avatar,
			DeckID:           zone.DeckID,
			Hand:             append([]Card(nil), zone.Hand...),
			DeckCount:        len(zone.Deck),
			Bench:            make([]*Card, len(zone.Bench)),
			AttachedEnergies: make(map[string][]Energy, len(zone.AttachedEnergies)),
			Pending:          append([]Energy(nil), zone.Pending...),
		}
		if zone.Active != nil {
			c := *zone.Active
			zs.Active = &c
		}
		for i, b := range zone.Bench {
			if b != nil {
				c := *b
				zs.Bench[i] = &c
			}
		}
		for tcgID, energies := range zone.AttachedEnergies {
			zs.AttachedEnergies[tcgID] = append([]Energy(nil), energies...)
		}
		snap.Players[id] = zs
	}
	return snap
}
