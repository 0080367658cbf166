package cardgame

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ActionType enumerates the closed set of battle actions. Dispatch is over
// this union; unknown types are rejected, never silently ignored.
type ActionType string

const (
	ActionPlayCard     ActionType = "PLAY_CARD"
	ActionAttachEnergy ActionType = "ATTACH_ENERGY"
	ActionAttack       ActionType = "ATTACK"
	ActionSwitchActive ActionType = "SWITCH_ACTIVE"
	ActionRetreat      ActionType = "RETREAT"
	ActionEndTurn      ActionType = "END_TURN"
	ActionSurrender    ActionType = "SURRENDER"
)

// Slot addresses a board position: the active slot or a bench index.
// Clients send either the string "active" or a bench index number.
type Slot struct {
	Active bool
	Bench  int
}

func (s *Slot) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte(`"active"`)) {
		*s = Slot{Active: true}
		return nil
	}
	n, err := strconv.Atoi(string(bytes.Trim(data, `"`)))
	if err != nil {
		return fmt.Errorf("invalid slot %s", data)
	}
	*s = Slot{Bench: n}
	return nil
}

func (s Slot) MarshalJSON() ([]byte, error) {
	if s.Active {
		return []byte(`"active"`), nil
	}
	return []byte(strconv.Itoa(s.Bench)), nil
}

// Action is one player intent. Actor is set by the server from the session,
// never trusted from the payload. Field relevance depends on Type.
type Action struct {
	Type  ActionType `json:"type"`
	Actor string     `json:"-"`

	CardIndex    int    `json:"cardIndex"`
	TargetSlot   Slot   `json:"targetSlot"`
	EnergyType   string `json:"energyType"`
	TargetCardID string `json:"targetCardId"`
	AttackIndex  int    `json:"attackIndex"`
	BenchIndex   int    `json:"benchIndex"`
}

// DecodeAction parses a battleAction payload. RETREAT is the legacy client
// spelling of SWITCH_ACTIVE with its own index field; it is normalized here
// so the state machine sees a single switch operation.
func DecodeAction(actor string, actionType ActionType, data json.RawMessage) (*Action, error) {
	a := &Action{Actor: actor, Type: actionType}
	if len(data) > 0 {
		var raw struct {
			CardIndex        int    `json:"cardIndex"`
			TargetSlot       *Slot  `json:"targetSlot"`
			EnergyType       string `json:"energyType"`
			TargetCardID     string `json:"targetCardId"`
			AttackIndex      int    `json:"attackIndex"`
			BenchIndex       *int   `json:"benchIndex"`
			TargetBenchIndex *int   `json:"targetBenchIndex"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("malformed action data: %w", err)
		}
		a.CardIndex = raw.CardIndex
		a.EnergyType = raw.EnergyType
		a.TargetCardID = raw.TargetCardID
		a.AttackIndex = raw.AttackIndex
		if raw.TargetSlot != nil {
			a.TargetSlot = *raw.TargetSlot
		}
		if raw.BenchIndex != nil {
			a.BenchIndex = *raw.BenchIndex
		}
		if raw.TargetBenchIndex != nil {
			a.BenchIndex = *raw.TargetBenchIndex
		}
	}
	switch a.Type {
	case ActionRetreat:
		a.Type = ActionSwitchActive
	case ActionPlayCard, ActionAttachEnergy, ActionAttack,
		ActionSwitchActive, ActionEndTurn, ActionSurrender:
	default:
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}
	return a, nil
}

// payloadKey folds the fields relevant to the action type into a stable
// discriminator for duplicate detection.
func (a *Action) payloadKey() string {
	switch a.Type {
	case ActionPlayCard:
		if a.TargetSlot.Active {
			return fmt.Sprintf("%d>active", a.CardIndex)
		}
		return fmt.Sprintf("%d>%d", a.CardIndex, a.TargetSlot.Bench)
	case ActionAttachEnergy:
		return a.EnergyType + ">" + a.TargetCardID
	case ActionAttack:
		return strconv.Itoa(a.AttackIndex)
	case ActionSwitchActive:
		return strconv.Itoa(a.BenchIndex)
	default:
		return ""
	}
}

// AppliedAction records the last accepted transition, for clients rendering
// "what just happened" and for duplicate detection diagnostics.
type AppliedAction struct {
	TurnNumber int        `json:"turnNumber"`
	Type       ActionType `json:"type"`
	Actor      string     `json:"actor"`
}

// ActionResult describes the observable effect of an accepted action.
type ActionResult struct {
	// Duplicate is set when the action was already applied this turn and
	// the resubmission was absorbed without any state change.
	Duplicate bool

	// KnockedOutPlayer is the id of the player whose active card was
	// reduced to 0 HP by this action, if any.
	KnockedOutPlayer string

	Finished bool
	WinnerID string
}
