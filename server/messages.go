package server

import (
	"encoding/json"

	"github.com/czefenglim/pokebattle/cardgame"
)

// Client-to-server event names. The envelope's Event field is dispatched
// over this closed set; anything else is answered with EventError.
const (
	EvtJoinRoom           = "joinRoom"
	EvtLeaveRoom          = "leaveRoom"
	EvtSelectDeck         = "selectDeck"
	EvtConfirmDeck        = "confirmDeck"
	EvtRequestRoomState   = "requestRoomState"
	EvtRequestBattleState = "requestBattleState"
	EvtCoinFlipComplete   = "coinFlipComplete"
	EvtBattleAction       = "battleAction"
)

// Server-to-client event names.
const (
	EventRoomStateUpdate    = "roomStateUpdate"
	EventTimerTick          = "timerTick"
	EventTimerEnd           = "timerEnd"
	EventDeckSelected       = "deckSelected"
	EventPlayerConfirmed    = "playerConfirmed"
	EventWagerCardsSelected = "wagerCardsSelected"
	EventWagerStatus        = "wagerStatus"
	EventWagerLocked        = "wagerLocked"
	EventBattleStart        = "battleStart"
	EventBattleStateUpdate  = "battleStateUpdate"
	EventBattlePhaseUpdate  = "battlePhaseUpdate"
	EventWaitingForOpponent = "waitingForOpponent"
	EventBattleActionError  = "battleActionError"
	EventBattleCompleted    = "battleCompleted"
	EventTransferResult     = "transferResult"
	EventError              = "error"
)

// envelope is the single wire frame in both directions: an event name plus
// an event-specific payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outEvent is a server-to-client frame before marshalling.
type outEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type joinRoomPayload struct {
	RoomID        string `json:"roomId"`
	PlayerID      string `json:"playerId"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar"`
	WalletAddress string `json:"walletAddress"`
}

type selectDeckPayload struct {
	DeckID string `json:"deckId"`
}

type battleActionPayload struct {
	ActionType cardgame.ActionType `json:"actionType"`
	Data       json.RawMessage     `json:"data,omitempty"`
}

type timerTickPayload struct {
	Timer int `json:"timer"`
}

type deckSelectedPayload struct {
	PlayerID string `json:"playerId"`
	DeckID   string `json:"deckId"`
}

type playerConfirmedPayload struct {
	PlayerID string `json:"playerId"`
}

type wagerCardsSelectedPayload struct {
	Rarity    string        `json:"rarity"`
	Player1ID string        `json:"player1Id"`
	Player2ID string        `json:"player2Id"`
	Card1     cardgame.Card `json:"card1"`
	Card2     cardgame.Card `json:"card2"`
}

type wagerStatusPayload struct {
	PlayerID string `json:"playerId"`
	State    string `json:"state"`
}

type wagerLockedPayload struct {
	OnChain bool   `json:"onChain"`
	Reason  string `json:"reason,omitempty"`
}

type battlePhasePayload struct {
	Phase cardgame.GamePhase `json:"phase"`
}

type battleActionErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type battleCompletedPayload struct {
	WinnerID   string         `json:"winnerId"`
	LoserID    string         `json:"loserId"`
	TurnNumber int            `json:"turnNumber"`
	Knockouts  map[string]int `json:"knockouts"`
	Surrender  bool           `json:"surrender"`
}

type errorPayload struct {
	Message string `json:"message"`
}
