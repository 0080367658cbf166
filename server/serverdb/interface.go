package serverdb

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMainBucketNotFound = errors.New("main bucket not found")
	ErrBattleNotFound     = errors.New("battle record not found")
	ErrTransferNotFound   = errors.New("transfer record not found")
)

// BattleRecord is the persisted outcome of one finished battle.
type BattleRecord struct {
	RoomID     string         `json:"room_id"`
	WinnerID   string         `json:"winner_id"`
	LoserID    string         `json:"loser_id"`
	TurnNumber int            `json:"turn_number"`
	Knockouts  map[string]int `json:"knockouts"`
	Surrender  bool           `json:"surrender"`
	FinishedAt time.Time      `json:"finished_at"`
}

// TransferRecord is the persisted settlement outcome for a wagered battle.
type TransferRecord struct {
	RoomID    string    `json:"room_id"`
	WinnerID  string    `json:"winner_id"`
	Method    string    `json:"method"`
	TxHash    string    `json:"tx_hash,omitempty"`
	TokenIDs  []int64   `json:"token_ids,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ServerDB interface {
	StoreBattleResult(ctx context.Context, rec *BattleRecord) error
	FetchBattleResult(ctx context.Context, roomID string) (*BattleRecord, error)
	FetchBattlesByPlayer(ctx context.Context, playerID string) ([]*BattleRecord, error)

	StoreTransferResult(ctx context.Context, rec *TransferRecord) error
	FetchTransferResult(ctx context.Context, roomID string) (*TransferRecord, error)

	Close() error
}
