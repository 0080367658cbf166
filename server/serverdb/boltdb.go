package serverdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	battlesBucket   = []byte("battles")
	transfersBucket = []byte("transfers")
	playerIdx       = []byte("player_battles")
)

// boltDB implements ServerDB on a single bbolt file.
type boltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (creating if needed) the database at path.
func NewBoltDB(path string) (ServerDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{battlesBucket, transfersBucket, playerIdx} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &boltDB{db: db}, nil
}

func (b *boltDB) Close() error { return b.db.Close() }

func (b *boltDB) StoreBattleResult(_ context.Context, rec *BattleRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(battlesBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		if err := bkt.Put([]byte(rec.RoomID), data); err != nil {
			return err
		}
		// Secondary index: playerID/roomID -> roomID, for history queries.
		idx := tx.Bucket(playerIdx)
		if idx == nil {
			return ErrMainBucketNotFound
		}
		for _, pid := range []string{rec.WinnerID, rec.LoserID} {
			if pid == "" {
				continue
			}
			key := []byte(pid + "/" + rec.RoomID)
			if err := idx.Put(key, []byte(rec.RoomID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltDB) FetchBattleResult(_ context.Context, roomID string) (*BattleRecord, error) {
	var rec *BattleRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(battlesBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		data := bkt.Get([]byte(roomID))
		if data == nil {
			return ErrBattleNotFound
		}
		rec = &BattleRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (b *boltDB) FetchBattlesByPlayer(_ context.Context, playerID string) ([]*BattleRecord, error) {
	var out []*BattleRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(playerIdx)
		bkt := tx.Bucket(battlesBucket)
		if idx == nil || bkt == nil {
			return ErrMainBucketNotFound
		}
		prefix := []byte(playerID + "/")
		c := idx.Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			data := bkt.Get(v)
			if data == nil {
				continue
			}
			rec := &BattleRecord{}
			if err := json.Unmarshal(data, rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *boltDB) StoreTransferResult(_ context.Context, rec *TransferRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(transfersBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		return bkt.Put([]byte(rec.RoomID), data)
	})
}

func (b *boltDB) FetchTransferResult(_ context.Context, roomID string) (*TransferRecord, error) {
	var rec *TransferRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(transfersBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		data := bkt.Get([]byte(roomID))
		if data == nil {
			return ErrTransferNotFound
		}
		rec = &TransferRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
