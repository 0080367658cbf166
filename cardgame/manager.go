package cardgame

import (
	"context"
	"sync"

	"github.com/decred/slog"
)

// Manager owns every live room and the player-to-room index. Rooms are
// created on first join and torn down when the last seat empties.
type Manager struct {
	log slog.Logger

	roomsMu sync.RWMutex
	rooms   map[string]*Room

	playerRoomMu sync.RWMutex
	playerRoom   map[string]string

	// OnRoomRemoved, when set, is invoked after a room is torn down, off
	// any manager lock. Used to hand escrow cleanup to the chain watcher.
	OnRoomRemoved func(room *Room)
}

func NewManager(log slog.Logger) *Manager {
	return &Manager{
		log:        log,
		rooms:      make(map[string]*Room),
		playerRoom: make(map[string]string),
	}
}

// GetOrCreateRoom returns the room with the given id, creating it when it
// does not exist yet.
func (m *Manager) GetOrCreateRoom(ctx context.Context, id, name string) (*Room, error) {
	m.roomsMu.Lock()
	defer m.roomsMu.Unlock()
	if r, ok := m.rooms[id]; ok {
		return r, nil
	}
	r, err := NewRoom(ctx, id, name, m.log)
	if err != nil {
		return nil, err
	}
	m.rooms[r.ID] = r
	m.log.Debugf("room %s created", r.ID)
	return r, nil
}

func (m *Manager) GetRoom(id string) *Room {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()
	return m.rooms[id]
}

// GetRoomFromPlayer resolves the room a player is currently seated in.
func (m *Manager) GetRoomFromPlayer(playerID string) *Room {
	m.playerRoomMu.RLock()
	roomID, ok := m.playerRoom[playerID]
	m.playerRoomMu.RUnlock()
	if !ok {
		return nil
	}
	return m.GetRoom(roomID)
}

// BindPlayer records which room a player sits in.
func (m *Manager) BindPlayer(playerID, roomID string) {
	m.playerRoomMu.Lock()
	m.playerRoom[playerID] = roomID
	m.playerRoomMu.Unlock()
}

// ReleasePlayer drops the player-to-room binding.
func (m *Manager) ReleasePlayer(playerID string) {
	m.playerRoomMu.Lock()
	delete(m.playerRoom, playerID)
	m.playerRoomMu.Unlock()
}

// RemoveRoom tears a room down: cancels its executor, unbinds its players
// and fires OnRoomRemoved.
func (m *Manager) RemoveRoom(id string) {
	m.roomsMu.Lock()
	r, ok := m.rooms[id]
	if ok {
		delete(m.rooms, id)
	}
	m.roomsMu.Unlock()
	if !ok {
		return
	}

	for _, p := range r.GetPlayers() {
		m.ReleasePlayer(p.ID)
	}
	r.Close()
	m.log.Debugf("room %s removed", id)

	if m.OnRoomRemoved != nil {
		m.OnRoomRemoved(r)
	}
}

// Rooms returns a snapshot of all live rooms.
func (m *Manager) Rooms() []*Room {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}
