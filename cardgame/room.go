package cardgame

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/utils"
)

const (
	// roomQueueSize bounds the per-room action queue. Overflow means a
	// client is flooding; the dispatch fails rather than blocking the hub.
	roomQueueSize = 64

	// SelectionCountdownSeconds is how long players get to pick and
	// confirm a deck once both seats are filled.
	SelectionCountdownSeconds = 60
)

// NewRoom creates a room and starts its serialized executor. An empty id
// gets a generated one.
func NewRoom(ctx context.Context, id, name string, log slog.Logger) (*Room, error) {
	if id == "" {
		var err error
		id, err = utils.GenerateRandomString(16)
		if err != nil {
			return nil, fmt.Errorf("failed to generate room ID: %w", err)
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Room{
		Ctx:    ctx,
		Cancel: cancel,
		ID:     id,
		Name:   name,
		Status: RoomWaiting,
		queue:  make(chan func(), roomQueueSize),
		log:    log,
	}
	go r.run()
	return r, nil
}

// run drains the room queue until the room is cancelled. Everything that
// touches Players, wager flags or the battle state runs here, so those
// mutations never race.
func (r *Room) run() {
	for {
		select {
		case <-r.Ctx.Done():
			return
		case fn := <-r.queue:
			fn()
		}
	}
}

// Dispatch schedules fn on the room's executor. Returns false when the room
// is closed or the queue is saturated; the caller treats that as a dropped
// request, not an error to retry.
func (r *Room) Dispatch(fn func()) bool {
	select {
	case <-r.Ctx.Done():
		return false
	case r.queue <- fn:
		return true
	default:
		r.log.Warnf("room %s: queue full, dropping dispatch", r.ID)
		return false
	}
}

// DispatchWait runs fn on the executor and blocks until it completes, so the
// caller can read results computed on the queue.
func (r *Room) DispatchWait(fn func()) bool {
	done := make(chan struct{})
	ok := r.Dispatch(func() {
		fn()
		close(done)
	})
	if !ok {
		return false
	}
	select {
	case <-r.Ctx.Done():
		return false
	case <-done:
		return true
	}
}

// AddPlayer seats a player, or refreshes presence if the same id rejoins.
// Returns false when the room already has two other players.
func (r *Room) AddPlayer(player *Player) bool {
	r.Lock()
	defer r.Unlock()
	for _, p := range r.Players {
		if p.ID == player.ID {
			p.SetPresent(true)
			p.SetNotifier(player.Notifier)
			return true
		}
	}
	if len(r.Players) >= 2 {
		return false
	}
	player.Present = true
	r.Players = append(r.Players, player)
	return true
}

func (r *Room) GetPlayer(playerID string) *Player {
	r.RLock()
	defer r.RUnlock()
	for _, p := range r.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (r *Room) GetPlayers() []*Player {
	r.RLock()
	defer r.RUnlock()
	return append([]*Player(nil), r.Players...)
}

// Opponent returns the other seated player, if any.
func (r *Room) Opponent(playerID string) *Player {
	r.RLock()
	defer r.RUnlock()
	for _, p := range r.Players {
		if p.ID != playerID {
			return p
		}
	}
	return nil
}

// RemovePlayer unseats a player. Reports whether the room is now empty.
func (r *Room) RemovePlayer(playerID string) bool {
	r.Lock()
	defer r.Unlock()
	for i, p := range r.Players {
		if p.ID == playerID {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			break
		}
	}
	return len(r.Players) == 0
}

// Full reports whether both seats are occupied by present players.
func (r *Room) Full() bool {
	r.RLock()
	defer r.RUnlock()
	if len(r.Players) != 2 {
		return false
	}
	for _, p := range r.Players {
		p.RLock()
		present := p.Present
		p.RUnlock()
		if !present {
			return false
		}
	}
	return true
}

// Broadcast enqueues an event for every seated player's client.
func (r *Room) Broadcast(eventType string, payload interface{}) {
	for _, p := range r.GetPlayers() {
		p.Notify(eventType, payload)
	}
}

// Marshal returns the wire form of the room.
func (r *Room) Marshal() *RoomInfo {
	r.RLock()
	defer r.RUnlock()
	info := &RoomInfo{
		ID:              r.ID,
		Name:            r.Name,
		Status:          r.Status,
		Countdown:       r.Countdown,
		CountdownActive: r.CountdownActive,
		WagerLocked:     r.WagerLocked,
		ContractLocked:  r.ContractLocked,
		WagerRarity:     r.WagerRarity,
		WagerCardID1:    r.WagerCardID1,
		WagerCardID2:    r.WagerCardID2,
	}
	if len(r.Players) > 0 {
		info.Player1 = r.Players[0].Marshal()
	}
	if len(r.Players) > 1 {
		info.Player2 = r.Players[1].Marshal()
	}
	return info
}

// StartCountdown begins the deck selection timer. onTick fires once per
// second with the remaining value and onExpire once when it reaches zero;
// both run on the room executor. Starting an already running countdown is a
// no-op.
func (r *Room) StartCountdown(seconds int, onTick func(remaining int), onExpire func()) {
	r.Lock()
	if r.CountdownActive {
		r.Unlock()
		return
	}
	r.Countdown = seconds
	r.CountdownActive = true
	stop := make(chan struct{})
	r.countdownStop = stop
	r.Unlock()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-r.Ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				var remaining int
				var expired bool
				r.Lock()
				r.Countdown--
				remaining = r.Countdown
				if remaining <= 0 {
					r.CountdownActive = false
					r.countdownStop = nil
					expired = true
				}
				r.Unlock()

				if expired {
					r.Dispatch(onExpire)
					return
				}
				r.Dispatch(func() { onTick(remaining) })
			}
		}
	}()
}

// StopCountdown cancels a running selection timer.
func (r *Room) StopCountdown() {
	r.Lock()
	defer r.Unlock()
	if r.countdownStop != nil {
		close(r.countdownStop)
		r.countdownStop = nil
	}
	r.CountdownActive = false
	r.Countdown = 0
}

// Close cancels the room executor and timer. Idempotent.
func (r *Room) Close() {
	r.StopCountdown()
	r.Cancel()
}
