package server

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/czefenglim/pokebattle/cardgame"
	"github.com/czefenglim/pokebattle/chainwatcher"
	"github.com/czefenglim/pokebattle/escrow"
	"github.com/czefenglim/pokebattle/server/serverdb"
)

const (
	// clientQueueSize bounds each client's outbound event buffer. A slow
	// receiver gets stale events dropped, never a blocked room.
	clientQueueSize = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second

	maxMessageSize = 8 << 10
)

type Config struct {
	Log     slog.Logger
	DB      serverdb.ServerDB
	Decks   cardgame.DeckStore
	Escrow  *escrow.Coordinator
	Watcher *chainwatcher.ChainWatcher

	// SignerFor maps a player wallet to the signer staking on its behalf.
	// The demo deployment signs custodially with the operator key.
	SignerFor func(addr common.Address) escrow.Signer

	// WagerRarity is the target rarity for stake selection.
	WagerRarity string

	// DefaultDeckID is assigned when the selection timer expires before a
	// player picked a deck.
	DefaultDeckID string

	// SelectionSeconds overrides the deck selection countdown.
	SelectionSeconds int

	// NewRand supplies per-battle randomness. Defaults to time-seeded.
	NewRand func() *rand.Rand
}

// Server is the realtime hub: it owns the websocket clients and forwards
// their events into room executors. Nothing here mutates battle state
// directly; that always goes through cardgame.Room.Dispatch.
type Server struct {
	log     slog.Logger
	manager *cardgame.Manager
	db      serverdb.ServerDB
	decks   cardgame.DeckStore
	escrow  *escrow.Coordinator
	watcher *chainwatcher.ChainWatcher

	signerFor        func(addr common.Address) escrow.Signer
	wagerRarity      string
	defaultDeckID    string
	selectionSeconds int
	newRand          func() *rand.Rand

	ctx      context.Context
	upgrader websocket.Upgrader

	// clients maps playerID to the live connection.
	clients sync.Map
}

func New(ctx context.Context, cfg Config) *Server {
	selection := cfg.SelectionSeconds
	if selection == 0 {
		selection = cardgame.SelectionCountdownSeconds
	}
	newRand := cfg.NewRand
	if newRand == nil {
		newRand = func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		}
	}
	s := &Server{
		log:              cfg.Log,
		manager:          cardgame.NewManager(cfg.Log),
		db:               cfg.DB,
		decks:            cfg.Decks,
		escrow:           cfg.Escrow,
		watcher:          cfg.Watcher,
		signerFor:        cfg.SignerFor,
		wagerRarity:      cfg.WagerRarity,
		defaultDeckID:    cfg.DefaultDeckID,
		selectionSeconds: selection,
		newRand:          newRand,
		ctx:              ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect cross-origin in the demo setup.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.manager.OnRoomRemoved = s.onRoomRemoved
	if s.escrow != nil {
		s.escrow.SetStateNotifier(s.onWagerState)
	}
	return s
}

// Manager exposes the room manager, mainly for tests and diagnostics.
func (s *Server) Manager() *cardgame.Manager { return s.manager }

// HandleWS upgrades an HTTP request into a game connection.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("ws upgrade failed: %v", err)
		return
	}
	c := &client{
		srv:  s,
		conn: conn,
		send: make(chan outEvent, clientQueueSize),
		done: make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
}

// client is one websocket connection. It implements cardgame.Notifier, so a
// seated Player pushes events straight into the send queue.
type client struct {
	srv  *Server
	conn *websocket.Conn
	send chan outEvent

	closeOnce sync.Once
	done      chan struct{}

	mu       sync.RWMutex
	playerID string
	roomID   string
}

var _ cardgame.Notifier = (*client)(nil)

// Enqueue queues an event without blocking, dropping the oldest queued
// event to make room when the receiver is slow.
func (c *client) Enqueue(eventType string, payload interface{}) bool {
	ev := outEvent{Event: eventType, Data: payload}
	select {
	case <-c.done:
		return false
	case c.send <- ev:
		return true
	default:
	}

	// Queue full: pop one, then try once more.
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		c.srv.log.Debugf("client %s: send queue full, dropping %s", c.id(), eventType)
		return false
	}
}

func (c *client) id() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

func (c *client) room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *client) bind(playerID, roomID string) {
	c.mu.Lock()
	c.playerID = playerID
	c.roomID = roomID
	c.mu.Unlock()
}

func (c *client) unbindRoom() {
	c.mu.Lock()
	c.roomID = ""
	c.mu.Unlock()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.srv.handleDisconnect(c)
		c.close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.log.Debugf("client %s: read error: %v", c.id(), err)
			}
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.Enqueue(EventError, errorPayload{Message: "malformed message"})
			continue
		}
		c.srv.handleEvent(c, &env)
	}
}
