package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/czefenglim/pokebattle/cardgame"
	"github.com/czefenglim/pokebattle/escrow"
	"github.com/czefenglim/pokebattle/server/serverdb"
)

func (s *Server) handleEvent(c *client, env *envelope) {
	switch env.Event {
	case EvtJoinRoom:
		s.handleJoinRoom(c, env.Data)
	case EvtLeaveRoom:
		s.handleLeaveRoom(c)
	case EvtSelectDeck:
		s.handleSelectDeck(c, env.Data)
	case EvtConfirmDeck:
		s.handleConfirmDeck(c)
	case EvtRequestRoomState:
		s.handleRequestRoomState(c)
	case EvtRequestBattleState:
		s.handleRequestBattleState(c)
	case EvtCoinFlipComplete:
		s.handleCoinFlipComplete(c)
	case EvtBattleAction:
		s.handleBattleAction(c, env.Data)
	default:
		c.Enqueue(EventError, errorPayload{Message: fmt.Sprintf("unknown event %q", env.Event)})
	}
}

// clientRoom resolves the room the client's player is seated in.
func (s *Server) clientRoom(c *client) *cardgame.Room {
	id := c.id()
	if id == "" {
		return nil
	}
	return s.manager.GetRoomFromPlayer(id)
}

func (s *Server) handleJoinRoom(c *client, data json.RawMessage) {
	var req joinRoomPayload
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" || req.PlayerID == "" {
		c.Enqueue(EventError, errorPayload{Message: "joinRoom needs roomId and playerId"})
		return
	}

	room, err := s.manager.GetOrCreateRoom(s.ctx, req.RoomID, req.RoomID)
	if err != nil {
		c.Enqueue(EventError, errorPayload{Message: "could not open room"})
		return
	}

	player := &cardgame.Player{
		ID:            req.PlayerID,
		Name:          req.Name,
		Avatar:        req.Avatar,
		WalletAddress: req.WalletAddress,
		Notifier:      c,
	}

	room.Dispatch(func() {
		if !room.AddPlayer(player) {
			c.Enqueue(EventError, errorPayload{Message: "room is full"})
			return
		}
		c.bind(req.PlayerID, room.ID)
		s.manager.BindPlayer(req.PlayerID, room.ID)
		s.clients.Store(req.PlayerID, c)
		s.log.Infof("player %s joined room %s", req.PlayerID, room.ID)

		room.Broadcast(EventRoomStateUpdate, room.Marshal())

		// A rejoin mid-battle gets the board immediately.
		if room.Battle != nil {
			c.Enqueue(EventBattleStateUpdate, room.Battle.Snapshot())
		}

		s.maybeStartSelection(room)
	})
}

// maybeStartSelection fires once when the second seat fills: the room moves
// to deck selection, the countdown starts, and stake selection kicks off in
// the background. Runs on the room executor.
func (s *Server) maybeStartSelection(room *cardgame.Room) {
	room.Lock()
	if room.WagerTriggered || len(room.Players) != 2 {
		room.Unlock()
		return
	}
	room.WagerTriggered = true
	room.Status = cardgame.RoomSelecting
	room.Unlock()

	room.StartCountdown(s.selectionSeconds,
		func(remaining int) {
			room.Broadcast(EventTimerTick, timerTickPayload{Timer: remaining})
		},
		func() {
			s.onSelectionExpired(room)
		},
	)
	room.Broadcast(EventRoomStateUpdate, room.Marshal())

	go s.runWagerSelection(room)
}

// runWagerSelection picks and locks the stakes. Chain calls are slow, so
// this runs off the room executor and dispatches back for room mutation.
func (s *Server) runWagerSelection(room *cardgame.Room) {
	if s.escrow == nil {
		return
	}
	players := room.GetPlayers()
	if len(players) != 2 {
		return
	}
	p1, p2 := players[0], players[1]

	p1.RLock()
	wallet1 := p1.WalletAddress
	p1.RUnlock()
	p2.RLock()
	wallet2 := p2.WalletAddress
	p2.RUnlock()
	if wallet1 == "" || wallet2 == "" {
		s.log.Warnf("room %s: missing wallet, skipping wager", room.ID)
		room.Broadcast(EventWagerLocked, wagerLockedPayload{OnChain: false, Reason: "missing wallet"})
		return
	}
	addr1 := common.HexToAddress(wallet1)
	addr2 := common.HexToAddress(wallet2)

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	sess, err := s.escrow.SelectStakes(ctx, room.ID, s.wagerRarity, p1.ID, addr1, p2.ID, addr2)
	if err != nil {
		s.log.Warnf("room %s: stake selection failed: %v", room.ID, err)
		room.Broadcast(EventWagerLocked, wagerLockedPayload{
			OnChain: false,
			Reason:  string(escrow.KindOf(err)),
		})
		return
	}

	room.Dispatch(func() {
		room.Lock()
		room.WagerRarity = sess.Rarity
		room.WagerCardID1 = sess.Parties[0].Card.TcgID
		room.WagerCardID2 = sess.Parties[1].Card.TcgID
		room.Unlock()
		room.Broadcast(EventWagerCardsSelected, wagerCardsSelectedPayload{
			Rarity:    sess.Rarity,
			Player1ID: sess.Parties[0].PlayerID,
			Player2ID: sess.Parties[1].PlayerID,
			Card1:     sess.Parties[0].Card,
			Card2:     sess.Parties[1].Card,
		})
		room.Broadcast(EventRoomStateUpdate, room.Marshal())
	})

	if s.signerFor != nil {
		sess.RegisterSigners(map[string]escrow.Signer{
			p1.ID: s.signerFor(addr1),
			p2.ID: s.signerFor(addr2),
		})
	}

	lockErr := s.escrow.Lock(ctx, sess)
	onChain := lockErr == nil
	reason := ""
	if lockErr != nil {
		// Declined or unfundable stakes downgrade to an off-chain wager
		// rather than blocking the match.
		reason = string(escrow.KindOf(lockErr))
		s.log.Warnf("room %s: on-chain lock failed (%s): %v", room.ID, reason, lockErr)
		s.escrow.FallBackOffChain(sess)
	}

	room.Dispatch(func() {
		room.Lock()
		room.WagerLocked = true
		room.ContractLocked = onChain
		room.Unlock()
		room.Broadcast(EventWagerLocked, wagerLockedPayload{OnChain: onChain, Reason: reason})
		room.Broadcast(EventRoomStateUpdate, room.Marshal())
	})
}

// onWagerState relays escrow attempt transitions to the room. Installed as
// the coordinator's state notifier; battle id and room id coincide.
func (s *Server) onWagerState(battleID, playerID string, state escrow.AttemptState) {
	room := s.manager.GetRoom(battleID)
	if room == nil {
		return
	}
	room.Broadcast(EventWagerStatus, wagerStatusPayload{PlayerID: playerID, State: string(state)})
}

// onSelectionExpired force-picks the default deck for stragglers and starts
// the battle. Runs on the room executor.
func (s *Server) onSelectionExpired(room *cardgame.Room) {
	room.Broadcast(EventTimerEnd, nil)
	for _, p := range room.GetPlayers() {
		p.Lock()
		if p.DeckID == "" {
			p.DeckID = s.defaultDeckID
		}
		deckID := p.DeckID
		confirmed := p.Confirmed
		p.Confirmed = true
		p.Unlock()

		room.Broadcast(EventDeckSelected, deckSelectedPayload{PlayerID: p.ID, DeckID: deckID})
		if !confirmed {
			room.Broadcast(EventPlayerConfirmed, playerConfirmedPayload{PlayerID: p.ID})
		}
	}
	s.startBattle(room)
}

func (s *Server) handleSelectDeck(c *client, data json.RawMessage) {
	var req selectDeckPayload
	if err := json.Unmarshal(data, &req); err != nil || req.DeckID == "" {
		c.Enqueue(EventError, errorPayload{Message: "selectDeck needs deckId"})
		return
	}
	room := s.clientRoom(c)
	if room == nil {
		c.Enqueue(EventError, errorPayload{Message: "not in a room"})
		return
	}
	room.Dispatch(func() {
		p := room.GetPlayer(c.id())
		if p == nil {
			return
		}
		p.Lock()
		if p.Confirmed {
			p.Unlock()
			c.Enqueue(EventError, errorPayload{Message: "deck already confirmed"})
			return
		}
		p.DeckID = req.DeckID
		p.Unlock()
		room.Broadcast(EventDeckSelected, deckSelectedPayload{PlayerID: p.ID, DeckID: req.DeckID})
		room.Broadcast(EventRoomStateUpdate, room.Marshal())
	})
}

func (s *Server) handleConfirmDeck(c *client) {
	room := s.clientRoom(c)
	if room == nil {
		c.Enqueue(EventError, errorPayload{Message: "not in a room"})
		return
	}
	room.Dispatch(func() {
		p := room.GetPlayer(c.id())
		if p == nil {
			return
		}
		p.Lock()
		if p.DeckID == "" {
			p.Unlock()
			c.Enqueue(EventError, errorPayload{Message: "select a deck first"})
			return
		}
		p.Confirmed = true
		p.Unlock()
		room.Broadcast(EventPlayerConfirmed, playerConfirmedPayload{PlayerID: p.ID})

		players := room.GetPlayers()
		if len(players) != 2 {
			return
		}
		for _, pl := range players {
			pl.RLock()
			confirmed := pl.Confirmed
			pl.RUnlock()
			if !confirmed {
				return
			}
		}
		room.StopCountdown()
		s.startBattle(room)
	})
}

// startBattle deals and begins the battle. Runs on the room executor; the
// deck fetches block it, which also serializes against late actions.
func (s *Server) startBattle(room *cardgame.Room) {
	room.RLock()
	started := room.Battle != nil
	room.RUnlock()
	if started {
		return
	}

	players := room.GetPlayers()
	if len(players) != 2 {
		room.Broadcast(EventError, errorPayload{Message: "both players must be seated"})
		return
	}

	var seats [2]cardgame.Seat
	for i, p := range players {
		p.RLock()
		seat := cardgame.Seat{PlayerID: p.ID, Name: p.Name, Avatar: p.Avatar, DeckID: p.DeckID}
		p.RUnlock()

		deck, err := s.decks.FetchDeck(s.ctx, seat.PlayerID, seat.DeckID)
		if err != nil {
			s.log.Errorf("room %s: fetch deck %s for %s: %v", room.ID, seat.DeckID, seat.PlayerID, err)
			room.Broadcast(EventError, errorPayload{Message: "failed to load decks"})
			return
		}
		seat.Deck = deck
		seats[i] = seat
	}

	bs, err := cardgame.NewBattleState(room.ID, seats, s.newRand(), s.log)
	if err != nil {
		s.log.Errorf("room %s: deal battle: %v", room.ID, err)
		room.Broadcast(EventError, errorPayload{Message: "failed to start battle"})
		return
	}

	room.Lock()
	room.Battle = bs
	room.Status = cardgame.RoomBattle
	room.Unlock()

	bs.Begin()
	room.Broadcast(EventBattleStart, bs.Snapshot())
	room.Broadcast(EventBattlePhaseUpdate, battlePhasePayload{Phase: bs.Phase})
	room.Broadcast(EventRoomStateUpdate, room.Marshal())
}

func (s *Server) handleCoinFlipComplete(c *client) {
	room := s.clientRoom(c)
	if room == nil {
		return
	}
	room.Dispatch(func() {
		bs := room.Battle
		if bs == nil {
			c.Enqueue(EventError, errorPayload{Message: "no active battle"})
			return
		}
		started, err := bs.AcknowledgeCoinFlip(c.id())
		if err != nil {
			s.sendRuleError(c, err)
			return
		}
		if started {
			room.Broadcast(EventBattlePhaseUpdate, battlePhasePayload{Phase: bs.Phase})
			room.Broadcast(EventBattleStateUpdate, bs.Snapshot())
		}
	})
}

func (s *Server) handleBattleAction(c *client, data json.RawMessage) {
	var req battleActionPayload
	if err := json.Unmarshal(data, &req); err != nil {
		c.Enqueue(EventBattleActionError, battleActionErrorPayload{
			Code: string(cardgame.CodeInvalidAction), Message: "malformed battleAction",
		})
		return
	}
	action, err := cardgame.DecodeAction(c.id(), req.ActionType, req.Data)
	if err != nil {
		c.Enqueue(EventBattleActionError, battleActionErrorPayload{
			Code: string(cardgame.CodeInvalidAction), Message: err.Error(),
		})
		return
	}
	room := s.clientRoom(c)
	if room == nil {
		c.Enqueue(EventError, errorPayload{Message: "not in a room"})
		return
	}

	room.Dispatch(func() {
		bs := room.Battle
		if bs == nil {
			c.Enqueue(EventBattleActionError, battleActionErrorPayload{
				Code: string(cardgame.CodeBadPhase), Message: "no active battle",
			})
			return
		}
		res, err := bs.Apply(action)
		if err != nil {
			s.sendRuleError(c, err)
			return
		}
		if res.Duplicate {
			// Absorbed retransmission: resync the sender only.
			c.Enqueue(EventBattleStateUpdate, bs.Snapshot())
			return
		}
		room.Broadcast(EventBattleStateUpdate, bs.Snapshot())
		if res.Finished {
			s.completeBattle(room, bs, action.Type == cardgame.ActionSurrender)
		}
	})
}

// sendRuleError reports a rejected action to the offending client only.
func (s *Server) sendRuleError(c *client, err error) {
	if code, ok := cardgame.IsRuleError(err); ok {
		c.Enqueue(EventBattleActionError, battleActionErrorPayload{
			Code: string(code), Message: err.Error(),
		})
		return
	}
	c.Enqueue(EventError, errorPayload{Message: err.Error()})
}

// completeBattle announces the result and hands settlement and persistence
// to a background goroutine. Runs on the room executor.
func (s *Server) completeBattle(room *cardgame.Room, bs *cardgame.BattleState, surrender bool) {
	winnerID := bs.Winner
	var loserID string
	for _, p := range room.GetPlayers() {
		if p.ID != winnerID {
			loserID = p.ID
		}
	}

	summary := &cardgame.ResultSummary{
		RoomID:     room.ID,
		WinnerID:   winnerID,
		LoserID:    loserID,
		TurnNumber: bs.TurnNumber,
		Knockouts:  bs.Knockouts,
		Surrender:  surrender,
	}
	room.Broadcast(EventBattlePhaseUpdate, battlePhasePayload{Phase: bs.Phase})
	room.Broadcast(EventBattleCompleted, battleCompletedPayload{
		WinnerID:   winnerID,
		LoserID:    loserID,
		TurnNumber: summary.TurnNumber,
		Knockouts:  summary.Knockouts,
		Surrender:  surrender,
	})
	s.log.Infof("room %s: battle finished, winner %s", room.ID, winnerID)

	go s.settleAndRecord(room, summary)
}

func (s *Server) settleAndRecord(room *cardgame.Room, summary *cardgame.ResultSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if s.db != nil {
		err := s.db.StoreBattleResult(ctx, &serverdb.BattleRecord{
			RoomID:     summary.RoomID,
			WinnerID:   summary.WinnerID,
			LoserID:    summary.LoserID,
			TurnNumber: summary.TurnNumber,
			Knockouts:  summary.Knockouts,
			Surrender:  summary.Surrender,
		})
		if err != nil {
			s.log.Errorf("room %s: store battle result: %v", summary.RoomID, err)
		}
	}

	if s.escrow == nil {
		return
	}
	sess := s.escrow.Session(summary.RoomID)
	if sess == nil {
		return
	}
	res := s.escrow.Resolve(ctx, sess, summary.WinnerID)
	room.Broadcast(EventTransferResult, res)
	s.escrow.DropSession(summary.RoomID)

	if s.db != nil {
		err := s.db.StoreTransferResult(ctx, &serverdb.TransferRecord{
			RoomID:   res.BattleID,
			WinnerID: res.WinnerID,
			Method:   res.Method,
			TxHash:   res.TxHash,
			TokenIDs: res.TokenIDs,
			Error:    res.Error,
		})
		if err != nil {
			s.log.Errorf("room %s: store transfer result: %v", summary.RoomID, err)
		}
	}
}

func (s *Server) handleRequestRoomState(c *client) {
	room := s.clientRoom(c)
	if room == nil {
		c.Enqueue(EventError, errorPayload{Message: "not in a room"})
		return
	}
	c.Enqueue(EventRoomStateUpdate, room.Marshal())
}

func (s *Server) handleRequestBattleState(c *client) {
	room := s.clientRoom(c)
	if room == nil {
		c.Enqueue(EventError, errorPayload{Message: "not in a room"})
		return
	}
	room.Dispatch(func() {
		if room.Battle == nil {
			c.Enqueue(EventError, errorPayload{Message: "no active battle"})
			return
		}
		c.Enqueue(EventBattleStateUpdate, room.Battle.Snapshot())
	})
}

// handleLeaveRoom is an explicit exit: mid-battle it counts as surrender.
func (s *Server) handleLeaveRoom(c *client) {
	room := s.clientRoom(c)
	playerID := c.id()
	if room == nil || playerID == "" {
		return
	}
	room.Dispatch(func() {
		if bs := room.Battle; bs != nil && bs.Phase != cardgame.PhaseFinished {
			res, err := bs.Apply(&cardgame.Action{Type: cardgame.ActionSurrender, Actor: playerID})
			if err == nil && res.Finished {
				room.Broadcast(EventBattleStateUpdate, bs.Snapshot())
				s.completeBattle(room, bs, true)
			}
		}

		empty := room.RemovePlayer(playerID)
		s.manager.ReleasePlayer(playerID)
		s.clients.Delete(playerID)
		c.unbindRoom()
		room.Broadcast(EventRoomStateUpdate, room.Marshal())
		s.log.Infof("player %s left room %s", playerID, room.ID)

		if empty {
			go s.manager.RemoveRoom(room.ID)
		}
	})
}

// handleDisconnect marks the seat absent but keeps it reserved so the
// player can rejoin. The room is torn down only when both seats are gone.
func (s *Server) handleDisconnect(c *client) {
	playerID := c.id()
	if playerID == "" {
		return
	}
	// A reconnect may already have replaced this connection.
	if cur, ok := s.clients.Load(playerID); ok && cur.(*client) == c {
		s.clients.Delete(playerID)
	}

	room := s.manager.GetRoomFromPlayer(playerID)
	if room == nil {
		return
	}
	room.Dispatch(func() {
		p := room.GetPlayer(playerID)
		if p == nil {
			return
		}
		p.RLock()
		stale := p.Notifier != cardgame.Notifier(c)
		p.RUnlock()
		if stale {
			return
		}
		p.SetPresent(false)
		s.log.Infof("player %s disconnected from room %s", playerID, room.ID)

		if opp := room.Opponent(playerID); opp != nil {
			opp.Notify(EventWaitingForOpponent, nil)
		}
		room.Broadcast(EventRoomStateUpdate, room.Marshal())

		anyPresent := false
		for _, pl := range room.GetPlayers() {
			pl.RLock()
			if pl.Present {
				anyPresent = true
			}
			pl.RUnlock()
		}
		if !anyPresent {
			go s.manager.RemoveRoom(room.ID)
		}
	})
}

// onRoomRemoved voids any live wager for the dead room and hands the cancel
// transaction to the chain watcher.
func (s *Server) onRoomRemoved(room *cardgame.Room) {
	if s.escrow == nil {
		return
	}
	sess := s.escrow.Session(room.ID)
	if sess == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	tx, err := s.escrow.Cancel(ctx, sess)
	if err != nil {
		s.log.Errorf("room %s: cancel wager: %v", room.ID, err)
		return
	}
	if tx != nil && s.watcher != nil {
		s.log.Infof("room %s: wager cancelled, tracking tx %s", room.ID, tx.Hash())
		go s.watcher.Track(context.Background(), tx.Hash())
	}
}
