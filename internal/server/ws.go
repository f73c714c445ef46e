package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
	"optviz/internal/pricefeed"
	"optviz/internal/strategy"
	"optviz/pkg/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	outboxSize     = 32
)

// Command is a message from a live session client.
type Command struct {
	Type     string           `json:"type"`
	Token    string           `json:"token,omitempty"`
	Strategy string           `json:"strategy,omitempty"`
	Seed     bool             `json:"seed,omitempty"`
	ID       string           `json:"id,omitempty"`
	Leg      *models.LegSpec  `json:"leg,omitempty"`
	Legs     []models.LegSpec `json:"legs,omitempty"`
}

// Command types.
const (
	CmdSelectToken    = "select_token"
	CmdSelectStrategy = "select_strategy"
	CmdEnterBuilder   = "enter_builder"
	CmdAddLeg         = "add_leg"
	CmdUpdateLeg      = "update_leg"
	CmdRemoveLeg      = "remove_leg"
	CmdExitBuilder    = "exit_builder"
	CmdLoadLegs       = "load_legs"
	CmdSnapshot       = "snapshot"
)

// Message is sent to a live session client.
type Message struct {
	Type    string      `json:"type"` // update, error
	Command string      `json:"command,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// tokenSelected reports a finished token fetch back to the event loop.
type tokenSelected struct {
	token string
	err   error
}

// liveSession is the per-connection state. Only the event loop goroutine
// touches its fields after creation.
type liveSession struct {
	srv     *Server
	conn    *websocket.Conn
	session *strategy.Session
	logger  zerolog.Logger

	outbox   chan Message
	selected chan tokenSelected

	ticks     <-chan models.SpotQuote
	tickToken string
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ls := &liveSession{
		srv:      s,
		conn:     conn,
		logger:   s.logger.With().Str("session", utils.NewID()).Logger(),
		outbox:   make(chan Message, outboxSize),
		selected: make(chan tokenSelected, 4),
	}
	ls.session = strategy.NewSession(s.deps.Assembler, s.deps.Catalog, s.deps.Prices, ls.logger,
		strategy.WithResultSink(ls.push))

	ls.logger.Info().Str("remote", r.RemoteAddr).Msg("Live session opened")
	ls.run(r.Context())
	ls.logger.Info().Msg("Live session closed")
}

// push is the session's result sink. It runs under the session lock, so it
// only queues; a full outbox drops the update.
func (ls *liveSession) push(u strategy.Update) {
	select {
	case ls.outbox <- Message{Type: "update", Data: u}:
	default:
		ls.logger.Warn().Msg("Outbox full, dropping update")
	}
}

func (ls *liveSession) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer ls.conn.Close()
	defer ls.unsubscribe()

	commands := make(chan Command)
	go ls.readLoop(ctx, commands)

	if tok := ls.srv.opts.DefaultToken; tok != "" {
		ls.selectToken(ctx, tok)
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd, ok := <-commands:
			if !ok {
				return
			}
			ls.handle(ctx, cmd)

		case sel := <-ls.selected:
			if sel.err != nil {
				ls.send(Message{Type: "error", Command: CmdSelectToken, Error: sel.err.Error()})
				continue
			}
			if current, _ := ls.session.Token(); current == sel.token {
				ls.subscribe(sel.token)
			}

		case q, ok := <-ls.ticks:
			if !ok {
				ls.ticks = nil
				continue
			}
			if err := ls.session.ApplySpot(q.Token, q.Price); err != nil {
				ls.logger.Warn().Err(err).Str("token", q.Token).Msg("Ignoring spot tick")
			}

		case msg := <-ls.outbox:
			if err := ls.write(msg); err != nil {
				return
			}

		case <-ping.C:
			ls.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ls.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ls *liveSession) readLoop(ctx context.Context, out chan<- Command) {
	defer close(out)

	ls.conn.SetReadLimit(maxMessageSize)
	ls.conn.SetReadDeadline(time.Now().Add(pongWait))
	ls.conn.SetPongHandler(func(string) error {
		return ls.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := ls.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ls.logger.Debug().Err(err).Msg("WebSocket read failed")
			}
			return
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

func (ls *liveSession) handle(ctx context.Context, cmd Command) {
	var err error
	switch cmd.Type {
	case CmdSelectToken:
		ls.selectToken(ctx, cmd.Token)
	case CmdSelectStrategy:
		err = ls.session.SelectStrategy(cmd.Strategy)
	case CmdEnterBuilder:
		err = ls.session.EnterBuilder(cmd.Seed)
	case CmdAddLeg:
		var leg models.InstrumentLeg
		if leg, err = commandLeg(cmd); err == nil {
			_, err = ls.session.AddLeg(leg)
		}
	case CmdUpdateLeg:
		var leg models.InstrumentLeg
		if leg, err = commandLeg(cmd); err == nil {
			err = ls.session.UpdateLeg(cmd.ID, leg)
		}
	case CmdRemoveLeg:
		err = ls.session.RemoveLeg(cmd.ID)
	case CmdExitBuilder:
		err = ls.session.ExitBuilder()
	case CmdLoadLegs:
		err = ls.loadLegs(cmd.Legs)
	case CmdSnapshot:
		ls.send(Message{Type: "update", Data: ls.session.Snapshot()})
	default:
		err = apperrors.NewValidationError("type", cmd.Type, "unknown command")
	}

	if err != nil {
		ls.logger.Debug().Err(err).Str("command", cmd.Type).Msg("Command failed")
		ls.send(Message{Type: "error", Command: cmd.Type, Error: err.Error()})
	}
}

// selectToken fetches in the background so the loop keeps serving; the
// session drops the result if a newer selection started meanwhile.
func (ls *liveSession) selectToken(ctx context.Context, token string) {
	token = pricefeed.NormalizeToken(token)
	go func() {
		err := ls.session.SelectToken(ctx, token)
		select {
		case ls.selected <- tokenSelected{token: token, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (ls *liveSession) subscribe(token string) {
	hub := ls.srv.deps.Hub
	if hub == nil || token == ls.tickToken {
		return
	}
	ls.unsubscribe()
	ls.ticks = hub.Subscribe(token, "")
	ls.tickToken = token
}

func (ls *liveSession) unsubscribe() {
	if ls.srv.deps.Hub != nil && ls.ticks != nil {
		ls.srv.deps.Hub.Unsubscribe(ls.tickToken, ls.ticks)
	}
	ls.ticks = nil
	ls.tickToken = ""
}

// loadLegs replaces the working list with the given legs and enters
// builder mode.
func (ls *liveSession) loadLegs(specs []models.LegSpec) error {
	legs, err := models.LegsFromSpecs(specs)
	if err != nil {
		return err
	}
	return ls.session.LoadBuilder(legs)
}

func commandLeg(cmd Command) (models.InstrumentLeg, error) {
	if cmd.Leg == nil {
		return nil, apperrors.NewValidationError("leg", nil, "leg is required")
	}
	return cmd.Leg.Leg()
}

// send queues a reply. The event loop is the only writer, so replies go
// through the outbox like updates do.
func (ls *liveSession) send(msg Message) {
	select {
	case ls.outbox <- msg:
	default:
		ls.logger.Warn().Str("type", msg.Type).Msg("Outbox full, dropping message")
	}
}

func (ls *liveSession) write(msg Message) error {
	ls.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ls.conn.WriteJSON(msg); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			ls.logger.Debug().Err(err).Msg("WebSocket write failed")
		}
		return err
	}
	return nil
}
