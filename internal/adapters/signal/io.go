package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cc *connCtx, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(cc.sid)).Msg("readPump closing")
		ctl.disconnect(cc)
		c.Close()
	}()

	// Per-connection flood guard; candidate bursts fit well under this.
	lim := rate.NewLimiter(20, 40)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(cc.sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(cc.sid)).Msg("readPump read error")
				return
			}
			if !lim.Allow() {
				log.Warn().Str("module", "signal").Str("sid", string(cc.sid)).Msg("message flood, closing")
				return
			}
			ctl.handleSignal(cc, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(cc *connCtx, c *WsSignalConn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case KindJoin:
		ctl.handleJoin(cc, c, data)
	case KindLeave:
		ctl.handleLeave(cc, c)
	case KindChat:
		ctl.handleChat(cc, c, data)
	case KindTyping:
		ctl.handleTyping(cc, c, data)
	case KindPing:
		ctl.handlePing(c)
	case KindRename:
		ctl.handleRename(cc, c, data)
	case KindWhoAmI:
		ctl.handleWhoAmI(cc, c)
	case KindJoinCall:
		ctl.handleJoinCall(cc, c, data)
	case KindLeaveCall:
		ctl.handleLeaveCall(cc, data)
	case KindEndCall:
		ctl.handleEndCall(cc, c, data)
	case KindStartCall:
		ctl.handleStartCall(cc, c, data)
	case KindOffer, KindAnswer:
		ctl.handleSDP(cc, c, data)
	case KindCandidate:
		ctl.handleCandidate(cc, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
