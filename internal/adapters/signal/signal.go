package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

type SignalWSController struct {
	Orch *app.Orchestrator

	joinLimiter *RoomRateLimiter
}

func NewSignalWSController(orch *app.Orchestrator) *SignalWSController {
	return &SignalWSController{
		Orch:        orch,
		joinLimiter: NewRoomRateLimiter(5, 10*time.Second),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// connCtx ties the ephemeral handle to the durable client token for the
// lifetime of one websocket.
type connCtx struct {
	sid   core.SessionID
	token string
}

// BroadcastChat fans a frame out to the sender's chat room mates.
func (ctl *SignalWSController) BroadcastChat(sid core.SessionID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	ctl.Orch.OnFrame(sid, b)
}

func (ctl *SignalWSController) BroadcastRoom(name domain.RoomName, v any) {
	for _, snap := range ctl.Orch.Directory.MembersOfRoom(name) {
		ctl.sendJSON(snap.Session.Signal(), v)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request to a websocket, mints a fresh handle for
// it and binds the handle to the durable identity behind the client token.
// A reconnect for the same identity supersedes the old handle in the
// directory; the superseded socket is canceled and drains out.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	user := ctl.Orch.Directory.GetOrCreateUser(token)
	meta := domain.NewMember(user)
	sess := core.NewMemberSession(meta).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Directory.Register(sid, user, sess, cancel)

	cc := &connCtx{sid: sid, token: token}
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cc, conn)
}

// disconnect releases everything bound to the handle and tells the rest of
// the room. Call membership goes first so the participant-left delta reaches
// the remaining call members; then chat membership and the directory entry.
func (ctl *SignalWSController) disconnect(cc *connCtx) {
	st, bound := ctl.Orch.Directory.StateOf(cc.sid)
	ctl.leaveCallAndNotify(cc)
	chatRoom, _, inChat := ctl.Orch.Directory.RoomOf(cc.sid)
	ctl.Orch.OnDisconnect(cc.sid)
	if bound && inChat {
		ctl.BroadcastRoom(chatRoom, MemberEventMsg{Type: KindMemberLeft, User: *st.User})
	}
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, msg string) {
	ctl.sendJSON(c, ErrorMsg{Type: KindError, Error: msg})
}
