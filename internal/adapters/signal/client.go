package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/call"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Client is the participant-side uplink: one websocket to the relay server,
// speaking the same wire kinds the server handles. It satisfies call.Uplink,
// so a call.Controller can be driven straight off the read loop.
type Client struct {
	serverURL string
	token     string
	self      *domain.User

	mu  sync.Mutex
	ws  *websocket.Conn
	ctl *call.Controller

	// OnIncomingCall fires on a call announcement in the chat room; nil to
	// ignore rings.
	OnIncomingCall func(kind domain.CallType, initiator domain.User)
}

// Dial connects to the relay's signaling endpoint. The token is the durable
// identity: the server maps it to a UserID, so reconnecting with the same
// token supersedes the previous session.
func Dial(ctx context.Context, serverURL, token string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/ws/signal"

	hdr := http.Header{}
	hdr.Set("Cookie", "ct="+token)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), hdr)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "signal.client").Str("url", u.String()).Msg("connected")
	return &Client{
		serverURL: serverURL,
		token:     token,
		self:      &domain.User{ID: domain.UserID(token), Username: "guest"},
		ws:        ws,
	}, nil
}

// Self is the durable identity this client connected as.
func (c *Client) Self() *domain.User { return c.self }

// Bind attaches the call controller that receives negotiation events.
func (c *Client) Bind(ctl *call.Controller) {
	c.mu.Lock()
	c.ctl = ctl
	c.mu.Unlock()
}

func (c *Client) controller() *call.Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctl
}

// writeJSON serializes one frame. gorilla allows a single concurrent writer,
// so every outbound path funnels through here.
func (c *Client) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return errors.New("connection closed")
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) Close() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

// JoinRoom enters a chat room, optionally renaming first. Call membership is
// separate; see the controller's Join.
func (c *Client) JoinRoom(room, name string) error {
	return c.writeJSON(JoinMsg{Type: KindJoin, Room: room, Name: name})
}

func (c *Client) StartCall(kind domain.CallType) error {
	return c.writeJSON(StartCallMsg{Type: KindStartCall, CallType: kind})
}

func (c *Client) Ping() error {
	return c.writeJSON(Envelope{Type: KindPing})
}

// call.Uplink.

func (c *Client) JoinCall(room domain.RoomName, kind domain.CallType) error {
	return c.writeJSON(JoinCallMsg{Type: KindJoinCall, Room: string(room), CallType: string(kind)})
}

func (c *Client) LeaveCall(room domain.RoomName) error {
	return c.writeJSON(LeaveCallMsg{Type: KindLeaveCall, Room: string(room)})
}

func (c *Client) EndCall(room domain.RoomName) error {
	return c.writeJSON(EndCallMsg{Type: KindEndCall, Room: string(room)})
}

func (c *Client) SendOffer(target domain.UserID, sdp string) error {
	return c.writeJSON(SDPMsg{Type: KindOffer, Target: target, SDP: sdp})
}

func (c *Client) SendAnswer(target domain.UserID, sdp string) error {
	return c.writeJSON(SDPMsg{Type: KindAnswer, Target: target, SDP: sdp})
}

func (c *Client) SendCandidate(target domain.UserID, ci webrtc.ICECandidateInit) error {
	return c.writeJSON(NewCandidateMsg(target, ci))
}

// Listen blocks reading frames and dispatching them until the socket closes
// or ctx is canceled. Negotiation events go to the bound controller; chat
// events are logged and, for incoming-call, surfaced via the callback.
func (c *Client) Listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return errors.New("connection closed")
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctl := c.controller(); ctl != nil {
				ctl.Leave()
			}
			return err
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal.client").Msg("bad json")
		return
	}
	ctl := c.controller()

	switch env.Type {
	case KindCallState:
		var p CallStateMsg
		if err := json.Unmarshal(data, &p); err != nil || ctl == nil {
			return
		}
		peers := make([]domain.User, 0, len(p.Peers))
		for _, dto := range p.Peers {
			peers = append(peers, domain.User{ID: dto.ID, Username: dto.Username})
		}
		ctl.OnCallState(p.CallType, peers)

	case KindRoomFull:
		var p RoomFullMsg
		_ = json.Unmarshal(data, &p)
		if ctl != nil {
			ctl.OnRoomFull(p.Reason)
		}

	case KindParticipantJoined:
		var p ParticipantMsg
		if err := json.Unmarshal(data, &p); err == nil && ctl != nil {
			ctl.OnParticipantJoined(p.User)
		}

	case KindParticipantLeft:
		var p ParticipantMsg
		if err := json.Unmarshal(data, &p); err == nil && ctl != nil {
			ctl.OnParticipantLeft(p.User.ID)
		}

	case KindOffer:
		var p SDPMsg
		if err := json.Unmarshal(data, &p); err == nil && ctl != nil {
			ctl.OnOffer(p.From, p.SDP)
		}

	case KindAnswer:
		var p SDPMsg
		if err := json.Unmarshal(data, &p); err == nil && ctl != nil {
			ctl.OnAnswer(p.From, p.SDP)
		}

	case KindCandidate:
		var p CandidateMsg
		if err := json.Unmarshal(data, &p); err == nil && ctl != nil {
			ctl.OnCandidate(p.From, p.ToInit())
		}

	case KindTargetUnavailable:
		var p TargetUnavailableMsg
		if err := json.Unmarshal(data, &p); err == nil && ctl != nil {
			ctl.OnTargetUnavailable(p.Target)
		}

	case KindEndCall:
		if ctl != nil {
			ctl.OnEndCall()
		}

	case KindIncomingCall:
		var p IncomingCallMsg
		if err := json.Unmarshal(data, &p); err == nil && c.OnIncomingCall != nil {
			c.OnIncomingCall(p.CallType, p.Initiator)
		}

	case KindWhoAmI:
		var p WhoAmIMsg
		if err := json.Unmarshal(data, &p); err == nil {
			c.self.Username = p.Username
		}

	case KindRoomState:
		var p RoomStateMsg
		if err := json.Unmarshal(data, &p); err == nil {
			log.Info().Str("module", "signal.client").Str("room", string(p.Room)).Int("count", p.Count).Msg("joined room")
		}

	case KindMemberJoined, KindMemberLeft, KindMemberUpdated, KindChat, KindTyping, KindLeft, KindPong:
		log.Debug().Str("module", "signal.client").Str("type", env.Type).Msg("chat event")

	case KindError:
		var p ErrorMsg
		_ = json.Unmarshal(data, &p)
		log.Warn().Str("module", "signal.client").Str("error", p.Error).Msg("server error")

	default:
		log.Warn().Str("module", "signal.client").Str("type", env.Type).Msg("unknown signal")
	}
}
