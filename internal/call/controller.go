package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ErrRoomFull is the client-side view of a rejected admission.
var ErrRoomFull = errors.New("room full")

// Uplink is the signaling path from this participant to the relay server.
type Uplink interface {
	Sender
	JoinCall(room domain.RoomName, kind domain.CallType) error
	LeaveCall(room domain.RoomName) error
	EndCall(room domain.RoomName) error
}

// MediaFactory builds one media connection per remote peer.
type MediaFactory func() (core.MediaConnection, error)

// Config wires a Controller. NegotiationTimeout bounds how long a pair may
// stay in Negotiating before being reaped; zero disables the reaper.
type Config struct {
	Self               *domain.User
	Room               domain.RoomName
	Kind               domain.CallType
	Uplink             Uplink
	Capture            Capturer
	NewMedia           MediaFactory
	NegotiationTimeout time.Duration
}

// Controller coordinates one participant's call membership: shared local
// capture, one Peer per remote identity, and teardown. Signaling events are
// fed in by the adapter's read loop; every handler is safe for concurrent
// use with Leave.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	kind   domain.CallType
	tracks *Tracks
	peers  map[domain.UserID]*Peer
	ended  bool
	err    error
	done   chan struct{}
}

func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:   cfg,
		kind:  cfg.Kind,
		peers: make(map[domain.UserID]*Peer),
		done:  make(chan struct{}),
	}
}

// Join acquires local media (degrading to audio-only at most once) and asks
// the relay for admission. Peers are only built once the call-state reply
// enumerates who is already present.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return c.err
	}
	if c.tracks != nil {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	tracks, kind, err := AcquireMedia(ctx, c.cfg.Capture, c.cfg.Kind)
	if err != nil {
		c.teardown(err, false)
		return err
	}

	c.mu.Lock()
	c.tracks = tracks
	c.kind = kind
	c.mu.Unlock()

	if err := c.cfg.Uplink.JoinCall(c.cfg.Room, kind); err != nil {
		c.teardown(err, false)
		return err
	}
	log.Info().Str("module", "call.ctl").Str("room", string(c.cfg.Room)).Str("call_type", string(kind)).Msg("join requested")
	return nil
}

// OnCallState handles the admission reply: the room's effective call type
// and the peers already in the call, one orchestrated connection each.
func (c *Controller) OnCallState(kind domain.CallType, peers []domain.User) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.kind = kind
	c.mu.Unlock()

	for _, u := range peers {
		c.ensurePeer(u.ID)
	}
	log.Info().Str("module", "call.ctl").Int("peers", len(peers)).Str("call_type", string(kind)).Msg("call state applied")
}

// OnRoomFull is the rejected-admission path: no peers were or will be
// created, capture is released, the error is surfaced to the caller.
func (c *Controller) OnRoomFull(reason string) {
	c.teardown(fmt.Errorf("%w: %s", ErrRoomFull, reason), false)
}

// OnParticipantJoined reacts to a peer arriving after us.
func (c *Controller) OnParticipantJoined(u domain.User) {
	if u.ID == c.cfg.Self.ID {
		return
	}
	c.ensurePeer(u.ID)
}

// OnParticipantLeft closes exactly the orchestrator for that identity;
// sibling connections are untouched.
func (c *Controller) OnParticipantLeft(id domain.UserID) {
	c.mu.Lock()
	p, ok := c.peers[id]
	c.mu.Unlock()
	if ok {
		p.Close(nil)
	}
}

// OnTargetUnavailable handles a peer that vanished mid-negotiation.
// Non-fatal: only that pair closes, the call continues.
func (c *Controller) OnTargetUnavailable(id domain.UserID) {
	log.Warn().Str("module", "call.ctl").Str("remote", string(id)).Msg("target unavailable")
	c.OnParticipantLeft(id)
}

func (c *Controller) OnOffer(from domain.UserID, sdp string) {
	if p := c.ensurePeer(from); p != nil {
		if err := p.HandleOffer(sdp); err != nil {
			log.Error().Err(err).Str("module", "call.ctl").Str("remote", string(from)).Msg("offer rejected")
		}
	}
}

func (c *Controller) OnAnswer(from domain.UserID, sdp string) {
	c.mu.Lock()
	p, ok := c.peers[from]
	c.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "call.ctl").Str("remote", string(from)).Msg("answer for unknown peer, dropped")
		return
	}
	if err := p.HandleAnswer(sdp); err != nil {
		log.Error().Err(err).Str("module", "call.ctl").Str("remote", string(from)).Msg("answer rejected")
	}
}

func (c *Controller) OnCandidate(from domain.UserID, ci webrtc.ICECandidateInit) {
	if p := c.ensurePeer(from); p != nil {
		if err := p.HandleCandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "call.ctl").Str("remote", string(from)).Msg("candidate rejected")
		}
	}
}

// OnEndCall tears everything down after a remote end-call broadcast.
func (c *Controller) OnEndCall() {
	c.teardown(nil, false)
}

// Leave ends this participant's call: closes every orchestrator, releases
// capture and tells the relay. Idempotent, and never waits for any remote
// acknowledgment.
func (c *Controller) Leave() {
	c.teardown(nil, true)
}

// End terminates the call for everyone in the room.
func (c *Controller) End() {
	c.mu.Lock()
	ended := c.ended
	c.mu.Unlock()
	if !ended {
		if err := c.cfg.Uplink.EndCall(c.cfg.Room); err != nil {
			log.Warn().Err(err).Str("module", "call.ctl").Msg("end-call send failed")
		}
	}
	c.teardown(nil, false)
}

// Done closes when the call has fully torn down; Err reports why, nil for a
// normal leave.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Peers returns a snapshot of the live orchestrators, for tests and status.
func (c *Controller) Peers() map[domain.UserID]PeerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.UserID]PeerState, len(c.peers))
	for id, p := range c.peers {
		out[id] = p.State()
	}
	return out
}

// ensurePeer builds and starts the orchestrator for a remote identity if it
// does not exist yet. Negotiation messages may race ahead of the
// participant-joined event, so every inbound path goes through here.
func (c *Controller) ensurePeer(id domain.UserID) *Peer {
	c.mu.Lock()
	if c.ended || id == c.cfg.Self.ID {
		c.mu.Unlock()
		return nil
	}
	if p, ok := c.peers[id]; ok {
		c.mu.Unlock()
		return p
	}
	mc, err := c.cfg.NewMedia()
	if err != nil {
		c.mu.Unlock()
		log.Error().Err(err).Str("module", "call.ctl").Str("remote", string(id)).Msg("media connection create failed")
		return nil
	}
	p := NewPeer(c.cfg.Self.ID, id, c.kind, mc, c.cfg.Uplink, c.cfg.NegotiationTimeout, c.peerClosed)
	c.peers[id] = p
	ctx := c.ctx
	tracks := c.tracks
	c.mu.Unlock()

	if err := p.Start(ctx, tracks); err != nil {
		log.Error().Err(err).Str("module", "call.ctl").Str("remote", string(id)).Msg("peer start failed")
	}
	return p
}

func (c *Controller) peerClosed(remote domain.UserID, reason error) {
	c.mu.Lock()
	delete(c.peers, remote)
	remaining := len(c.peers)
	c.mu.Unlock()
	if reason != nil {
		log.Warn().Err(reason).Str("module", "call.ctl").Str("remote", string(remote)).Int("remaining", remaining).Msg("peer torn down")
	}
}

// teardown closes all orchestrators, releases capture and (optionally)
// notifies the relay. It always completes locally, whatever the network is
// doing.
func (c *Controller) teardown(reason error, notifyLeave bool) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.err = reason
	peers := make([]*Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.peers = make(map[domain.UserID]*Peer)
	tracks := c.tracks
	c.tracks = nil
	cancel := c.cancel
	c.mu.Unlock()

	for _, p := range peers {
		p.Close(nil)
	}
	// Last peer connection is gone: release the capture devices.
	tracks.Release()
	if cancel != nil {
		cancel()
	}
	if notifyLeave {
		if err := c.cfg.Uplink.LeaveCall(c.cfg.Room); err != nil {
			log.Warn().Err(err).Str("module", "call.ctl").Msg("leave-call send failed")
		}
	}
	close(c.done)
	log.Info().Str("module", "call.ctl").Str("room", string(c.cfg.Room)).Msg("call torn down")
}
