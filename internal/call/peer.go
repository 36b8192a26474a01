package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PeerState is the lifecycle of one pairwise media negotiation.
type PeerState int32

const (
	StateIdle PeerState = iota
	StateAwaitingMedia
	StateConnecting
	StateNegotiating
	StateConnected
	StateClosed
)

func (s PeerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingMedia:
		return "awaiting_media"
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var ErrNegotiationTimeout = errors.New("negotiation timed out")

// Sender delivers negotiation messages addressed to one remote identity.
type Sender interface {
	SendOffer(target domain.UserID, sdp string) error
	SendAnswer(target domain.UserID, sdp string) error
	SendCandidate(target domain.UserID, ci webrtc.ICECandidateInit) error
}

// InitiatorOf picks the offer side of a pair: the identity that compares
// greater under the total order. Both sides compute the same answer, so no
// election round-trip is needed and no pair ever produces two offers.
func InitiatorOf(a, b domain.UserID) domain.UserID {
	if a.Less(b) {
		return b
	}
	return a
}

// Peer drives one directed peer connection (local identity, remote identity)
// from "aware of each other" to "exchanging media" to "torn down". Peers are
// independent; they share nothing but the read-only local tracks.
type Peer struct {
	local  domain.UserID
	remote domain.UserID
	kind   domain.CallType
	mc     core.MediaConnection
	out    Sender

	negotiationTimeout time.Duration
	onClosed           func(remote domain.UserID, reason error)

	mu        sync.Mutex
	state     PeerState
	remoteSet bool
	pending   []webrtc.ICECandidateInit // candidates received before the remote description
	timer     *time.Timer
}

func NewPeer(local, remote domain.UserID, kind domain.CallType, mc core.MediaConnection, out Sender,
	negotiationTimeout time.Duration, onClosed func(domain.UserID, error)) *Peer {
	p := &Peer{
		local:              local,
		remote:             remote,
		kind:               kind,
		mc:                 mc,
		out:                out,
		negotiationTimeout: negotiationTimeout,
		onClosed:           onClosed,
		state:              StateIdle,
	}

	mc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if err := out.SendCandidate(remote, ci); err != nil {
			log.Warn().Err(err).Str("module", "call.peer").Str("remote", string(remote)).Msg("send candidate failed")
		}
	})
	mc.OnTrack(func(_ context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if !p.kind.WantsVideo() && track.Kind() == webrtc.RTPCodecTypeVideo {
			// Audio-only call: a stray video track is discarded, not rendered.
			log.Info().Str("module", "call.peer").Str("remote", string(remote)).Msg("discarding video track in audio call")
			return
		}
		p.markConnected(track.Kind().String())
	})
	mc.OnClosed(func() { p.Close(nil) })

	return p
}

// Initiator reports whether the local side produces the offer for this pair.
func (p *Peer) Initiator() bool {
	return InitiatorOf(p.local, p.remote) == p.local
}

func (p *Peer) Remote() domain.UserID { return p.remote }

func (p *Peer) State() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start attaches the shared local tracks and, on the initiator side,
// produces the offer. The non-initiator stays in Connecting until the
// remote offer arrives.
func (p *Peer) Start(ctx context.Context, tracks *Tracks) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return nil
	}
	p.state = StateAwaitingMedia
	p.mu.Unlock()

	if err := p.mc.Start(ctx); err != nil {
		p.Close(err)
		return err
	}
	if tracks != nil && tracks.Audio != nil {
		if _, err := p.mc.AddLocalTrack(tracks.Audio); err != nil {
			p.Close(err)
			return err
		}
	}
	if p.kind.WantsVideo() && tracks != nil && tracks.Video != nil {
		if _, err := p.mc.AddLocalTrack(tracks.Video); err != nil {
			p.Close(err)
			return err
		}
	}

	p.setState(StateConnecting)
	if !p.Initiator() {
		return nil
	}

	offer, err := p.mc.CreateAndSetOffer()
	if err != nil {
		p.Close(err)
		return err
	}
	if err := p.out.SendOffer(p.remote, offer.SDP); err != nil {
		p.Close(err)
		return err
	}
	p.enterNegotiating()
	log.Info().Str("module", "call.peer").Str("remote", string(p.remote)).Msg("offer sent")
	return nil
}

// HandleOffer consumes a remote offer and replies with an answer.
// Only the non-initiator ever does this; an offer arriving on the initiator
// side is a protocol violation and is dropped.
func (p *Peer) HandleOffer(sdp string) error {
	if p.Initiator() {
		log.Warn().Str("module", "call.peer").Str("remote", string(p.remote)).Msg("unexpected offer on initiator side, dropped")
		return nil
	}
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	answer, err := p.mc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
	if err != nil {
		p.Close(err)
		return err
	}
	p.remoteReady()
	if err := p.out.SendAnswer(p.remote, answer.SDP); err != nil {
		p.Close(err)
		return err
	}
	p.enterNegotiating()
	log.Info().Str("module", "call.peer").Str("remote", string(p.remote)).Msg("answer sent")
	return nil
}

// HandleAnswer consumes the remote answer on the initiator side.
func (p *Peer) HandleAnswer(sdp string) error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.mc.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		p.Close(err)
		return err
	}
	p.remoteReady()
	return nil
}

// HandleCandidate applies a trickled remote candidate. Candidates may arrive
// before the answer (or even before the offer is processed); until the
// remote description is set they are buffered, never lost.
func (p *Peer) HandleCandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	if !p.remoteSet {
		p.pending = append(p.pending, ci)
		p.mu.Unlock()
		log.Debug().Str("module", "call.peer").Str("remote", string(p.remote)).Msg("candidate buffered")
		return nil
	}
	p.mu.Unlock()

	if err := p.mc.AddICECandidate(ci); err != nil {
		p.Close(err)
		return err
	}
	return nil
}

// remoteReady marks the remote description applied and flushes buffered
// candidates in arrival order.
func (p *Peer) remoteReady() {
	p.mu.Lock()
	p.remoteSet = true
	queued := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, ci := range queued {
		if err := p.mc.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "call.peer").Str("remote", string(p.remote)).Msg("buffered candidate rejected")
		}
	}
	if len(queued) > 0 {
		log.Debug().Str("module", "call.peer").Str("remote", string(p.remote)).Int("count", len(queued)).Msg("buffered candidates applied")
	}
}

func (p *Peer) setState(s PeerState) {
	p.mu.Lock()
	if p.state != StateClosed {
		p.state = s
	}
	p.mu.Unlock()
}

// enterNegotiating arms the stall reaper: a negotiation that never reaches
// Connected is closed with ErrNegotiationTimeout instead of leaking.
func (p *Peer) enterNegotiating() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateNegotiating
	if p.negotiationTimeout > 0 && p.timer == nil {
		p.timer = time.AfterFunc(p.negotiationTimeout, func() {
			if p.State() == StateNegotiating {
				log.Warn().Str("module", "call.peer").Str("remote", string(p.remote)).Msg("negotiation stalled, reaping")
				p.Close(ErrNegotiationTimeout)
			}
		})
	}
	p.mu.Unlock()
}

// markConnected fires on the first inbound media track from the peer.
func (p *Peer) markConnected(kind string) {
	p.mu.Lock()
	if p.state == StateClosed || p.state == StateConnected {
		p.mu.Unlock()
		return
	}
	p.state = StateConnected
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()
	log.Info().Str("module", "call.peer").Str("remote", string(p.remote)).Str("track_kind", kind).Msg("peer connected")
}

// Close discards all outstanding negotiation state for this peer. The shared
// local tracks keep running; only the connection object is released.
// Idempotent, never blocks on the remote side.
func (p *Peer) Close(reason error) {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateClosed
	if p.timer != nil {
		p.timer.Stop()
	}
	p.pending = nil
	p.mu.Unlock()

	p.mc.Close()
	if reason != nil {
		log.Warn().Err(reason).Str("module", "call.peer").Str("remote", string(p.remote)).Msg("peer closed")
	} else {
		log.Info().Str("module", "call.peer").Str("remote", string(p.remote)).Msg("peer closed")
	}
	if p.onClosed != nil {
		p.onClosed(p.remote, reason)
	}
}
