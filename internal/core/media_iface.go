package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaConnection is the opaque peer-to-peer media capability the call layer
// drives: session description exchange plus trickle candidates. It never
// touches the signaling transport itself.
type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// CreateAndSetOffer produces the local offer (initiator side).
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	// ApplyAnswer consumes the remote answer (initiator side).
	ApplyAnswer(webrtc.SessionDescription) error
	// ApplyOfferAndCreateAnswer consumes a remote offer and produces the
	// local answer (responder side).
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}
