package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	mu         sync.Mutex
	started    bool
	closed     bool
	tracks     int
	candidates []webrtc.ICECandidateInit
	remoteDesc *webrtc.SessionDescription

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)
	onClosed func()
}

func (m *fakeMedia) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *fakeMedia) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *fakeMedia) AddICECandidate(ci webrtc.ICECandidateInit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, ci)
	return nil
}

func (m *fakeMedia) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "local-offer"}, nil
}

func (m *fakeMedia) ApplyAnswer(sd webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remoteDesc = &sd
	return nil
}

func (m *fakeMedia) ApplyOfferAndCreateAnswer(sd webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	m.mu.Lock()
	m.remoteDesc = &sd
	m.mu.Unlock()
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "local-answer"}, nil
}

func (m *fakeMedia) OnICECandidate(fn func(webrtc.ICECandidateInit)) { m.onICE = fn }

func (m *fakeMedia) OnTrack(fn func(context.Context, *webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	m.onTrack = fn
}

func (m *fakeMedia) OnClosed(fn func()) { m.onClosed = fn }

func (m *fakeMedia) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks++
	return nil, nil
}

func (m *fakeMedia) appliedCandidates() []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(m.candidates))
	copy(out, m.candidates)
	return out
}

type sentSDP struct {
	target domain.UserID
	sdp    string
}

type fakeSender struct {
	mu         sync.Mutex
	offers     []sentSDP
	answers    []sentSDP
	candidates []domain.UserID
}

func (s *fakeSender) SendOffer(target domain.UserID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers = append(s.offers, sentSDP{target, sdp})
	return nil
}

func (s *fakeSender) SendAnswer(target domain.UserID, sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, sentSDP{target, sdp})
	return nil
}

func (s *fakeSender) SendCandidate(target domain.UserID, ci webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, target)
	return nil
}

func (s *fakeSender) sentOffers() []sentSDP {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentSDP, len(s.offers))
	copy(out, s.offers)
	return out
}

func (s *fakeSender) sentAnswers() []sentSDP {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentSDP, len(s.answers))
	copy(out, s.answers)
	return out
}

func TestInitiatorOf_GreaterIdentityInitiates(t *testing.T) {
	req := require.New(t)

	// Pairwise over identities 5, 2, 9: exactly one initiator per pair,
	// computed identically from both ends.
	req.Equal(domain.UserID("9"), InitiatorOf("5", "9"))
	req.Equal(domain.UserID("9"), InitiatorOf("9", "5"))
	req.Equal(domain.UserID("9"), InitiatorOf("2", "9"))
	req.Equal(domain.UserID("5"), InitiatorOf("5", "2"))
	req.Equal(domain.UserID("5"), InitiatorOf("2", "5"))
}

func TestPeer_InitiatorSendsOffer(t *testing.T) {
	req := require.New(t)
	mc := &fakeMedia{}
	out := &fakeSender{}
	p := NewPeer("9", "5", domain.CallAudio, mc, out, 0, nil)

	req.True(p.Initiator())
	req.NoError(p.Start(context.Background(), nil))

	offers := out.sentOffers()
	req.Len(offers, 1)
	req.Equal(domain.UserID("5"), offers[0].target)
	req.Equal("local-offer", offers[0].sdp)
	req.Equal(StateNegotiating, p.State())
}

func TestPeer_NonInitiatorAnswersOffer(t *testing.T) {
	req := require.New(t)
	mc := &fakeMedia{}
	out := &fakeSender{}
	p := NewPeer("2", "9", domain.CallAudio, mc, out, 0, nil)

	req.False(p.Initiator())
	req.NoError(p.Start(context.Background(), nil))
	req.Empty(out.sentOffers())
	req.Equal(StateConnecting, p.State())

	req.NoError(p.HandleOffer("remote-offer"))

	answers := out.sentAnswers()
	req.Len(answers, 1)
	req.Equal(domain.UserID("9"), answers[0].target)
	req.Equal("local-answer", answers[0].sdp)
	req.Equal(StateNegotiating, p.State())
}

func TestPeer_OfferOnInitiatorSideIsDropped(t *testing.T) {
	req := require.New(t)
	mc := &fakeMedia{}
	out := &fakeSender{}
	p := NewPeer("9", "5", domain.CallAudio, mc, out, 0, nil)
	req.NoError(p.Start(context.Background(), nil))

	req.NoError(p.HandleOffer("bogus-offer"))

	req.Empty(out.sentAnswers())
	req.NotEqual(StateClosed, p.State())
}

func TestPeer_CandidatesBufferedUntilOffer(t *testing.T) {
	req := require.New(t)
	mc := &fakeMedia{}
	p := NewPeer("2", "9", domain.CallAudio, mc, &fakeSender{}, 0, nil)
	req.NoError(p.Start(context.Background(), nil))

	// Candidates racing ahead of the offer are held, not applied, not lost.
	req.NoError(p.HandleCandidate(webrtc.ICECandidateInit{Candidate: "cand-1"}))
	req.NoError(p.HandleCandidate(webrtc.ICECandidateInit{Candidate: "cand-2"}))
	req.Empty(mc.appliedCandidates())

	req.NoError(p.HandleOffer("remote-offer"))

	applied := mc.appliedCandidates()
	req.Len(applied, 2)
	req.Equal("cand-1", applied[0].Candidate)
	req.Equal("cand-2", applied[1].Candidate)
}

func TestPeer_CandidatesBufferedUntilAnswer(t *testing.T) {
	req := require.New(t)
	mc := &fakeMedia{}
	p := NewPeer("9", "5", domain.CallAudio, mc, &fakeSender{}, 0, nil)
	req.NoError(p.Start(context.Background(), nil))

	req.NoError(p.HandleCandidate(webrtc.ICECandidateInit{Candidate: "early"}))
	req.Empty(mc.appliedCandidates())

	req.NoError(p.HandleAnswer("remote-answer"))

	applied := mc.appliedCandidates()
	req.Len(applied, 1)
	req.Equal("early", applied[0].Candidate)

	// Candidates after the answer apply immediately.
	req.NoError(p.HandleCandidate(webrtc.ICECandidateInit{Candidate: "late"}))
	req.Len(mc.appliedCandidates(), 2)
}

func TestPeer_StartAttachesLocalTracks(t *testing.T) {
	req := require.New(t)
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "test",
	)
	req.NoError(err)
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "test",
	)
	req.NoError(err)
	tracks := &Tracks{Audio: audio, Video: video}

	// Audio call: the video track stays detached even though capture has one.
	mc := &fakeMedia{}
	p := NewPeer("9", "5", domain.CallAudio, mc, &fakeSender{}, 0, nil)
	req.NoError(p.Start(context.Background(), tracks))
	req.Equal(1, mc.tracks)

	mc = &fakeMedia{}
	p = NewPeer("9", "5", domain.CallVideo, mc, &fakeSender{}, 0, nil)
	req.NoError(p.Start(context.Background(), tracks))
	req.Equal(2, mc.tracks)
}

func TestPeer_NegotiationTimeoutReaps(t *testing.T) {
	req := require.New(t)
	mc := &fakeMedia{}
	var mu sync.Mutex
	var reason error
	closed := make(chan struct{})
	p := NewPeer("9", "5", domain.CallAudio, mc, &fakeSender{}, 20*time.Millisecond,
		func(_ domain.UserID, err error) {
			mu.Lock()
			reason = err
			mu.Unlock()
			close(closed)
		})
	req.NoError(p.Start(context.Background(), nil))

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled negotiation was never reaped")
	}

	mu.Lock()
	defer mu.Unlock()
	req.ErrorIs(reason, ErrNegotiationTimeout)
	req.Equal(StateClosed, p.State())
	req.True(mc.IsClosed())
}

func TestPeer_CloseIdempotent(t *testing.T) {
	req := require.New(t)
	mc := &fakeMedia{}
	var calls int
	p := NewPeer("9", "5", domain.CallAudio, mc, &fakeSender{}, 0,
		func(domain.UserID, error) { calls++ })
	req.NoError(p.Start(context.Background(), nil))

	p.Close(nil)
	p.Close(nil)

	req.Equal(1, calls)
	req.Equal(StateClosed, p.State())

	// A closed peer ignores late signaling.
	req.NoError(p.HandleAnswer("late-answer"))
	req.NoError(p.HandleCandidate(webrtc.ICECandidateInit{Candidate: "late"}))
	req.Empty(mc.appliedCandidates())
}
