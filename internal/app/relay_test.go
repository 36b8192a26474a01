package app

import (
	"testing"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/stretchr/testify/require"
)

func relayFixture(t *testing.T) (*Relay, *Directory, *CallRooms) {
	t.Helper()
	d := NewDirectory()
	calls := NewCallRooms()
	return NewRelay(d, calls), d, calls
}

func registerConn(d *Directory, token string, sid core.SessionID) (*domain.User, *fakeSignal) {
	u := d.GetOrCreateUser(token)
	conn := &fakeSignal{}
	d.Register(sid, u, newSession(u, conn), nil)
	return u, conn
}

func TestRelay_Route_DeliversInOrder(t *testing.T) {
	req := require.New(t)
	r, d, _ := relayFixture(t)
	u, conn := registerConn(d, "tok-a", "sid-a")

	req.NoError(r.Route(u.ID, core.Frame("one")))
	req.NoError(r.Route(u.ID, core.Frame("two")))
	req.NoError(r.Route(u.ID, core.Frame("three")))

	frames := conn.Frames()
	req.Len(frames, 3)
	req.Equal(core.Frame("one"), frames[0])
	req.Equal(core.Frame("two"), frames[1])
	req.Equal(core.Frame("three"), frames[2])
}

func TestRelay_Route_UnknownTarget(t *testing.T) {
	req := require.New(t)
	r, _, _ := relayFixture(t)

	err := r.Route("nobody", core.Frame("hello"))
	req.ErrorIs(err, ErrTargetUnavailable)
}

func TestRelay_Route_BackpressuredTarget(t *testing.T) {
	req := require.New(t)
	r, d, _ := relayFixture(t)
	u, conn := registerConn(d, "tok-a", "sid-a")
	conn.full = true

	// A full send buffer reads as unavailable, never as a silent drop.
	err := r.Route(u.ID, core.Frame("hello"))
	req.ErrorIs(err, ErrTargetUnavailable)
}

func TestRelay_Route_DisconnectedTarget(t *testing.T) {
	req := require.New(t)
	r, d, _ := relayFixture(t)
	u, _ := registerConn(d, "tok-a", "sid-a")
	d.Remove("sid-a")

	err := r.Route(u.ID, core.Frame("hello"))
	req.ErrorIs(err, ErrTargetUnavailable)
}

func TestRelay_BroadcastCall_ExcludesSender(t *testing.T) {
	req := require.New(t)
	r, d, calls := relayFixture(t)
	a, connA := registerConn(d, "tok-a", "sid-a")
	b, connB := registerConn(d, "tok-b", "sid-b")
	c, connC := registerConn(d, "tok-c", "sid-c")

	for _, u := range []*domain.User{a, b, c} {
		_, _, err := calls.Join("lobby", u.ID, domain.CallAudio)
		req.NoError(err)
	}

	sent := r.BroadcastCall("lobby", a.ID, core.Frame("event"))

	req.Equal(2, sent)
	req.Empty(connA.Frames())
	req.Len(connB.Frames(), 1)
	req.Len(connC.Frames(), 1)
}

func TestRelay_BroadcastCall_SkipsUnresolvableMembers(t *testing.T) {
	req := require.New(t)
	r, d, calls := relayFixture(t)
	a, _ := registerConn(d, "tok-a", "sid-a")
	b, connB := registerConn(d, "tok-b", "sid-b")

	_, _, err := calls.Join("lobby", a.ID, domain.CallAudio)
	req.NoError(err)
	_, _, err = calls.Join("lobby", b.ID, domain.CallAudio)
	req.NoError(err)
	// A member whose connection died stays in the call until leave; a
	// broadcast must still reach everyone else.
	_, _, err = calls.Join("lobby", "ghost", domain.CallAudio)
	req.NoError(err)

	sent := r.BroadcastCall("lobby", a.ID, core.Frame("event"))

	req.Equal(1, sent)
	req.Len(connB.Frames(), 1)
}
