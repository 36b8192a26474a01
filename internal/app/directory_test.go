package app

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (c *fakeSignal) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeSignal) Close() {}

func (c *fakeSignal) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func newSession(u *domain.User, conn core.SignalConnection) core.MemberSession {
	return core.NewMemberSession(domain.NewMember(u)).UpdateSignal(conn)
}

func TestDirectory_RegisterAndResolve(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()
	u := d.GetOrCreateUser("tok-a")
	conn := &fakeSignal{}

	d.Register("sid-1", u, newSession(u, conn), nil)

	sess, ok := d.Resolve(u.ID)
	req.True(ok)
	req.Same(conn, sess.Signal().(*fakeSignal))
}

func TestDirectory_Reconnect_SupersedesOldHandle(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()
	u := d.GetOrCreateUser("tok-a")
	oldConn := &fakeSignal{}
	newConn := &fakeSignal{}
	canceled := false

	// Given a live handle for the identity
	d.Register("sid-old", u, newSession(u, oldConn), func() { canceled = true })

	// When the same identity connects again
	d.Register("sid-new", u, newSession(u, newConn), nil)

	// Then the identity maps to the new handle and the old one is canceled
	sess, ok := d.Resolve(u.ID)
	req.True(ok)
	req.Same(newConn, sess.Signal().(*fakeSignal))
	req.True(canceled)
	_, ok = d.StateOf("sid-old")
	req.False(ok)
}

func TestDirectory_Remove_StaleHandle_NeverUnmapsSuperseder(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()
	u := d.GetOrCreateUser("tok-a")

	d.Register("sid-old", u, newSession(u, &fakeSignal{}), nil)
	d.Register("sid-new", u, newSession(u, &fakeSignal{}), nil)

	// A late disconnect of the superseded handle must not unmap the identity.
	d.Remove("sid-old")

	_, ok := d.Resolve(u.ID)
	req.True(ok)

	d.Remove("sid-new")
	_, ok = d.Resolve(u.ID)
	req.False(ok)
}

func TestDirectory_Remove_Idempotent(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()
	u := d.GetOrCreateUser("tok-a")
	d.Register("sid-1", u, newSession(u, &fakeSignal{}), nil)

	d.Remove("sid-1")
	d.Remove("sid-1")

	_, ok := d.StateOf("sid-1")
	req.False(ok)
}

func TestDirectory_GetOrCreateUser_StableIdentity(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()

	u1 := d.GetOrCreateUser("tok-a")
	u2 := d.GetOrCreateUser("tok-a")
	other := d.GetOrCreateUser("tok-b")

	req.Same(u1, u2)
	req.NotEqual(u1.ID, other.ID)
}

func TestDirectory_UpdateUsername(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()
	u := d.GetOrCreateUser("tok-a")

	req.NoError(d.UpdateUsername("tok-a", "alice"))
	req.Equal("alice", u.Username)

	req.Error(d.UpdateUsername("tok-a", ""))
	req.Error(d.UpdateUsername("unknown-token", "bob"))
}

func TestDirectory_RoomTracking(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()
	u := d.GetOrCreateUser("tok-a")
	d.Register("sid-1", u, newSession(u, &fakeSignal{}), nil)

	req.True(d.UpdateRoom("sid-1", "lobby"))
	room, _, ok := d.RoomOf("sid-1")
	req.True(ok)
	req.Equal(domain.RoomName("lobby"), room)

	members := d.MembersOfRoom("lobby")
	req.Len(members, 1)
	req.Equal(core.SessionID("sid-1"), members[0].SID)

	d.ClearRoom("sid-1")
	_, _, ok = d.RoomOf("sid-1")
	req.False(ok)
}
