package app

import (
	"testing"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/stretchr/testify/require"
)

func orchFixture() *Orchestrator {
	d := NewDirectory()
	calls := NewCallRooms()
	return &Orchestrator{
		Directory: d,
		Rooms:     NewRoomManager(),
		Calls:     calls,
		Relay:     NewRelay(d, calls),
		Policy:    SimplePolicy{},
	}
}

func connect(o *Orchestrator, token string, sid core.SessionID, room domain.RoomName) *domain.User {
	u := o.Directory.GetOrCreateUser(token)
	o.Directory.Register(sid, u, newSession(u, &fakeSignal{}), nil)
	o.Join(sid, room)
	return u
}

func TestOrchestrator_JoinCall_ReturnsPeersWithUsernames(t *testing.T) {
	req := require.New(t)
	o := orchFixture()
	a := connect(o, "tok-a", "sid-a", "lobby")
	req.NoError(o.Directory.UpdateUsername("tok-a", "alice"))
	connect(o, "tok-b", "sid-b", "lobby")

	_, _, err := o.JoinCall("sid-a", "lobby", domain.CallAudio)
	req.NoError(err)
	peers, kind, err := o.JoinCall("sid-b", "lobby", domain.CallVideo)

	req.NoError(err)
	req.Equal(domain.CallAudio, kind)
	req.Len(peers, 1)
	req.Equal(a.ID, peers[0].ID)
	req.Equal("alice", peers[0].Username)
}

func TestOrchestrator_JoinCall_FullRoom_NoSideEffects(t *testing.T) {
	req := require.New(t)
	o := orchFixture()
	sids := []core.SessionID{"sid-a", "sid-b", "sid-c", "sid-d"}
	for i, sid := range sids {
		connect(o, string(rune('a'+i))+"-tok", sid, "lobby")
	}

	for _, sid := range sids[:CallCapacity] {
		_, _, err := o.JoinCall(sid, "lobby", domain.CallAudio)
		req.NoError(err)
	}

	_, _, err := o.JoinCall("sid-d", "lobby", domain.CallAudio)
	req.ErrorIs(err, ErrRoomFull)

	// The rejected joiner keeps its chat membership untouched.
	req.Equal(CallCapacity, o.Calls.MemberCount("lobby"))
	room, _, ok := o.Directory.RoomOf("sid-d")
	req.True(ok)
	req.Equal(domain.RoomName("lobby"), room)
}

func TestOrchestrator_JoinCall_UnknownHandle(t *testing.T) {
	req := require.New(t)
	o := orchFixture()

	_, _, err := o.JoinCall("sid-ghost", "lobby", domain.CallAudio)
	req.ErrorIs(err, ErrTargetUnavailable)
}

func TestOrchestrator_LeaveCall_ReportsMembershipOnce(t *testing.T) {
	req := require.New(t)
	o := orchFixture()
	a := connect(o, "tok-a", "sid-a", "lobby")
	_, _, err := o.JoinCall("sid-a", "lobby", domain.CallAudio)
	req.NoError(err)

	room, user, was := o.LeaveCall("sid-a")
	req.True(was)
	req.Equal(domain.RoomName("lobby"), room)
	req.Equal(a.ID, user.ID)

	// Duplicate leave signals collapse to a no-op.
	_, _, was = o.LeaveCall("sid-a")
	req.False(was)
}

func TestOrchestrator_OnDisconnect_TearsDownEverything(t *testing.T) {
	req := require.New(t)
	o := orchFixture()
	a := connect(o, "tok-a", "sid-a", "lobby")
	connect(o, "tok-b", "sid-b", "lobby")
	_, _, err := o.JoinCall("sid-a", "lobby", domain.CallAudio)
	req.NoError(err)

	room, user, wasInCall := o.OnDisconnect("sid-a")

	req.True(wasInCall)
	req.Equal(domain.RoomName("lobby"), room)
	req.Equal(a.ID, user.ID)
	req.Zero(o.Calls.MemberCount("lobby"))
	_, ok := o.Directory.StateOf("sid-a")
	req.False(ok)
	req.Equal(1, o.Rooms.GetOrCreate("lobby").MemberCount())

	// Repeated disconnect is harmless.
	_, _, wasInCall = o.OnDisconnect("sid-a")
	req.False(wasInCall)
}

func TestOrchestrator_DisconnectReleasesExplicitRoomCall(t *testing.T) {
	req := require.New(t)
	o := orchFixture()
	connect(o, "tok-a", "sid-a", "lobby")

	// The call lives in a room other than the chat binding.
	_, _, err := o.JoinCall("sid-a", "workshop", domain.CallAudio)
	req.NoError(err)

	room, _, wasInCall := o.OnDisconnect("sid-a")

	req.True(wasInCall)
	req.Equal(domain.RoomName("workshop"), room)
	req.Zero(o.Calls.MemberCount("workshop"))
	_, ok := o.Calls.Kind("workshop")
	req.False(ok)
}

func TestOrchestrator_LeaveCall_UsesCallBindingNotChatRoom(t *testing.T) {
	req := require.New(t)
	o := orchFixture()
	a := connect(o, "tok-a", "sid-a", "lobby")
	_, _, err := o.JoinCall("sid-a", "workshop", domain.CallAudio)
	req.NoError(err)

	room, user, was := o.LeaveCall("sid-a")

	req.True(was)
	req.Equal(domain.RoomName("workshop"), room)
	req.Equal(a.ID, user.ID)
	req.Zero(o.Calls.MemberCount("workshop"))

	st, ok := o.Directory.StateOf("sid-a")
	req.True(ok)
	req.Empty(st.CallRoom)
}

func TestOrchestrator_JoinCall_SwitchingCallsReleasesOldSlot(t *testing.T) {
	req := require.New(t)
	o := orchFixture()
	connect(o, "tok-a", "sid-a", "lobby")

	_, _, err := o.JoinCall("sid-a", "alpha", domain.CallAudio)
	req.NoError(err)
	_, _, err = o.JoinCall("sid-a", "beta", domain.CallAudio)
	req.NoError(err)

	req.Zero(o.Calls.MemberCount("alpha"))
	req.Equal(1, o.Calls.MemberCount("beta"))
	st, ok := o.Directory.StateOf("sid-a")
	req.True(ok)
	req.Equal(domain.RoomName("beta"), st.CallRoom)
}

func TestOrchestrator_EndCall_RequiresMembership(t *testing.T) {
	req := require.New(t)
	o := orchFixture()
	connect(o, "tok-a", "sid-a", "lobby")
	connect(o, "tok-b", "sid-b", "lobby")
	_, _, err := o.JoinCall("sid-a", "lobby", domain.CallAudio)
	req.NoError(err)

	// A chat member that never joined the call cannot end it.
	_, err = o.EndCall("sid-b", "lobby")
	req.ErrorIs(err, ErrNotInCall)
	req.Equal(1, o.Calls.MemberCount("lobby"))

	// Idle connections cannot end a call by naming a room either.
	_, err = o.EndCall("sid-b", "")
	req.ErrorIs(err, ErrNotInCall)

	room, err := o.EndCall("sid-a", "")
	req.NoError(err)
	req.Equal(domain.RoomName("lobby"), room)
}

func TestOrchestrator_EvictCall_ClearsMemberBindings(t *testing.T) {
	req := require.New(t)
	o := orchFixture()
	connect(o, "tok-a", "sid-a", "lobby")
	connect(o, "tok-b", "sid-b", "lobby")
	_, _, err := o.JoinCall("sid-a", "lobby", domain.CallAudio)
	req.NoError(err)
	_, _, err = o.JoinCall("sid-b", "lobby", domain.CallAudio)
	req.NoError(err)

	evicted := o.EvictCall("lobby")

	req.Len(evicted, 2)
	req.Zero(o.Calls.MemberCount("lobby"))
	for _, sid := range []core.SessionID{"sid-a", "sid-b"} {
		st, ok := o.Directory.StateOf(sid)
		req.True(ok)
		req.Empty(st.CallRoom)
	}

	// A stale binding must not shadow a later admission.
	_, _, err = o.JoinCall("sid-a", "lobby", domain.CallVideo)
	req.NoError(err)
	req.Equal(1, o.Calls.MemberCount("lobby"))
}

func TestOrchestrator_Join_SwitchingRoomsLeavesOldCall(t *testing.T) {
	req := require.New(t)
	o := orchFixture()
	connect(o, "tok-a", "sid-a", "alpha")
	_, _, err := o.JoinCall("sid-a", "alpha", domain.CallAudio)
	req.NoError(err)

	o.Join("sid-a", "beta")

	req.Zero(o.Calls.MemberCount("alpha"))
	room, _, ok := o.Directory.RoomOf("sid-a")
	req.True(ok)
	req.Equal(domain.RoomName("beta"), room)
}
