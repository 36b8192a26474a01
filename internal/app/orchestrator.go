package app

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the server-side glue: chat membership, call admission and
// frame fan-out. The client-side per-peer negotiation machines live in the
// call package; this side only admits, routes and notifies.
type Orchestrator struct {
	Directory *Directory
	Rooms     core.RoomFactory
	Calls     *CallRooms
	Relay     *Relay
	Policy    Policy
}

// Join puts a connection's identity into a chat room, leaving any prior one.
func (o *Orchestrator) Join(sid core.SessionID, roomName domain.RoomName) {
	prev, _, ok := o.Directory.RoomOf(sid)
	if ok {
		o.KickBySID(sid)
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("from_room", string(prev)).Msg("kicked from room")
	}
	if st, ok := o.Directory.StateOf(sid); ok {
		room := o.Rooms.GetOrCreate(roomName)
		room.AddMember(sid, st.Session)
		o.Directory.UpdateRoom(sid, roomName)
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(roomName)).Msg("added to room")
	}
}

// OnFrame broadcasts a chat frame to the sender's room and applies the
// backpressure policy to members whose buffers are full.
func (o *Orchestrator) OnFrame(sid core.SessionID, data core.Frame) {
	roomName, _, ok := o.Directory.RoomOf(sid)
	if !ok {
		return
	}
	room := o.Rooms.GetOrCreate(roomName)

	res := room.Broadcast(sid, data)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case KickMember:
			for _, snap := range o.Directory.MembersOfRoom(roomName) {
				if snap.Session == slow {
					o.KickBySID(snap.SID)
				}
			}
		case MarkSlow, DropFrame, NoAction:
		}
	}
}

// KickBySID removes a connection from its chat room and from any call.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.LeaveCall(sid)
	roomName, _, ok := o.Directory.RoomOf(sid)
	if !ok {
		return
	}
	room := o.Rooms.GetOrCreate(roomName)
	room.RemoveMember(sid)
	o.Directory.ClearRoom(sid)
}

// JoinCall runs admission control for a connection's identity. On success it
// returns the already-present peers (as read-only views) and the call type
// in effect; a full room is reported with ErrRoomFull and has no side
// effects anywhere. An identity is in at most one call: admission into a
// different room releases the old slot first.
func (o *Orchestrator) JoinCall(sid core.SessionID, roomName domain.RoomName, kind domain.CallType) ([]core.MemberDTO, domain.CallType, error) {
	st, ok := o.Directory.StateOf(sid)
	if !ok {
		return nil, "", ErrTargetUnavailable
	}
	if st.CallRoom != "" && st.CallRoom != roomName {
		o.Calls.Leave(st.CallRoom, st.User.ID)
		o.Directory.ClearCallRoom(sid)
	}
	peerIDs, kind, err := o.Calls.Join(roomName, st.User.ID, kind)
	if err != nil {
		return nil, "", err
	}
	o.Directory.UpdateCallRoom(sid, roomName)
	peers := make([]core.MemberDTO, 0, len(peerIDs))
	for _, id := range peerIDs {
		dto := core.MemberDTO{ID: id, Username: "guest"}
		if u, ok := o.Directory.UserOf(id); ok {
			dto.Username = u.Username
		}
		peers = append(peers, dto)
	}
	return peers, kind, nil
}

// LeaveCall removes a connection's identity from the call it was admitted
// to, wherever that call lives; the chat room binding is not consulted.
// Idempotent under duplicate disconnect signals. It reports the room and
// identity so the adapter can broadcast participant-left exactly once.
func (o *Orchestrator) LeaveCall(sid core.SessionID) (domain.RoomName, *domain.User, bool) {
	st, ok := o.Directory.StateOf(sid)
	if !ok || st.CallRoom == "" {
		return "", nil, false
	}
	was := o.Calls.Leave(st.CallRoom, st.User.ID)
	o.Directory.ClearCallRoom(sid)
	return st.CallRoom, st.User, was
}

// EndCall validates a request to terminate a room's call. Only a current
// member of that call may end it; an empty room resolves to the sender's
// own call. The caller broadcasts to the members and then runs EvictCall.
func (o *Orchestrator) EndCall(sid core.SessionID, roomName domain.RoomName) (domain.RoomName, error) {
	st, ok := o.Directory.StateOf(sid)
	if !ok {
		return "", ErrTargetUnavailable
	}
	if roomName == "" {
		roomName = st.CallRoom
	}
	if roomName == "" || st.CallRoom != roomName {
		return "", ErrNotInCall
	}
	return roomName, nil
}

// EvictCall releases a room's whole call and drops the members' call
// bindings so a stale binding never shadows a later admission.
func (o *Orchestrator) EvictCall(roomName domain.RoomName) []domain.UserID {
	evicted := o.Calls.Evict(roomName)
	for _, id := range evicted {
		o.Directory.ClearCallRoomByUser(id)
	}
	return evicted
}

// OnDisconnect tears down everything bound to a handle: call membership,
// chat membership and the directory mapping. Safe to call more than once.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) (domain.RoomName, *domain.User, bool) {
	room, user, wasInCall := o.LeaveCall(sid)
	if roomName, _, ok := o.Directory.RoomOf(sid); ok {
		o.Rooms.GetOrCreate(roomName).RemoveMember(sid)
	}
	o.Directory.Remove(sid)
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Msg("disconnected")
	return room, user, wasInCall
}

// EvictRoom force-removes every connection of a chat room.
func (o *Orchestrator) EvictRoom(name domain.RoomName) {
	for _, snap := range o.Directory.MembersOfRoom(name) {
		o.KickBySID(snap.SID)
	}
	o.Rooms.StopRoom(name)
}
