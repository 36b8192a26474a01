package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleJoinCall runs admission for the sender's identity. A full call is
// answered with room-full and leaves no trace; an admitted joiner gets the
// call-state snapshot and everyone already present gets participant-joined.
func (ctl *SignalWSController) handleJoinCall(
	cc *connCtx,
	conn *WsSignalConn,
	data []byte,
) {
	var p JoinCallMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join-call payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	kind, err := domain.ParseCallType(p.CallType)
	if err != nil {
		ctl.sendError(conn, "unknown call type")
		return
	}

	st, ok := ctl.Orch.Directory.StateOf(cc.sid)
	if !ok {
		return
	}
	roomName := domain.RoomName(p.Room)
	if roomName == "" {
		roomName = st.Room
	}
	if roomName == "" {
		ctl.sendError(conn, "not in a room")
		return
	}
	if !ctl.joinLimiter.Allow(st.User.ID) {
		ctl.sendError(conn, "too many join attempts")
		return
	}
	// Moving to another room's call: tell the old call's members first.
	if st.CallRoom != "" && st.CallRoom != roomName {
		ctl.leaveCallAndNotify(cc)
	}

	peers, kind, err := ctl.Orch.JoinCall(cc.sid, roomName, kind)
	if errors.Is(err, app.ErrRoomFull) {
		ctl.sendJSON(conn, RoomFullMsg{
			Type:   KindRoomFull,
			Reason: "call is full",
		})
		return
	}
	if err != nil {
		ctl.sendError(conn, "join-call failed")
		return
	}

	ctl.sendJSON(conn, CallStateMsg{
		Type:     KindCallState,
		Room:     roomName,
		CallType: kind,
		Peers:    peers,
		Count:    len(peers) + 1,
	})

	b, _ := json.Marshal(ParticipantMsg{Type: KindParticipantJoined, User: *st.User})
	ctl.Orch.Relay.BroadcastCall(roomName, st.User.ID, b)
}

func (ctl *SignalWSController) handleLeaveCall(cc *connCtx, data []byte) {
	var p LeaveCallMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad leave-call payload")
		return
	}
	// A room named explicitly must be the call the sender is actually in;
	// anything else is a stale or bogus leave and does nothing.
	if p.Room != "" {
		st, ok := ctl.Orch.Directory.StateOf(cc.sid)
		if !ok || st.CallRoom != domain.RoomName(p.Room) {
			return
		}
	}
	ctl.leaveCallAndNotify(cc)
}

// leaveCallAndNotify removes the sender's identity from its room's call and,
// if it actually was a member, broadcasts participant-left to the remaining
// call members exactly once. Safe under duplicate leave signals.
func (ctl *SignalWSController) leaveCallAndNotify(cc *connCtx) {
	roomName, user, was := ctl.Orch.LeaveCall(cc.sid)
	if !was || user == nil {
		return
	}
	b, _ := json.Marshal(ParticipantMsg{Type: KindParticipantLeft, User: *user})
	ctl.Orch.Relay.BroadcastCall(roomName, user.ID, b)
}

// handleEndCall terminates the whole call: every other member gets the
// end-call broadcast, then the call room state is released. Only a current
// member of the call may end it.
func (ctl *SignalWSController) handleEndCall(
	cc *connCtx,
	conn *WsSignalConn,
	data []byte,
) {
	var p EndCallMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad end-call payload")
		return
	}
	roomName, err := ctl.Orch.EndCall(cc.sid, domain.RoomName(p.Room))
	if errors.Is(err, app.ErrNotInCall) {
		ctl.sendError(conn, "not in this call")
		return
	}
	if err != nil {
		return
	}
	st, ok := ctl.Orch.Directory.StateOf(cc.sid)
	if !ok {
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(cc.sid)).Str("room", string(roomName)).Msg("end-call")
	b, _ := json.Marshal(EndCallMsg{Type: KindEndCall, Room: string(roomName)})
	ctl.Orch.Relay.BroadcastCall(roomName, st.User.ID, b)
	ctl.Orch.EvictCall(roomName)
}

// handleStartCall announces a call to the sender's chat room so idle members
// can ring. It does not touch call membership; joining is a separate step.
func (ctl *SignalWSController) handleStartCall(
	cc *connCtx,
	conn *WsSignalConn,
	data []byte,
) {
	var p StartCallMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad start-call payload")
		return
	}
	kind, err := domain.ParseCallType(string(p.CallType))
	if err != nil {
		ctl.sendError(conn, "unknown call type")
		return
	}
	user := ctl.Orch.Directory.GetOrCreateUser(cc.token)
	ctl.BroadcastChat(cc.sid, IncomingCallMsg{
		Type:      KindIncomingCall,
		CallType:  kind,
		Initiator: *user,
	})
}
