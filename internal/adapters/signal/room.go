package signal

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	cc *connCtx,
	conn *WsSignalConn,
	data []byte,
) {
	var p JoinMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	raw := p.Room
	if raw == "" {
		ctl.sendError(conn, "empty room name")
		return
	}
	if len(raw) > domain.MaxRoomNameLen {
		raw = raw[:domain.MaxRoomNameLen]
	}
	name := domain.RoomName(raw)

	if p.Name != "" {
		if err := ctl.Orch.Directory.UpdateUsername(cc.token, p.Name); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(cc.sid)).Msg("rename on join rejected")
		}
	}

	// Switching rooms drops any call membership in the old one.
	ctl.leaveCallAndNotify(cc)

	log.Info().Str("module", "signal").Str("sid", string(cc.sid)).Str("room", string(name)).Msg("join")
	ctl.Orch.Join(cc.sid, name)
	room := ctl.Orch.Rooms.GetOrCreate(name)
	ctl.sendJSON(conn, RoomStateMsg{
		Type:    KindRoomState,
		Room:    name,
		Members: room.MembersSnapshot(),
		Count:   room.MemberCount(),
	})

	user := ctl.Orch.Directory.GetOrCreateUser(cc.token)
	ctl.BroadcastChat(cc.sid, MemberEventMsg{Type: KindMemberJoined, User: *user})
}

// handleLeave exits the current chat room (and its call); the websocket
// itself stays up.
func (ctl *SignalWSController) handleLeave(
	cc *connCtx,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "signal").Str("sid", string(cc.sid)).Msg("leave")
	roomName, _, ok := ctl.Orch.Directory.RoomOf(cc.sid)

	ctl.leaveCallAndNotify(cc)
	ctl.Orch.KickBySID(cc.sid)
	ctl.sendJSON(conn, Envelope{Type: KindLeft})

	if ok {
		user := ctl.Orch.Directory.GetOrCreateUser(cc.token)
		ctl.BroadcastRoom(roomName, MemberEventMsg{Type: KindMemberLeft, User: *user})
	}
}

func (ctl *SignalWSController) handleChat(
	cc *connCtx,
	conn *WsSignalConn,
	data []byte,
) {
	var p ChatMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad chat payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.Text == "" {
		return
	}
	user := ctl.Orch.Directory.GetOrCreateUser(cc.token)
	p.From = user
	ctl.BroadcastChat(cc.sid, p)
}

func (ctl *SignalWSController) handleTyping(
	cc *connCtx,
	_ *WsSignalConn,
	data []byte,
) {
	var p TypingMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad typing payload")
		return
	}
	user := ctl.Orch.Directory.GetOrCreateUser(cc.token)
	p.From = user
	ctl.BroadcastChat(cc.sid, p)
}
