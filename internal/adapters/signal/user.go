package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	cc *connCtx,
	conn *WsSignalConn,
	data []byte,
) {
	var p RenameMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.Name == "" {
		ctl.sendError(conn, "empty name")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(cc.sid)).Str("name", p.Name).Msg("rename")
	if err := ctl.Orch.Directory.UpdateUsername(cc.token, p.Name); err != nil {
		ctl.sendError(conn, "invalid_name")
		return
	}
	ctl.handleWhoAmI(cc, conn)

	user := ctl.Orch.Directory.GetOrCreateUser(cc.token)
	ctl.BroadcastChat(cc.sid, MemberEventMsg{Type: KindMemberUpdated, User: *user})
}

func (ctl *SignalWSController) handleWhoAmI(
	cc *connCtx,
	conn *WsSignalConn,
) {
	user := ctl.Orch.Directory.GetOrCreateUser(cc.token)

	resp := WhoAmIMsg{
		Type:     KindWhoAmI,
		Username: user.Username,
	}
	if roomName, _, ok := ctl.Orch.Directory.RoomOf(cc.sid); ok {
		resp.Room = roomName
	}
	ctl.sendJSON(conn, resp)
}
