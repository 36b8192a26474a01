package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// handleSDP relays an offer or answer to the addressed identity. The server
// never parses the SDP; it stamps the sender's identity into "from" and
// forwards the payload as-is. An unresolvable target is reported back with
// target-unavailable, never silently dropped.
func (ctl *SignalWSController) handleSDP(
	cc *connCtx,
	conn *WsSignalConn,
	data []byte,
) {
	var p SDPMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad sdp payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.Target == "" {
		ctl.sendError(conn, "missing target")
		return
	}
	st, ok := ctl.Orch.Directory.StateOf(cc.sid)
	if !ok {
		return
	}
	p.From = st.User.ID

	b, err := json.Marshal(p)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sdp relay marshal")
		return
	}
	if err := ctl.Orch.Relay.Route(p.Target, b); err != nil {
		log.Warn().Str("module", "signal").Str("sid", string(cc.sid)).
			Str("target", string(p.Target)).Str("kind", p.Type).Msg("relay target unavailable")
		ctl.sendJSON(conn, TargetUnavailableMsg{Type: KindTargetUnavailable, Target: p.Target})
	}
}

// handleCandidate relays one trickled ICE candidate, same addressing rules
// as handleSDP.
func (ctl *SignalWSController) handleCandidate(
	cc *connCtx,
	conn *WsSignalConn,
	data []byte,
) {
	var p CandidateMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}
	if p.Target == "" {
		ctl.sendError(conn, "missing target")
		return
	}
	st, ok := ctl.Orch.Directory.StateOf(cc.sid)
	if !ok {
		return
	}
	p.From = st.User.ID

	b, err := json.Marshal(p)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("candidate relay marshal")
		return
	}
	if err := ctl.Orch.Relay.Route(p.Target, b); err != nil {
		ctl.sendJSON(conn, TargetUnavailableMsg{Type: KindTargetUnavailable, Target: p.Target})
	}
}
