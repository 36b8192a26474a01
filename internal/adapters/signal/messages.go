package signal

import (
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Wire kinds. Every frame is a JSON text message with a "type" field; the
// rest of the shape depends on the kind. Negotiation kinds (offer, answer,
// candidate) are addressed client -> server -> client: the sender sets
// "target", the server stamps "from" and forwards the payload unchanged.
const (
	KindJoin      = "join"
	KindLeave     = "leave"
	KindLeft      = "left"
	KindRoomState = "room_state"
	KindChat      = "chat"
	KindTyping    = "typing"
	KindRename    = "rename"
	KindWhoAmI    = "whoami"
	KindPing      = "ping"
	KindPong      = "pong"
	KindError     = "error"

	KindMemberJoined  = "member_joined"
	KindMemberLeft    = "member_left"
	KindMemberUpdated = "member_updated"

	KindJoinCall          = "join-call"
	KindLeaveCall         = "leave-call"
	KindCallState         = "call-state"
	KindRoomFull          = "room-full"
	KindParticipantJoined = "participant-joined"
	KindParticipantLeft   = "participant-left"
	KindStartCall         = "start-call"
	KindIncomingCall      = "incoming-call"
	KindEndCall           = "end-call"

	KindOffer             = "offer"
	KindAnswer            = "answer"
	KindCandidate         = "candidate"
	KindTargetUnavailable = "target-unavailable"
)

// Envelope is the minimal shape read before dispatch.
type Envelope struct {
	Type string `json:"type"`
}

// Client -> Server. Join a chat room, optionally renaming first.
type JoinMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Name string `json:"name,omitempty"`
}

// Server -> Client. Snapshot of a chat room after join.
type RoomStateMsg struct {
	Type    string           `json:"type"`
	Room    domain.RoomName  `json:"room"`
	Members []core.MemberDTO `json:"members"`
	Count   int              `json:"count"`
}

// Server -> Room. Chat membership change (the presence boundary).
type MemberEventMsg struct {
	Type string      `json:"type"`
	User domain.User `json:"user"`
}

// Client -> Server -> Room. Plain chat text, never persisted here.
type ChatMsg struct {
	Type string       `json:"type"`
	Text string       `json:"text"`
	From *domain.User `json:"from,omitempty"`
}

// Client -> Server -> Room. Typing indicator.
type TypingMsg struct {
	Type     string       `json:"type"`
	IsTyping bool         `json:"is_typing"`
	From     *domain.User `json:"from,omitempty"`
}

type RenameMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type WhoAmIMsg struct {
	Type     string          `json:"type"`
	Username string          `json:"username"`
	Room     domain.RoomName `json:"room,omitempty"`
}

type ErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Client -> Server. Admission request for a room's call. The first admitted
// participant's call_type fixes the call type for the room.
type JoinCallMsg struct {
	Type     string `json:"type"`
	Room     string `json:"room"`
	CallType string `json:"call_type,omitempty"`
}

// Client -> Server. Leave the call; the chat session stays up.
type LeaveCallMsg struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// Server -> Client. Admission reply: effective call type plus the peers
// already present, so the joiner can orchestrate one connection each.
type CallStateMsg struct {
	Type     string           `json:"type"`
	Room     domain.RoomName  `json:"room"`
	CallType domain.CallType  `json:"call_type"`
	Peers    []core.MemberDTO `json:"peers"`
	Count    int              `json:"count"`
}

// Server -> Client. Rejected admission; no side effects anywhere else.
type RoomFullMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Server -> Call members. Call membership delta, sent to every member
// except the subject.
type ParticipantMsg struct {
	Type string      `json:"type"`
	User domain.User `json:"user"`
}

// Client -> Server -> Room (chat membership). Call announcement.
type StartCallMsg struct {
	Type     string          `json:"type"`
	CallType domain.CallType `json:"call_type"`
}

type IncomingCallMsg struct {
	Type      string          `json:"type"`
	CallType  domain.CallType `json:"call_type"`
	Initiator domain.User     `json:"initiator"`
}

// Client -> Server -> Call members. Everyone closes their orchestrators.
type EndCallMsg struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// Offer/answer session description, relayed unchanged.
type SDPMsg struct {
	Type   string        `json:"type"`
	Target domain.UserID `json:"target,omitempty"`
	From   domain.UserID `json:"from,omitempty"`
	SDP    string        `json:"sdp"`
}

// Trickled ICE candidate, relayed unchanged. Field names follow the
// browser's RTCIceCandidateInit.
type CandidateMsg struct {
	Type          string        `json:"type"`
	Target        domain.UserID `json:"target,omitempty"`
	From          domain.UserID `json:"from,omitempty"`
	Candidate     string        `json:"candidate"`
	SDPMid        *string       `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16       `json:"sdpMLineIndex,omitempty"`
}

func (m CandidateMsg) ToInit() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     m.Candidate,
		SDPMid:        m.SDPMid,
		SDPMLineIndex: m.SDPMLineIndex,
	}
}

func NewCandidateMsg(target domain.UserID, ci webrtc.ICECandidateInit) CandidateMsg {
	return CandidateMsg{
		Type:          KindCandidate,
		Target:        target,
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}
}

// Server -> Sender. The addressed identity has no live connection; the
// sender's orchestrator for that peer should close.
type TargetUnavailableMsg struct {
	Type   string        `json:"type"`
	Target domain.UserID `json:"target"`
}
