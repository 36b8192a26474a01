package core

import (
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is the in-memory chat side of a room: an unbounded membership
// set keyed by connection handle, with an identity index for presence
// lookups. It owns no transport resources; sockets are closed by the
// adapter that opened them. The bounded call membership lives elsewhere.
type roomImpl struct {
	room *domain.Room

	mu       sync.RWMutex
	sessions map[SessionID]MemberSession
	handles  map[domain.UserID]SessionID
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:     room,
		sessions: make(map[SessionID]MemberSession),
		handles:  make(map[domain.UserID]SessionID),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AddMember binds a handle to the room. A reconnect of the same identity
// re-points the identity index at the new handle.
func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) {
	id := ms.Meta().User.ID
	r.mu.Lock()
	r.sessions[sid] = ms
	r.handles[id] = sid
	n := len(r.sessions)
	r.mu.Unlock()
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).
		Str("sid", string(sid)).Str("user", string(id)).Int("members", n).Msg("chat member added")
}

// RemoveMember drops a handle. The identity index is only cleared when it
// still points at this handle, so removing a superseded connection never
// hides the identity's live one.
func (r *roomImpl) RemoveMember(sid SessionID) {
	r.mu.Lock()
	if ms, ok := r.sessions[sid]; ok {
		id := ms.Meta().User.ID
		if r.handles[id] == sid {
			delete(r.handles, id)
		}
		delete(r.sessions, sid)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).
		Str("sid", string(sid)).Int("members", n).Msg("chat member removed")
}

// Broadcast fans a frame out to everyone but the sender. Members whose
// send buffers are full come back in Dropped for the policy to judge; the
// frame itself is never retried here.
func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res PublishResult
	for sid, ms := range r.sessions {
		if sid == from {
			continue
		}
		if err := ms.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, ms)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.room.Name)).
		Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("chat broadcast")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.sessions))
	for _, ms := range r.sessions {
		u := ms.Meta().User
		out = append(out, MemberDTO{ID: u.ID, Username: u.Username})
	}
	return out
}
