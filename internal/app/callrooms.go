package app

import (
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// CallCapacity is the hard ceiling on concurrent call participants per room.
const CallCapacity = 3

var (
	ErrRoomFull  = errors.New("room full")
	ErrNotInCall = errors.New("not in call")
)

// callRoom is one room's bounded call membership. The per-room mutex makes
// the capacity check-and-insert atomic without serializing unrelated rooms.
type callRoom struct {
	mu      sync.Mutex
	kind    domain.CallType
	members map[domain.UserID]struct{}
	gone    bool // set when the room was released; a holder must retry
}

// CallRooms is the admission-control gate over call memberships. Rooms are
// referenced by name only; no room pointer ever leaves this registry.
type CallRooms struct {
	mu    sync.Mutex
	rooms map[domain.RoomName]*callRoom
}

func NewCallRooms() *CallRooms {
	return &CallRooms{rooms: make(map[domain.RoomName]*callRoom)}
}

func (c *CallRooms) getOrCreate(name domain.RoomName) *callRoom {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[name]
	if !ok {
		r = &callRoom{members: make(map[domain.UserID]struct{})}
		c.rooms[name] = r
	}
	return r
}

// Join admits an identity into a room's call or rejects it with ErrRoomFull.
// The first admitted participant fixes the room's call type; later joiners
// receive it. On success the returned slice lists the already-present peers.
// Joining a call you are already in is a no-op rejoin.
func (c *CallRooms) Join(name domain.RoomName, id domain.UserID, kind domain.CallType) ([]domain.UserID, domain.CallType, error) {
	for {
		r := c.getOrCreate(name)
		r.mu.Lock()
		if r.gone {
			// Lost a race with the release of an emptied room.
			r.mu.Unlock()
			continue
		}
		if _, ok := r.members[id]; !ok {
			if len(r.members) >= CallCapacity {
				r.mu.Unlock()
				log.Info().Str("module", "app.calls").Str("room", string(name)).Str("user", string(id)).Msg("call full, join rejected")
				return nil, "", ErrRoomFull
			}
			if len(r.members) == 0 {
				r.kind = kind
			}
			r.members[id] = struct{}{}
		}
		peers := make([]domain.UserID, 0, len(r.members)-1)
		for m := range r.members {
			if m != id {
				peers = append(peers, m)
			}
		}
		kind = r.kind
		r.mu.Unlock()
		log.Info().Str("module", "app.calls").Str("room", string(name)).Str("user", string(id)).
			Int("peers", len(peers)).Str("call_type", string(kind)).Msg("call join admitted")
		return peers, kind, nil
	}
}

// Leave removes an identity from a room's call. It reports whether the
// identity was a member; leaving twice is a no-op, not an error. The room's
// state is released entirely when the last member leaves.
func (c *CallRooms) Leave(name domain.RoomName, id domain.UserID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[name]
	if !ok {
		return false
	}
	r.mu.Lock()
	_, was := r.members[id]
	delete(r.members, id)
	if len(r.members) == 0 {
		r.gone = true
		delete(c.rooms, name)
		log.Info().Str("module", "app.calls").Str("room", string(name)).Msg("call room released")
	}
	r.mu.Unlock()
	if was {
		log.Info().Str("module", "app.calls").Str("room", string(name)).Str("user", string(id)).Msg("call leave")
	}
	return was
}

// Evict drops every member and releases the room. Used on end-call.
func (c *CallRooms) Evict(name domain.RoomName) []domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[name]
	if !ok {
		return nil
	}
	r.mu.Lock()
	out := make([]domain.UserID, 0, len(r.members))
	for m := range r.members {
		out = append(out, m)
	}
	r.members = make(map[domain.UserID]struct{})
	r.gone = true
	r.mu.Unlock()
	delete(c.rooms, name)
	log.Info().Str("module", "app.calls").Str("room", string(name)).Int("evicted", len(out)).Msg("call room evicted")
	return out
}

// Members returns a snapshot of a room's call membership.
func (c *CallRooms) Members(name domain.RoomName) []domain.UserID {
	c.mu.Lock()
	r, ok := c.rooms[name]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UserID, 0, len(r.members))
	for m := range r.members {
		out = append(out, m)
	}
	return out
}

func (c *CallRooms) MemberCount(name domain.RoomName) int {
	return len(c.Members(name))
}

// Kind returns the call type fixed by the first joiner.
func (c *CallRooms) Kind(name domain.RoomName) (domain.CallType, bool) {
	c.mu.Lock()
	r, ok := c.rooms[name]
	c.mu.Unlock()
	if !ok {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kind, true
}
