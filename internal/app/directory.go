package app

import (
	"context"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// ConnState is the explicit per-connection state owned by the directory.
// Everything the relay needs about a live connection is looked up by handle
// here, never carried on the socket itself.
type ConnState struct {
	SID      core.SessionID
	User     *domain.User
	Session  core.MemberSession
	Room     domain.RoomName // chat room
	CallRoom domain.RoomName // room whose call admitted this identity, "" when idle
	Cancel   context.CancelFunc
}

// Directory maps ephemeral connection handles to durable identities.
// At most one live handle per identity at a time: a new connection for the
// same identity supersedes (and cancels) the old mapping.
type Directory struct {
	mu     sync.RWMutex
	bySID  map[core.SessionID]*ConnState
	byUser map[domain.UserID]core.SessionID
	users  map[string]*domain.User // durable guests, keyed by client token
}

func NewDirectory() *Directory {
	return &Directory{
		bySID:  make(map[core.SessionID]*ConnState),
		byUser: make(map[domain.UserID]core.SessionID),
		users:  make(map[string]*domain.User),
	}
}

// GetOrCreateUser returns the durable identity bound to a client token.
func (d *Directory) GetOrCreateUser(token string) *domain.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[token]; ok {
		return u
	}
	u := &domain.User{ID: domain.UserID(token), Username: "guest"}
	d.users[token] = u
	log.Info().Str("module", "app.directory").Str("user", string(u.ID)).Msg("created new user")
	return u
}

func (d *Directory) UpdateUsername(token, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[token]
	if !ok {
		return domain.ErrUsernameEmpty
	}
	if err := u.SetUsername(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.directory").Str("user", string(u.ID)).Str("username", name).Msg("updated username")
	return nil
}

// Register binds a handle to an identity, replacing any prior handle for
// that identity. The superseded connection is canceled and unmapped.
func (d *Directory) Register(sid core.SessionID, user *domain.User, sess core.MemberSession, cancel context.CancelFunc) {
	d.mu.Lock()
	old, hadOld := d.bySID[d.byUser[user.ID]]
	d.bySID[sid] = &ConnState{SID: sid, User: user, Session: sess, Cancel: cancel}
	d.byUser[user.ID] = sid
	d.mu.Unlock()

	if hadOld && old.SID != sid {
		log.Info().Str("module", "app.directory").Str("user", string(user.ID)).
			Str("old_sid", string(old.SID)).Str("sid", string(sid)).Msg("superseding connection")
		if old.Cancel != nil {
			old.Cancel()
		}
		d.mu.Lock()
		delete(d.bySID, old.SID)
		d.mu.Unlock()
	}
	log.Info().Str("module", "app.directory").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("registered handle")
}

// Resolve returns the live session for an identity.
func (d *Directory) Resolve(id domain.UserID) (core.MemberSession, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.bySID[d.byUser[id]]; ok {
		return e.Session, true
	}
	return nil, false
}

// Remove drops a handle. Idempotent; used on disconnect. The identity
// mapping is only cleared if it still points at this handle, so a stale
// disconnect never unmaps a superseding connection.
func (d *Directory) Remove(sid core.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.bySID[sid]
	if !ok {
		return
	}
	if d.byUser[e.User.ID] == sid {
		delete(d.byUser, e.User.ID)
	}
	delete(d.bySID, sid)
	log.Info().Str("module", "app.directory").Str("sid", string(sid)).Msg("removed handle")
}

func (d *Directory) StateOf(sid core.SessionID) (ConnState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.bySID[sid]; ok {
		return *e, true
	}
	return ConnState{}, false
}

func (d *Directory) UserOf(id domain.UserID) (*domain.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.bySID[d.byUser[id]]; ok {
		return e.User, true
	}
	return nil, false
}

func (d *Directory) RoomOf(sid core.SessionID) (domain.RoomName, core.MemberSession, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.bySID[sid]
	if !ok || e.Room == "" {
		return "", nil, false
	}
	return e.Room, e.Session, true
}

func (d *Directory) UpdateRoom(sid core.SessionID, room domain.RoomName) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.bySID[sid]
	if !ok {
		return false
	}
	e.Room = room
	log.Info().Str("module", "app.directory").Str("sid", string(sid)).Str("room", string(room)).Msg("updated room")
	return true
}

func (d *Directory) ClearRoom(sid core.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.bySID[sid]; ok {
		e.Room = ""
	}
}

// UpdateCallRoom records which room's call holds this handle's identity.
// The call registry is keyed by identity; this binding is what lets leave
// and disconnect release the right slot even when the call room differs
// from the chat room.
func (d *Directory) UpdateCallRoom(sid core.SessionID, room domain.RoomName) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.bySID[sid]
	if !ok {
		return false
	}
	e.CallRoom = room
	log.Info().Str("module", "app.directory").Str("sid", string(sid)).Str("call_room", string(room)).Msg("updated call room")
	return true
}

func (d *Directory) ClearCallRoom(sid core.SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.bySID[sid]; ok {
		e.CallRoom = ""
	}
}

// ClearCallRoomByUser drops the call binding of an identity's live handle.
// Used when a call is evicted wholesale and only identities are known.
func (d *Directory) ClearCallRoomByUser(id domain.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.bySID[d.byUser[id]]; ok {
		e.CallRoom = ""
	}
}

// ConnSnap is a read-only copy handed out by snapshot queries.
type ConnSnap struct {
	SID     core.SessionID
	User    *domain.User
	Session core.MemberSession
}

func (d *Directory) MembersOfRoom(name domain.RoomName) []ConnSnap {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ConnSnap, 0, len(d.bySID))
	for sid, e := range d.bySID {
		if e.Room == name {
			out = append(out, ConnSnap{SID: sid, User: e.User, Session: e.Session})
		}
	}
	return out
}

func (d *Directory) Cancel(sid core.SessionID) bool {
	d.mu.RLock()
	e, ok := d.bySID[sid]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.directory").Str("sid", string(sid)).Msg("canceled session")
	return true
}
