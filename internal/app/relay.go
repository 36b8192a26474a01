package app

import (
	"errors"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrTargetUnavailable = errors.New("target unavailable")

// Relay is the stateless signaling router. It resolves a target identity to
// its current connection handle through the directory and forwards the
// payload unchanged. Per-target delivery order follows the send channel of
// the target's connection, so a single sender->target conversation stays
// FIFO; no order is guaranteed across different targets.
type Relay struct {
	Directory *Directory
	Calls     *CallRooms
}

func NewRelay(dir *Directory, calls *CallRooms) *Relay {
	return &Relay{Directory: dir, Calls: calls}
}

// Route forwards one frame to the target identity. An unresolvable target is
// reported back with ErrTargetUnavailable, never silently dropped.
func (r *Relay) Route(target domain.UserID, frame core.Frame) error {
	sess, ok := r.Directory.Resolve(target)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("target", string(target)).Msg("route: target unresolved")
		return ErrTargetUnavailable
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("target", string(target)).Msg("route: send failed")
		return ErrTargetUnavailable
	}
	return nil
}

// BroadcastCall fans a frame out to every current call member of a room
// except the given identity. Delivery failures to individual members are
// logged and skipped; membership change events are best-effort.
func (r *Relay) BroadcastCall(room domain.RoomName, except domain.UserID, frame core.Frame) int {
	sent := 0
	for _, id := range r.Calls.Members(room) {
		if id == except {
			continue
		}
		if err := r.Route(id, frame); err != nil {
			log.Warn().Err(err).Str("module", "app.relay").Str("room", string(room)).
				Str("target", string(id)).Msg("call broadcast skipped member")
			continue
		}
		sent++
	}
	log.Debug().Str("module", "app.relay").Str("room", string(room)).Int("sent_to", sent).Msg("call broadcast")
	return sent
}
