package core

import "github.com/dkeye/Huddle/internal/domain"

// MemberSession binds domain.Member and its transport endpoint.
// This is what rooms store and the relay fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
	UpdateSignal(SignalConnection) MemberSession
}
