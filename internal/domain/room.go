package domain

type (
	RoomName string
	RoomID   string
)

const MaxRoomNameLen = 36

// Room is a named grouping for chat, presence and call scoping. A room has
// two independent membership sets: an unbounded chat membership and a
// bounded call membership owned by the call registry.
type Room struct {
	ID   RoomID
	Name RoomName
}
