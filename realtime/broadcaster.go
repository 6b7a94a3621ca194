package realtime

// Broadcaster delivers named events to connected clients. Delivery is
// best-effort and at-most-once; ordering holds per room per sender only.
// A target is either a socket id or a room name; every socket is implicitly
// addressable by its own id.
type Broadcaster interface {
	Join(socketID, room string)
	Leave(socketID, room string)
	Emit(event string, payload any, target string)
}
