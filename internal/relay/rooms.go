package relay

// roomIndex maintains the many-to-many relation between rooms and
// connection ids. Rooms are created implicitly on first join and removed
// when their last member leaves. The index is not safe for concurrent use;
// the hub serializes all access under its mutex.
type roomIndex struct {
	rooms map[string]map[string]struct{}
}

func newRoomIndex() *roomIndex {
	return &roomIndex{rooms: make(map[string]map[string]struct{})}
}

// join adds connID to room, creating the room if needed. Joining a room
// already joined leaves the member set unchanged.
func (ri *roomIndex) join(room, connID string) {
	members, ok := ri.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		ri.rooms[room] = members
	}
	members[connID] = struct{}{}
}

// leave removes connID from room. Leaving a room not joined is a no-op.
// An emptied room ceases to exist.
func (ri *roomIndex) leave(room, connID string) {
	members, ok := ri.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(ri.rooms, room)
	}
}

// members returns the connection ids currently in room.
func (ri *roomIndex) members(room string) []string {
	members := ri.rooms[room]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// dropAll removes connID from every room it joined, the implicit leave
// performed when a connection closes.
func (ri *roomIndex) dropAll(connID string) {
	for room, members := range ri.rooms {
		if _, ok := members[connID]; !ok {
			continue
		}
		delete(members, connID)
		if len(members) == 0 {
			delete(ri.rooms, room)
		}
	}
}

// roomCount returns the number of rooms with at least one member.
func (ri *roomIndex) roomCount() int {
	return len(ri.rooms)
}
