package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoomIndexJoinLeave(t *testing.T) {
	req := require.New(t)
	ri := newRoomIndex()

	ri.join("lobby", "a")
	ri.join("lobby", "b")
	req.ElementsMatch([]string{"a", "b"}, ri.members("lobby"))

	ri.leave("lobby", "a")
	req.Equal([]string{"b"}, ri.members("lobby"))
}

func TestRoomIndexJoinIsIdempotent(t *testing.T) {
	ri := newRoomIndex()

	ri.join("lobby", "a")
	ri.join("lobby", "a")
	require.Len(t, ri.members("lobby"), 1)
}

func TestRoomIndexLeaveUnknownRoomIsNoop(t *testing.T) {
	ri := newRoomIndex()

	ri.leave("ghost", "a")
	require.Empty(t, ri.members("ghost"))
}

func TestRoomIndexRoomCeasesWhenEmpty(t *testing.T) {
	req := require.New(t)
	ri := newRoomIndex()

	ri.join("lobby", "a")
	req.Equal(1, ri.roomCount())

	ri.leave("lobby", "a")
	req.Equal(0, ri.roomCount())
}

func TestRoomIndexDropAll(t *testing.T) {
	req := require.New(t)
	ri := newRoomIndex()

	ri.join("lobby", "a")
	ri.join("games", "a")
	ri.join("games", "b")

	ri.dropAll("a")

	req.Empty(ri.members("lobby"))
	req.Equal([]string{"b"}, ri.members("games"))
	req.Equal(1, ri.roomCount())
}
