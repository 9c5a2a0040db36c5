package ws

import (
	"strings"

	"github.com/Vasu1712/gatherhub/internal/policy"
)

const roomPrefix = "event:"

// RoomName derives the room key for an event channel:
// event:{slug}, event:{slug}:voting, event:{slug}:tasks.
func RoomName(slug string, channel policy.Channel) string {
	if channel == policy.ChannelGeneral || channel == "" {
		return roomPrefix + slug
	}
	return roomPrefix + slug + ":" + string(channel)
}

// ParseRoom splits a room key back into slug and channel.
func ParseRoom(room string) (string, policy.Channel, bool) {
	rest, ok := strings.CutPrefix(room, roomPrefix)
	if !ok || rest == "" {
		return "", "", false
	}
	slug, variant, found := strings.Cut(rest, ":")
	if slug == "" {
		return "", "", false
	}
	if !found {
		return slug, policy.ChannelGeneral, true
	}
	switch ch := policy.Channel(variant); ch {
	case policy.ChannelVoting, policy.ChannelTasks:
		return slug, ch, true
	}
	return "", "", false
}
