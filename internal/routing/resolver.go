// Package routing decides where a downloaded video is delivered.
package routing

import (
	"errors"

	"hiddenprotocol/internal/domain"
)

// ErrGroupNotAllowed is returned for non-private chats outside the allow-list.
var ErrGroupNotAllowed = errors.New("group_not_allowed")

// Overflow is an alternate destination that centralizes delivery for one group.
// Zero values mean "not configured".
type Overflow struct {
	ChatID   int64
	ThreadID int
}

// Resolver is stateless after construction; Resolve is safe for concurrent use.
type Resolver struct {
	overflow      Overflow
	allowedGroups map[int64]struct{}
}

func NewResolver(overflow Overflow, allowedGroups []int64) *Resolver {
	set := make(map[int64]struct{}, len(allowedGroups))
	for _, id := range allowedGroups {
		set[id] = struct{}{}
	}
	return &Resolver{overflow: overflow, allowedGroups: set}
}

// Resolve computes the destination for msg. The overflow thread wins over the
// thread the message arrived in.
func (r *Resolver) Resolve(msg domain.IncomingMessage) (domain.RouteDecision, error) {
	if msg.IsPrivate() {
		return domain.RouteDecision{ChatID: msg.ChatID, Tag: domain.RoutePrivateEcho}, nil
	}

	if _, ok := r.allowedGroups[msg.ChatID]; !ok {
		return domain.RouteDecision{}, ErrGroupNotAllowed
	}

	if r.overflow.ChatID != 0 && r.overflow.ThreadID != 0 && msg.ChatID == r.overflow.ChatID {
		return domain.RouteDecision{
			ChatID:   r.overflow.ChatID,
			ThreadID: r.overflow.ThreadID,
			Tag:      domain.RouteGroupToSpecialThread,
		}, nil
	}

	if msg.ThreadID != 0 {
		return domain.RouteDecision{ChatID: msg.ChatID, ThreadID: msg.ThreadID, Tag: domain.RouteGroupSameThread}, nil
	}

	return domain.RouteDecision{ChatID: msg.ChatID, Tag: domain.RouteGroupSameChat}, nil
}

// GroupAllowed reports whether chatID is in the authorized group set.
func (r *Resolver) GroupAllowed(chatID int64) bool {
	_, ok := r.allowedGroups[chatID]
	return ok
}
