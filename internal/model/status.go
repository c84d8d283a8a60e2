package model

import (
	"fmt"
	"strings"
)

type Status string

const (
	Queued    Status = "queued"
	Sending   Status = "sending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

// rank orders the non-failed lifecycle. Failed sits outside the ladder.
var rank = map[Status]int{
	Queued:    0,
	Sending:   1,
	Sent:      2,
	Delivered: 3,
	Read:      4,
}

func (s Status) Valid() bool {
	if s == Failed {
		return true
	}
	_, ok := rank[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == Read || s == Failed
}

// CanTransition reports whether a message in status from may move to to.
// Moves go forward only (skipping is allowed since callbacks can be lost),
// failed is reachable from queued and sending, and terminal states never move.
// A same-status move is not a transition.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == to || from.Terminal() {
		return false
	}
	if to == Failed {
		return from == Queued || from == Sending
	}
	return rank[to] > rank[from]
}

// ParseCarrierStatus maps a carrier status string onto the lifecycle.
func ParseCarrierStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "accepted", "scheduled":
		return Queued, nil
	case "sending":
		return Sending, nil
	case "sent":
		return Sent, nil
	case "delivered":
		return Delivered, nil
	case "read":
		return Read, nil
	case "failed", "undelivered", "canceled", "rejected":
		return Failed, nil
	default:
		return "", fmt.Errorf("unknown carrier status %q", raw)
	}
}
