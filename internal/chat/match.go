package chat

import (
	"time"

	"ChatCore/entity"
)

// heuristicTolerance is how far apart local and server timestamps may be for
// the body+sender fallback to consider two records the same message.
const heuristicTolerance = 15 * time.Second

// Matcher locates the log entry a server confirmation refers to, so the
// pending optimistic insert and its confirmation collapse to one visible
// entry. Returns the index in the log, or -1.
type Matcher interface {
	Match(log []entity.Message, confirm entity.Message, token string) int
}

// matcher tries, in strict priority order: exact correlation-token match,
// exact server-id match (covers replays), then a heuristic on identical
// body+sender with timestamps inside a tolerance window. The heuristic is a
// compatibility shim for legacy peers that do not echo tokens and can be
// disabled independently.
type matcher struct {
	disableHeuristic bool
	tolerance        time.Duration
}

func NewMatcher(disableHeuristic bool) Matcher {
	return &matcher{
		disableHeuristic: disableHeuristic,
		tolerance:        heuristicTolerance,
	}
}

func (m *matcher) Match(log []entity.Message, confirm entity.Message, token string) int {
	if token != "" {
		for i := range log {
			if log[i].LocalID != "" && log[i].LocalID == token {
				return i
			}
		}
	}

	if confirm.ID != "" {
		for i := range log {
			if log[i].ID == confirm.ID {
				return i
			}
		}
	}

	if m.disableHeuristic {
		return -1
	}
	for i := range log {
		e := log[i]
		if e.State != entity.DeliveryPending {
			continue
		}
		if e.Text == "" || e.Text != confirm.Text || e.SenderID != confirm.SenderID {
			continue
		}
		diff := e.CreatedAt.Sub(confirm.CreatedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff <= m.tolerance {
			return i
		}
	}
	return -1
}
