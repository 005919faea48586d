package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const typingLimiterSize = 10000

// typingLimiter suppresses repeated typing signals of the same state.
type typingLimiter struct {
	seen *expirable.LRU[string, bool]
}

func newTypingLimiter(window time.Duration) *typingLimiter {
	if window <= 0 {
		window = 3 * time.Second
	}
	return &typingLimiter{seen: expirable.NewLRU[string, bool](typingLimiterSize, nil, window)}
}

// allow reports whether a typing signal should be broadcast. A change of
// state always passes; a repeat passes once the window has elapsed.
func (l *typingLimiter) allow(roomID, userID string, typing bool) bool {
	key := roomID + "|" + userID
	if prev, ok := l.seen.Get(key); ok && prev == typing {
		return false
	}
	l.seen.Add(key, typing)
	return true
}
