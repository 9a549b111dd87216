package api

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/DeSecurity/focused-life-hq/domain"
)

var (
	lastTimestamp int64
)

// nextTimestampRange reserves count consecutive logical timestamps and
// returns the first one. Timestamps are strictly monotonic across
// goroutines even when the wall clock stalls or steps backwards.
func nextTimestampRange(count int) int64 {
	if count <= 0 {
		return 0
	}
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now+int64(count)-1) {
			return now
		}
	}
}

// finalizeCommands stamps each command with a logical timestamp and ensures
// every command carries an idempotency key, returning the keys in order.
func finalizeCommands(cmds []domain.Command) []string {
	keys := make([]string, len(cmds))
	start := nextTimestampRange(len(cmds))
	for i := range cmds {
		cmds[i].Timestamp = start + int64(i)
		if cmds[i].IdempotencyKey == "" {
			cmds[i].IdempotencyKey = strconv.FormatInt(cmds[i].Timestamp, 36)
		}
		cmds[i].ID = cmds[i].IdempotencyKey
		keys[i] = cmds[i].IdempotencyKey
	}
	return keys
}
