package api

import (
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// nextTimestampRange reserves n strictly increasing nanosecond timestamps,
// unique across the process, and returns the first one. It returns 0 when
// n is not positive.
func nextTimestampRange(n int) int64 {
	if n <= 0 {
		return 0
	}
	for {
		start := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if start <= last {
			start = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, start+int64(n)-1) {
			return start
		}
	}
}
