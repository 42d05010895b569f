package node

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"time"
)

// WatchMemory samples the heap every interval and calls raise once each
// time usage crosses limit. A zero limit disables the watchdog.
func WatchMemory(ctx context.Context, limit uint64, interval time.Duration, raise func(reason string), logger *log.Logger) {
	if limit == 0 {
		return
	}
	logger.Printf("[watchdog] heap limit %d bytes", limit)
	t := time.NewTicker(interval)
	defer t.Stop()

	var ms runtime.MemStats
	over := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runtime.ReadMemStats(&ms)
			switch {
			case ms.HeapAlloc > limit && !over:
				over = true
				raise(fmt.Sprintf("heap %d bytes exceeds limit %d", ms.HeapAlloc, limit))
			case ms.HeapAlloc <= limit:
				over = false
			}
		}
	}
}
