// Package monitor provides the ticker-driven background loop shared by the
// disk-space poller and the tag-index refresher. A loop that panics is
// recovered, logged, and restarted rather than taking the whole process
// down.
package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Loop calls fn every interval until ctx is cancelled. If fn panics, the
// panic is recovered and logged, and the loop restarts after interval
// rather than taking the whole process down.
func Loop(ctx context.Context, name string, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(name, fn)
		}
	}
}

func runOnce(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("monitor", name).WithField("panic", r).Error("Monitor iteration panicked, will retry next tick")
		}
	}()
	fn()
}
