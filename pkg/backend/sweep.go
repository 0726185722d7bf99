package backend

import (
	"context"
	"sync"
	"time"
)

// sqlSweepInterval is how often the SQL backends delete expired rows.
const sqlSweepInterval = time.Minute

// sweeper periodically runs a sweep function until stopped.
type sweeper struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startSweeper(interval time.Duration, sweep func(context.Context) (int64, error)) *sweeper {
	sw := &sweeper{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(sw.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-sw.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				// a failed sweep is retried on the next tick
				_, _ = sweep(ctx)
				cancel()
			}
		}
	}()
	return sw
}

// Stop ends the loop and waits for a running sweep to finish.
func (sw *sweeper) Stop() {
	sw.once.Do(func() { close(sw.stop) })
	<-sw.done
}
