package progress

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Reporter receives the running total. Report is only ever called from the
// tracker goroutine, so implementations need no locking of their own.
type Reporter interface {
	Report(ctx context.Context, total int64) error
	Close() error
}

// Tracker polls a Counter on an interval and fans the total out to its
// reporters.
type Tracker struct {
	counter   *Counter
	interval  time.Duration
	reporters []Reporter

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	last int64
}

// Start begins reporting c every interval until Stop is called.
func Start(ctx context.Context, c *Counter, interval time.Duration, reporters ...Reporter) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	t := &Tracker{
		counter:   c,
		interval:  interval,
		reporters: reporters,
		stop:      make(chan struct{}),
		last:      -1,
	}
	t.wg.Add(1)
	go t.loop(ctx)
	return t
}

func (t *Tracker) loop(ctx context.Context) {
	defer t.wg.Done()
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			t.report(ctx)
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) report(ctx context.Context) {
	total := t.counter.Total()
	if total == t.last {
		return
	}
	t.last = total
	for _, r := range t.reporters {
		if err := r.Report(ctx, total); err != nil {
			log.Printf("progress: report total=%d: %v", total, err)
		}
	}
}

// Stop ends the polling loop, emits one final report and closes every
// reporter. It is safe to call more than once.
func (t *Tracker) Stop() error {
	var errs []error
	t.once.Do(func() {
		close(t.stop)
		t.wg.Wait()
		t.report(context.Background())
		for _, r := range t.reporters {
			if err := r.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
