package progress

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/schollz/progressbar/v3"
)

// BarReporter renders the total as a console spinner with a row rate. The
// total row count is not known up front, so the bar is indeterminate.
type BarReporter struct {
	bar *progressbar.ProgressBar
}

// NewBarReporter writes the bar to w, usually os.Stderr.
func NewBarReporter(w io.Writer, description string) *BarReporter {
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	return &BarReporter{bar: bar}
}

func (b *BarReporter) Report(_ context.Context, total int64) error {
	return b.bar.Set64(total)
}

func (b *BarReporter) Close() error {
	return b.bar.Finish()
}

// LogReporter writes one log line per report with the rate since the
// previous report.
type LogReporter struct {
	start     time.Time
	lastAt    time.Time
	lastTotal int64
	now       func() time.Time
}

func NewLogReporter() *LogReporter {
	now := time.Now()
	return &LogReporter{start: now, lastAt: now, now: time.Now}
}

func (l *LogReporter) Report(_ context.Context, total int64) error {
	now := l.now()
	rps := 0
	if secs := now.Sub(l.lastAt).Seconds(); secs > 0 {
		rps = int(float64(total-l.lastTotal) / secs)
	}
	log.Printf("progress: total_rows=%d rps=%d elapsed=%s", total, rps, now.Sub(l.start).Truncate(time.Millisecond))
	l.lastAt, l.lastTotal = now, total
	return nil
}

func (l *LogReporter) Close() error { return nil }

// RedisReporter stores the total under a key and publishes it on a channel
// of the same name so dashboards can poll or subscribe.
type RedisReporter struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisReporter connects to the Redis server at url (redis://host:port/db).
func NewRedisReporter(ctx context.Context, url, key string) (*RedisReporter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("progress: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("progress: connect redis: %w", err)
	}
	return newRedisReporter(client, key), nil
}

func newRedisReporter(client *redis.Client, key string) *RedisReporter {
	return &RedisReporter{client: client, key: key, ttl: 24 * time.Hour}
}

func (r *RedisReporter) Report(ctx context.Context, total int64) error {
	v := strconv.FormatInt(total, 10)
	if err := r.client.Set(ctx, r.key, v, r.ttl).Err(); err != nil {
		return fmt.Errorf("progress: redis set %s: %w", r.key, err)
	}
	if err := r.client.Publish(ctx, r.key, v).Err(); err != nil {
		return fmt.Errorf("progress: redis publish %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisReporter) Close() error { return r.client.Close() }
