package dynatx

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Now is a lambda for time.Now so automated tests can replace it with replayable time.
var Now = time.Now

// Sleep blocks for the specified duration or until the context is done, whichever happens first.
func Sleep(ctx context.Context, sleepTime time.Duration) {
	if sleepTime <= 0 {
		return
	}
	sleepCtx, cancel := context.WithTimeout(ctx, sleepTime)
	defer cancel()
	<-sleepCtx.Done()
}

// TimedOut returns an error if the context is done or if the elapsed time since startTime
// exceeds maxTime.
func TimedOut(ctx context.Context, name string, startTime time.Time, maxTime time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if Now().Sub(startTime) > maxTime {
		return fmt.Errorf("%s timed out(maxTime=%v)", name, maxTime)
	}
	return nil
}

// Retry executes task with Fibonacci backoff up to 5 retries. If retries are exhausted,
// gaveUpTask is invoked (when not nil) and the final error is returned.
func Retry(ctx context.Context, task func(ctx context.Context) error, gaveUpTask func(ctx context.Context)) error {
	b := retry.NewFibonacci(100 * time.Millisecond)
	if err := retry.Do(ctx, retry.WithMaxRetries(5, b), task); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUpTask != nil {
			gaveUpTask(ctx)
		}
		return err
	}
	return nil
}
