package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Every calls fn once per period until ctx is done. The first call happens
// immediately. Periods are measured start to start, so the time fn takes is
// subtracted from the following wait. An error or panic in fn is logged and
// that tick is skipped.
func Every(ctx context.Context, clock Clock, period time.Duration, name string, fn func(now time.Time) error) {
	if clock == nil {
		clock = SystemClock{}
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := clock.Now()
		if err := safeCall(fn, start); err != nil {
			log.Error().Err(err).Str("task", name).Msg("Periodic evaluation failed, skipping tick")
		}

		delay := period - clock.Now().Sub(start)
		if delay < 0 {
			delay = 0
		}
		timer.Reset(delay)
	}
}

func safeCall(fn func(time.Time) error, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(now)
}

// RunEvery samples once per period into the returned channel, which is
// closed when ctx is done. Failed samples are skipped. Each call starts an
// independent sampler.
func RunEvery[T any](ctx context.Context, clock Clock, period time.Duration, name string, sample func(now time.Time) (T, error)) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		Every(ctx, clock, period, name, func(now time.Time) error {
			v, err := sample(now)
			if err != nil {
				return err
			}
			select {
			case out <- v:
			case <-ctx.Done():
			}
			return nil
		})
	}()
	return out
}
