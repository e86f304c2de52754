package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/OpenTransitTools/traintracker/business/engine"
	"github.com/OpenTransitTools/traintracker/foundation/httpclient"
	"github.com/cenkalti/backoff/v4"
)

// feed is a source of live vehicle reports
type feed interface {
	Fetch(ctx context.Context) ([]engine.Report, error)
}

// pollLoop fetches the feed every pollEvery and runs each batch through the engine.
// A failed fetch is retried with exponential backoff from backoffInitial up to backoffMax
type pollLoop struct {
	log            *log.Logger
	feed           feed
	engine         *engine.Engine
	metrics        *metricsCollector
	pollEvery      time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	now            func() time.Time
}

// run loops until ctx is done
func (p *pollLoop) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	sleepChan := make(chan bool, 1)
	sleep := time.Duration(0) //sleep for zero seconds the first time

	for {
		go func(d time.Duration) {
			time.Sleep(d)
			sleepChan <- true
		}(sleep)

		select {
		case <-ctx.Done():
			p.log.Printf("Exiting poll loop on shutdown signal")
			return
		case <-sleepChan:
		}

		sleep = p.pollEvery
		start := time.Now()

		snapshot, err := p.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.log.Printf("error polling feed, skipping cycle. error:%v", err)
			continue
		}

		workTook := time.Since(start)
		p.metrics.observeCycle(workTook)
		p.log.Printf("cycle %d: %d vehicles positioned, work took %s", snapshot.Seq, len(snapshot.Vehicles),
			fmtDuration(workTook))

		// if the work took longer than pollEvery don't sleep at all on the next loop
		if workTook >= p.pollEvery {
			sleep = time.Duration(0)
		} else {
			sleep = p.pollEvery - workTook
		}
	}
}

// cycle fetches one batch of reports and runs the engine over them
func (p *pollLoop) cycle(ctx context.Context) (*engine.Snapshot, error) {
	reports, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return p.engine.Run(p.now(), reports), nil
}

// fetch retries the feed until it succeeds, a permanent error is returned or ctx is done
func (p *pollLoop) fetch(ctx context.Context) ([]engine.Report, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.backoffInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.backoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	operation := func() ([]engine.Report, error) {
		reports, err := p.feed.Fetch(ctx)
		if err != nil {
			p.metrics.fetchFailed()
			if permanentFailure(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return reports, nil
	}
	notify := func(err error, wait time.Duration) {
		p.log.Printf("feed unavailable, retrying in %s. error:%v", wait, err)
	}
	reports, err := backoff.RetryNotifyWithData(operation, backoff.WithContext(b, ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("fetching reports: %w", err)
	}
	return reports, nil
}

// permanentFailure is true for client errors that retrying will not fix, such as a rejected api key.
// Rate limiting is retried
func permanentFailure(err error) bool {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
		statusErr.StatusCode != http.StatusTooManyRequests
}

// fmtDuration returns a string presentation of time.Duration for logging
func fmtDuration(d time.Duration) string {
	d = d.Round(time.Millisecond)
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	mill := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d.%03d", m, s, mill)
}
