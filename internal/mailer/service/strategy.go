package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvusHold/certmail/internal/mailer/domain"
	"github.com/corvusHold/certmail/internal/metrics"
)

// ComposeFunc builds the message for a recipient.
type ComposeFunc func(domain.Recipient) (domain.Message, error)

// attempt sends to one recipient and always yields a Result.
func attempt(ctx context.Context, d Dispatcher, kind domain.Kind, strategy domain.Strategy, compose ComposeFunc, r domain.Recipient) domain.Result {
	res := domain.Result{Email: r.Email, Backend: kind}
	msg, err := compose(r)
	if err == nil {
		res.MessageID, res.Backend, err = d.Dispatch(ctx, msg)
	}
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	metrics.IncMessage(string(res.Backend), string(strategy), res.Success)
	return res
}

// Sequential sends in input order and waits Delay after every attempt
// before the next one.
type Sequential struct {
	Delay time.Duration
	Log   zerolog.Logger
}

// Run never aborts on a failed recipient. Once ctx is done, the remaining
// recipients are recorded as failed without being attempted.
func (s Sequential) Run(ctx context.Context, d Dispatcher, kind domain.Kind, recipients []domain.Recipient, compose ComposeFunc) []domain.Result {
	results := make([]domain.Result, 0, len(recipients))
	for i, r := range recipients {
		if err := ctx.Err(); err != nil {
			results = append(results, domain.Result{Email: r.Email, Backend: kind, Error: err.Error()})
			continue
		}
		res := attempt(ctx, d, kind, domain.Sequential, compose, r)
		if !res.Success {
			s.Log.Warn().Int("index", i).Str("error", res.Error).Msg("recipient send failed")
		}
		results = append(results, res)
		if i < len(recipients)-1 && s.Delay > 0 {
			t := time.NewTimer(s.Delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}
	return results
}

// Pooled fans recipients out to Workers goroutines over a shared sender.
// Every recipient yields exactly one Result; results are in input order.
type Pooled struct {
	Workers int
	Log     zerolog.Logger
}

func (p Pooled) Run(ctx context.Context, d Dispatcher, kind domain.Kind, recipients []domain.Recipient, compose ComposeFunc) []domain.Result {
	results := make([]domain.Result, len(recipients))
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(recipients) {
		workers = len(recipients)
	}
	queue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				r := recipients[i]
				if err := ctx.Err(); err != nil {
					results[i] = domain.Result{Email: r.Email, Backend: kind, Error: err.Error()}
					continue
				}
				results[i] = attempt(ctx, d, kind, domain.Pooled, compose, r)
			}
		}()
	}
	for i := range recipients {
		queue <- i
	}
	close(queue)
	wg.Wait()
	return results
}
