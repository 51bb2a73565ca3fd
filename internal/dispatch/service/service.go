package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	"github.com/corvusHold/certmail/internal/dispatch/domain"
	evdomain "github.com/corvusHold/certmail/internal/events/domain"
	mdomain "github.com/corvusHold/certmail/internal/mailer/domain"
	msvc "github.com/corvusHold/certmail/internal/mailer/service"
	"github.com/corvusHold/certmail/internal/metrics"
	"github.com/corvusHold/certmail/internal/sendlog"
)

// Runner executes a batch over a dispatcher.
type Runner interface {
	Run(ctx context.Context, d msvc.Dispatcher, kind mdomain.Kind, recipients []mdomain.Recipient, compose msvc.ComposeFunc) []mdomain.Result
}

// Pools leases the shared SMTP pool.
type Pools interface {
	Get(ctx context.Context, cred cdomain.Credential) (*msvc.Pool, func(), error)
}

// Options tunes strategy selection and pacing.
type Options struct {
	PooledThreshold int
	SendDelay       time.Duration
	// HostedFrom is the sender identity for hosted delivery.
	HostedFrom     string
	HostedFromName string
}

type Service struct {
	router   *msvc.Router
	pools    Pools
	composer *msvc.Composer
	log      sendlog.Recorder
	pub      evdomain.Publisher
	opts     Options
	logger   zerolog.Logger
}

func New(router *msvc.Router, pools Pools, composer *msvc.Composer, rec sendlog.Recorder, pub evdomain.Publisher, opts Options) *Service {
	if opts.PooledThreshold <= 0 {
		opts.PooledThreshold = 50
	}
	if rec == nil {
		rec = sendlog.Nop{}
	}
	return &Service{router: router, pools: pools, composer: composer, log: rec, pub: pub, opts: opts, logger: zerolog.Nop()}
}

// SetLogger sets the service logger.
func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// SelectStrategy applies the override first; pooled is only valid for
// direct delivery. Without an override, direct batches at or above the
// threshold are pooled.
func SelectStrategy(b domain.Batch, threshold int) mdomain.Strategy {
	switch b.Strategy {
	case mdomain.Pooled:
		if b.Backend == mdomain.Direct {
			return mdomain.Pooled
		}
		return mdomain.Sequential
	case mdomain.Sequential:
		return mdomain.Sequential
	}
	if b.Backend == mdomain.Direct && len(b.Recipients) >= threshold {
		return mdomain.Pooled
	}
	return mdomain.Sequential
}

// DispatchBatch sends every recipient once and reports the outcome.
func (s *Service) DispatchBatch(ctx context.Context, b domain.Batch) (domain.Report, error) {
	switch b.Backend {
	case mdomain.Hosted, mdomain.Direct:
	default:
		return domain.Report{}, fmt.Errorf("unknown backend %q", b.Backend)
	}
	if b.Backend == mdomain.Direct && b.Credential == nil {
		return domain.Report{}, cdomain.ErrCredentialRequired
	}
	strategy := SelectStrategy(b, s.opts.PooledThreshold)
	report := domain.Report{BatchID: uuid.New(), Backend: b.Backend, Strategy: strategy}
	log := s.logger.With().Str("batch_id", report.BatchID.String()).Str("backend", string(b.Backend)).
		Str("strategy", string(strategy)).Int("recipients", len(b.Recipients)).Logger()
	if b.Credential != nil {
		log = log.With().Str("fp", cdomain.Fingerprint(b.Credential.Address)).Logger()
	}

	start := time.Now()
	var (
		runner Runner
		d      msvc.Dispatcher
		err    error
	)
	if strategy == mdomain.Pooled {
		pool, release, perr := s.pools.Get(ctx, *b.Credential)
		if perr != nil {
			return domain.Report{}, fmt.Errorf("lease smtp pool: %w", perr)
		}
		defer release()
		d = msvc.Route{Primary: pool, Kind: mdomain.Direct, Log: log}
		runner = msvc.Pooled{Workers: pool.Capacity(), Log: log}
	} else {
		d, err = s.router.Route(b.Backend, b.Credential)
		if err != nil {
			return domain.Report{}, err
		}
		runner = msvc.Sequential{Delay: s.opts.SendDelay, Log: log}
	}

	log.Info().Msg("batch started")
	results := runner.Run(ctx, d, b.Backend, b.Recipients, s.composeFor(b))
	sum := mdomain.Summarize(results)
	report.Sent, report.Failures, report.Results = sum.Sent, sum.Failures, results

	metrics.ObserveBatch(string(b.Backend), string(strategy), time.Since(start).Seconds())
	log.Info().Int("sent", report.Sent).Int("failed", len(report.Failures)).Dur("elapsed", time.Since(start)).Msg("batch completed")

	s.record(ctx, report, log)
	return report, nil
}

// composeFor picks the sender identity: the user's address for direct
// delivery, the configured sender for hosted.
func (s *Service) composeFor(b domain.Batch) msvc.ComposeFunc {
	from, name, inline := s.opts.HostedFrom, s.opts.HostedFromName, false
	if b.Backend == mdomain.Direct {
		from, name, inline = b.Credential.Address, "", true
	}
	return func(r mdomain.Recipient) (mdomain.Message, error) {
		return s.composer.Compose(r, from, name, inline)
	}
}

// record appends to the send log and publishes the completion event. Both
// are best effort.
func (s *Service) record(ctx context.Context, r domain.Report, log zerolog.Logger) {
	now := time.Now()
	entries := make([]sendlog.Entry, 0, len(r.Results))
	for _, res := range r.Results {
		entries = append(entries, sendlog.Entry{
			BatchID:   r.BatchID,
			Email:     res.Email,
			Success:   res.Success,
			MessageID: res.MessageID,
			Error:     res.Error,
			Backend:   string(res.Backend),
			Strategy:  string(r.Strategy),
			CreatedAt: now,
		})
	}
	if err := s.log.Append(context.WithoutCancel(ctx), entries); err != nil {
		metrics.IncSendlogWriteError()
		log.Error().Err(err).Msg("send log append failed")
	}
	if s.pub == nil {
		return
	}
	_ = s.pub.Publish(ctx, evdomain.Event{
		Type:    evdomain.TypeBatchCompleted,
		BatchID: r.BatchID,
		Meta: map[string]string{
			"backend":  string(r.Backend),
			"strategy": string(r.Strategy),
			"sent":     strconv.Itoa(r.Sent),
			"failed":   strconv.Itoa(len(r.Failures)),
		},
		Time: now,
	})
}
