package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/IliaW/sitemap-intel/internal/telemetry"
)

// DeadLetterQueue receives the payloads that could not be processed.
type DeadLetterQueue interface {
	SendToDLQ(payload string, err error)
}

// Orchestrator drives a fixed pool of discovery workers over a list or a stream of companies
// and aggregates their reports into a summary.
type Orchestrator struct {
	discoverer       Discoverer
	workers          int
	companyTimeout   time.Duration
	progressEvery    int
	progressInterval time.Duration
	reports          chan<- *model.DiscoveryReport
	dlq              DeadLetterQueue
	metrics          *telemetry.AppMetrics
	now              func() time.Time
}

type Option func(*Orchestrator)

// WithReports forwards every report to the channel, e.g. the kafka producer.
func WithReports(ch chan<- *model.DiscoveryReport) Option {
	return func(o *Orchestrator) { o.reports = ch }
}

// WithDLQ sends failed reports to the dead-letter queue.
func WithDLQ(dlq DeadLetterQueue) Option {
	return func(o *Orchestrator) { o.dlq = dlq }
}

func WithMetrics(m *telemetry.AppMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func NewOrchestrator(d Discoverer, cfg *config.WorkerConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		discoverer:       d,
		workers:          Workers(cfg.WorkersNum),
		companyTimeout:   cfg.CompanyTimeout,
		progressEvery:    cfg.ProgressEvery,
		progressInterval: cfg.ProgressInterval,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Workers resolves the configured pool size. -1 means one worker per CPU, anything else below 1
// falls back to a single worker.
func Workers(n int) int {
	if n == -1 {
		return runtime.NumCPU()
	}
	if n <= 0 {
		slog.Warn("workers number is 0 or less than -1, using a single worker.", slog.Int("workers_num", n))
		return 1
	}
	return n
}

// Run processes a fixed batch. Cancelling ctx stops handing out new companies; the summary then
// covers only what was processed.
func (o *Orchestrator) Run(ctx context.Context, companies []*model.Company) *Summary {
	in := make(chan *model.Company)
	go func() {
		defer close(in)
		for i, c := range companies {
			select {
			case in <- c:
			case <-ctx.Done():
				slog.Info("batch interrupted, remaining companies are not dispatched.",
					slog.Int("remaining", len(companies)-i))
				return
			}
		}
	}()
	return o.RunStream(ctx, in, len(companies))
}

// RunStream processes companies until in is closed. total is only used for progress estimates
// and may be 0.
func (o *Orchestrator) RunStream(ctx context.Context, in <-chan *model.Company, total int) *Summary {
	start := o.now()
	summary := newSummary(total, start)
	slog.Info("discovery started.", slog.String("run_id", summary.RunID), slog.Int("companies", total),
		slog.Int("workers", o.workers))

	results := make(chan *model.DiscoveryReport, o.workers)
	wg := &sync.WaitGroup{}
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		w := &DiscoveryWorker{
			InputChan:      in,
			OutputChan:     results,
			Discoverer:     o.discoverer,
			CompanyTimeout: o.companyTimeout,
			Wg:             wg,
		}
		go w.Run(ctx)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	tick := o.progressInterval
	if tick <= 0 {
		tick = time.Hour
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	p := &progress{every: o.progressEvery, interval: o.progressInterval, last: start}

	for {
		select {
		case r, ok := <-results:
			if !ok {
				summary.Elapsed = o.now().Sub(start)
				return summary
			}
			summary.add(r)
			o.publish(r)
			if now := o.now(); p.due(summary.Processed, now) {
				summary.logProgress(now)
			}
		case <-ticker.C:
			if now := o.now(); p.due(summary.Processed, now) {
				summary.logProgress(now)
			}
		}
	}
}

func (o *Orchestrator) publish(r *model.DiscoveryReport) {
	if o.metrics != nil {
		o.metrics.CompanyCnt(string(r.Status), 1)
		o.metrics.PagesInsertedCnt(int64(r.Inserted))
		o.metrics.PagesRejectedCnt(int64(r.Rejected))
	}
	if o.reports != nil {
		o.reports <- r
	}
	if o.dlq != nil && r.Status == model.StatusFailed {
		body, err := json.Marshal(r)
		if err != nil {
			slog.Error("marshaling error.", slog.String("err", err.Error()), slog.Any("report", r))
			return
		}
		o.dlq.SendToDLQ(string(body), errors.New(r.Error))
	}
}
