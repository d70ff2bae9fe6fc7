package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/IliaW/sitemap-intel/internal/discovery"
	"github.com/IliaW/sitemap-intel/internal/model"
)

// Discoverer runs the pipeline for one company and always returns a report.
type Discoverer interface {
	Discover(ctx context.Context, company *model.Company) *model.DiscoveryReport
}

// DiscoveryWorker takes companies from InputChan until it is closed. Each company gets its own
// timeout and a panic in one company is recorded as a failure of that company only.
type DiscoveryWorker struct {
	InputChan      <-chan *model.Company
	OutputChan     chan<- *model.DiscoveryReport
	Discoverer     Discoverer
	CompanyTimeout time.Duration
	Wg             *sync.WaitGroup
}

func (w *DiscoveryWorker) Run(ctx context.Context) {
	defer w.Wg.Done()
	slog.Debug("start discovery worker")

	for company := range w.InputChan {
		w.OutputChan <- w.process(ctx, company)
	}
}

func (w *DiscoveryWorker) process(ctx context.Context, company *model.Company) (report *model.DiscoveryReport) {
	if w.CompanyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.CompanyTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("company discovery panicked.", slog.String("domain", company.Domain),
				slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			report = discovery.Panicked(company, r)
		}
	}()

	slog.Debug("discovering company.", slog.Int64("company_id", company.ID), slog.String("domain", company.Domain))
	return w.Discoverer.Discover(ctx, company)
}
