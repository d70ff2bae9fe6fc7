package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/google/uuid"
)

// keptFailures bounds Summary.Failures.
const keptFailures = 50

// Summary is the terminal result of a run. Failures holds the most recent failed reports only,
// Failed counts all of them.
type Summary struct {
	RunID             string
	Total             int // 0 when the input is a stream of unknown length
	Processed         int
	Succeeded         int
	InsufficientYield int
	Failed            int
	PagesBefore       int
	PagesAfter        int
	PagesRejected     int
	Failures          []*model.DiscoveryReport
	Started           time.Time
	Elapsed           time.Duration
}

func newSummary(total int, now time.Time) *Summary {
	return &Summary{RunID: uuid.NewString(), Total: total, Started: now}
}

func (s *Summary) add(r *model.DiscoveryReport) {
	s.Processed++
	s.PagesBefore += r.PagesBefore
	s.PagesAfter += r.PagesAfter
	s.PagesRejected += r.Rejected
	switch r.Status {
	case model.StatusSucceeded:
		s.Succeeded++
	case model.StatusInsufficientYield:
		s.InsufficientYield++
	default:
		s.Failed++
		if len(s.Failures) == keptFailures {
			s.Failures = append(s.Failures[1:], r)
		} else {
			s.Failures = append(s.Failures, r)
		}
	}
}

// SuccessRate is the share of processed companies that ended with a new page set, in percent.
func (s *Summary) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Succeeded) * 100 / float64(s.Processed)
}

// Remaining estimates the time left from the average time per company so far.
func (s *Summary) Remaining(now time.Time) time.Duration {
	if s.Total == 0 || s.Processed == 0 || s.Processed >= s.Total {
		return 0
	}
	perCompany := now.Sub(s.Started) / time.Duration(s.Processed)
	return perCompany * time.Duration(s.Total-s.Processed)
}

func (s *Summary) logProgress(now time.Time) {
	slog.Info("discovery progress.",
		slog.String("run_id", s.RunID),
		slog.Int("processed", s.Processed),
		slog.Int("total", s.Total),
		slog.String("success_rate", formatRate(s.SuccessRate())),
		slog.Duration("elapsed", now.Sub(s.Started).Round(time.Second)),
		slog.Duration("remaining", s.Remaining(now).Round(time.Second)))
}

func (s *Summary) Log() {
	slog.Info("discovery finished.",
		slog.String("run_id", s.RunID),
		slog.Int("processed", s.Processed),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("insufficient_yield", s.InsufficientYield),
		slog.Int("failed", s.Failed),
		slog.Int("pages_before", s.PagesBefore),
		slog.Int("pages_after", s.PagesAfter),
		slog.Int("pages_rejected", s.PagesRejected),
		slog.String("success_rate", formatRate(s.SuccessRate())),
		slog.Duration("elapsed", s.Elapsed.Round(time.Millisecond)))
	for _, f := range s.Failures {
		slog.Warn("company failed.", slog.Int64("company_id", f.CompanyID), slog.String("domain", f.Domain),
			slog.String("err", f.Error))
	}
}

// progress decides when a progress line is due: every `every` companies or every `interval`,
// whichever comes first.
type progress struct {
	every    int
	interval time.Duration
	last     time.Time
	logged   int
}

func (p *progress) due(processed int, now time.Time) bool {
	byCount := p.every > 0 && processed > p.logged && processed%p.every == 0
	byTime := p.interval > 0 && now.Sub(p.last) >= p.interval
	if !byCount && !byTime {
		return false
	}
	p.last, p.logged = now, processed
	return true
}

func formatRate(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate)
}
