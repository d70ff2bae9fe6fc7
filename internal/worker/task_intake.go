package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/IliaW/sitemap-intel/internal/persistence"
	"github.com/IliaW/sitemap-intel/internal/telemetry"
)

var ErrInvalidTask = errors.New("invalid discovery task")

// CompanyResolver looks up the company a queued task refers to.
type CompanyResolver interface {
	CompanyByID(ctx context.Context, id int64) (*model.Company, error)
}

// TaskIntake turns raw queue messages into companies for the worker pool. Messages that cannot be
// decoded or resolved go to the dead-letter queue. OutputChan is closed once InputSqsChan is.
type TaskIntake struct {
	InputSqsChan  <-chan *string
	OutputChan    chan<- *model.Company
	Companies     CompanyResolver
	KafkaDLQ      DeadLetterQueue
	LookupTimeout time.Duration
	Wg            *sync.WaitGroup
	Metrics       *telemetry.AppMetrics
}

func (t *TaskIntake) Run() {
	defer t.Wg.Done()
	defer close(t.OutputChan)
	slog.Debug("start task intake")

	for str := range t.InputSqsChan {
		company, err := t.resolve(*str)
		if err != nil {
			slog.Error("failed to accept discovery task.", slog.String("message", *str),
				slog.String("err", err.Error()))
			if t.KafkaDLQ != nil {
				t.KafkaDLQ.SendToDLQ(*str, err)
			}
			if t.Metrics != nil {
				t.Metrics.CompanyCnt(string(model.StatusFailed), 1)
			}
			continue
		}
		t.OutputChan <- company
	}
	slog.Info("task intake stopped.")
}

// resolve decodes a message like {"company_id": 42, "domain": "example.com", "priority": 5}.
// The domain of the message wins over the one derived from the stored website.
func (t *TaskIntake) resolve(msg string) (*model.Company, error) {
	var task model.DiscoveryTask
	if err := json.Unmarshal([]byte(msg), &task); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if task.CompanyID <= 0 {
		return nil, fmt.Errorf("%w: company_id is required", ErrInvalidTask)
	}

	ctx := context.Background()
	if t.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.LookupTimeout)
		defer cancel()
	}
	company, err := t.Companies.CompanyByID(ctx, task.CompanyID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidTask, err)
		}
		return nil, err
	}
	if domain := model.DomainFromWebsite(task.Domain); domain != "" {
		company.Domain = domain
	}
	slog.Debug("discovery task accepted.", slog.Int64("company_id", company.ID),
		slog.String("domain", company.Domain), slog.Int("priority", task.Priority))
	return company, nil
}
