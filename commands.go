package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IliaW/sitemap-intel/internal/aws_sqs"
	"github.com/IliaW/sitemap-intel/internal/broker"
	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/IliaW/sitemap-intel/internal/persistence"
	"github.com/IliaW/sitemap-intel/internal/telemetry"
	"github.com/IliaW/sitemap-intel/internal/worker"
	"github.com/urfave/cli/v2"
)

const (
	strategySitemapPolluted = "sitemap_polluted"
	strategyNeverDiscovered = "never_discovered"

	companyLookupTimeout = 10 * time.Second
)

func batchAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()
	db = setupDatabase()
	defer closeDatabase()
	cache := setupCache()
	defer cache.Close()
	service := setupDiscovery(metrics, cache)

	companies, err := selectCompanies(ctx, c, persistence.NewCompanyRepository(db))
	if err != nil {
		return err
	}
	if len(companies) == 0 {
		slog.Info("no companies selected, nothing to do.")
		return nil
	}

	opts := []worker.Option{worker.WithMetrics(metrics.AppMetrics)}
	wg := &sync.WaitGroup{}
	var kafkaChan chan *model.DiscoveryReport
	if kafkaEnabled() {
		kafkaDLQ := broker.NewKafkaDLQ(cfg.ServiceName, cfg.KafkaSettings.Producer)
		defer kafkaDLQ.Close()
		kafkaChan = make(chan *model.DiscoveryReport, worker.Workers(cfg.WorkerSettings.WorkersNum)*2)
		wg.Add(1)
		go broker.NewKafkaProducer(kafkaChan, metrics.KafkaMetrics, cfg.KafkaSettings.Producer, wg).Run()
		opts = append(opts, worker.WithReports(kafkaChan), worker.WithDLQ(kafkaDLQ))
	}

	summary := worker.NewOrchestrator(service, cfg.WorkerSettings, opts...).Run(ctx, companies)
	if kafkaChan != nil {
		close(kafkaChan)
		slog.Info("close kafkaChan.")
		wg.Wait()
	}
	summary.Log()
	return nil
}

func enqueueAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()
	db = setupDatabase()
	defer closeDatabase()

	companies, err := selectCompanies(ctx, c, persistence.NewCompanyRepository(db))
	if err != nil {
		return err
	}

	sendSqsChan := make(chan *string, int(cfg.SQSSettings.MaxNumberOfMessages)+1)
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go aws_sqs.NewSQSWorker(nil, metrics.SQSMetrics, sendSqsChan, cfg, wg).SQSProducer()

	priority := c.Int("priority")
	queued := 0
loop:
	for _, company := range companies {
		body, err := json.Marshal(&model.DiscoveryTask{
			CompanyID: company.ID,
			Domain:    company.Domain,
			Priority:  priority,
		})
		if err != nil {
			slog.Error("marshaling error.", slog.String("err", err.Error()), slog.Int64("company_id", company.ID))
			continue
		}
		msg := string(body)
		select {
		case sendSqsChan <- &msg:
			queued++
		case <-ctx.Done():
			slog.Info("enqueue interrupted.", slog.Int("remaining", len(companies)-queued))
			break loop
		}
	}
	close(sendSqsChan)
	slog.Info("close sendSqsChan.")
	wg.Wait()
	slog.Info("discovery tasks enqueued.", slog.Int("tasks", queued), slog.Int("selected", len(companies)))
	return nil
}

func serveAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()
	db = setupDatabase()
	defer closeDatabase()
	cache := setupCache()
	defer cache.Close()
	service := setupDiscovery(metrics, cache)
	slog.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env))

	threadNum := worker.Workers(cfg.WorkerSettings.WorkersNum)
	getSqsChan := make(chan *string, threadNum*2) // double the size to avoid blocking
	companyChan := make(chan *model.Company, threadNum*2)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	sqs := aws_sqs.NewSQSWorker(getSqsChan, metrics.SQSMetrics, nil, cfg, wg)
	go sqs.SQSConsumer(ctx)

	intake := &worker.TaskIntake{
		InputSqsChan:  getSqsChan,
		OutputChan:    companyChan,
		Companies:     persistence.NewCompanyRepository(db),
		LookupTimeout: companyLookupTimeout,
		Wg:            wg,
		Metrics:       metrics.AppMetrics,
	}
	opts := []worker.Option{worker.WithMetrics(metrics.AppMetrics)}
	var kafkaChan chan *model.DiscoveryReport
	if kafkaEnabled() {
		kafkaDLQ := broker.NewKafkaDLQ(cfg.ServiceName, cfg.KafkaSettings.Producer)
		defer kafkaDLQ.Close()
		intake.KafkaDLQ = kafkaDLQ
		kafkaChan = make(chan *model.DiscoveryReport, threadNum*2)
		wg.Add(1)
		go broker.NewKafkaProducer(kafkaChan, metrics.KafkaMetrics, cfg.KafkaSettings.Producer, wg).Run()
		opts = append(opts, worker.WithReports(kafkaChan), worker.WithDLQ(kafkaDLQ))
	}
	wg.Add(1)
	go intake.Run()

	go healthCheckHandler()

	// Graceful shutdown.
	// 1. Stop SQS Consumer by system call. Close getSqsChan
	// 2. Task intake drains getSqsChan and closes companyChan
	// 3. Workers finish every accepted company, RunStream returns
	// 4. Close kafkaChan and wait till Kafka Producer sends the remaining reports
	// 5. Close database and memcached connections
	// Workers get a fresh context so tasks already taken from the queue are not cancelled.
	summary := worker.NewOrchestrator(service, cfg.WorkerSettings, opts...).
		RunStream(context.Background(), companyChan, 0)
	slog.Info("stopping server...")
	if kafkaChan != nil {
		close(kafkaChan)
		slog.Info("close kafkaChan.")
	}
	wg.Wait()
	summary.Log()
	slog.Info("server stopped.")
	return nil
}

// selectCompanies picks the companies of a batch or enqueue run. Flags override the configured
// selection.
func selectCompanies(ctx context.Context, c *cli.Context, repo persistence.CompanyStorage) ([]*model.Company, error) {
	strategy := cfg.SelectionSettings.Strategy
	if s := c.String("strategy"); s != "" {
		strategy = s
	}
	limit := cfg.SelectionSettings.Limit
	if l := c.Int("limit"); l >= 0 {
		limit = l
	}

	var companies []*model.Company
	var err error
	switch strategy {
	case strategySitemapPolluted:
		companies, err = repo.SitemapPolluted(ctx, limit)
	case strategyNeverDiscovered:
		companies, err = repo.NeverDiscovered(ctx, limit)
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", strategy)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select companies: %w", err)
	}
	slog.Info("companies selected.", slog.String("strategy", strategy), slog.Int("limit", limit),
		slog.Int("companies", len(companies)))
	return companies, nil
}
