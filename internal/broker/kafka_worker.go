package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/IliaW/sitemap-intel/internal/telemetry"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress/lz4"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducerClient publishes discovery reports keyed by domain, so every report of one
// company lands on the same partition.
type KafkaProducerClient struct {
	kafkaChan   <-chan *model.DiscoveryReport
	kafkaWriter messageWriter
	metrics     *telemetry.KafkaMetrics
	cfg         *config.ProducerConfig
	wg          *sync.WaitGroup
}

func NewKafkaProducer(kafkaChan <-chan *model.DiscoveryReport, metrics *telemetry.KafkaMetrics,
	cfg *config.ProducerConfig, wg *sync.WaitGroup) *KafkaProducerClient {
	kafkaWriter := kafka.Writer{
		Addr:         kafka.TCP(cfg.Addr...),
		Topic:        cfg.WriteTopicName,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: 100 * time.Millisecond,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAsks),
		Async:        cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
			}
		},
		Compression: kafka.Compression(new(lz4.Codec).Code()),
	}
	return &KafkaProducerClient{
		kafkaChan:   kafkaChan,
		kafkaWriter: &kafkaWriter,
		metrics:     metrics,
		cfg:         cfg,
		wg:          wg,
	}
}

// Run batches reports until the channel is closed. A batch is flushed when it is full or when
// BatchTimeout passes.
func (p *KafkaProducerClient) Run() {
	slog.Info("starting kafka producer...", slog.String("topic", p.cfg.WriteTopicName))
	defer p.wg.Done()
	defer func() {
		err := p.kafkaWriter.Close()
		if err != nil {
			slog.Error("failed to close kafka writer.", slog.String("err", err.Error()))
		}
	}()

	batchSize := max(p.cfg.BatchSize, 1)
	batchTimeout := p.cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	batch := make([]kafka.Message, 0, batchSize)
	batchTicker := time.NewTicker(batchTimeout)
	defer batchTicker.Stop()
	for {
		select {
		case <-batchTicker.C:
			if len(batch) == 0 {
				continue
			}
			p.writeMessage(batch)
			batch = batch[:0]
		case report, ok := <-p.kafkaChan:
			if !ok {
				if len(batch) > 0 {
					p.writeMessage(batch)
				}
				slog.Info("stopping kafka writer.")
				return
			}
			body, err := json.Marshal(report)
			if err != nil {
				slog.Error("marshaling error.", slog.String("err", err.Error()), slog.Any("report", report))
				p.countFail(1)
				continue
			}
			batch = append(batch, kafka.Message{
				Key:   []byte(report.Domain),
				Value: body,
			})
			if len(batch) >= batchSize {
				p.writeMessage(batch)
				batch = batch[:0]
				batchTicker.Reset(batchTimeout)
			}
		}
	}
}

func (p *KafkaProducerClient) writeMessage(batch []kafka.Message) {
	err := p.kafkaWriter.WriteMessages(context.Background(), batch...)
	if err != nil {
		slog.Error("failed to send messages to kafka.", slog.String("err", err.Error()))
		p.countFail(int64(len(batch)))
		return
	}
	if p.metrics != nil {
		p.metrics.SuccessMsgCnt(int64(len(batch)))
	}
	slog.Debug("successfully sent messages to kafka.", slog.Int("batch length", len(batch)))
}

func (p *KafkaProducerClient) countFail(n int64) {
	if p.metrics != nil {
		p.metrics.FailMsgCnt(n)
	}
}
