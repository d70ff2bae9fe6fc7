package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/IliaW/sitemap-intel/internal/model"
	"github.com/IliaW/sitemap-intel/internal/telemetry"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	err     error
	closed  bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, append([]kafka.Message(nil), msgs...))
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) messages() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []kafka.Message
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func countingMetrics() (*telemetry.KafkaMetrics, *atomic.Int64, *atomic.Int64) {
	ok, fail := &atomic.Int64{}, &atomic.Int64{}
	return &telemetry.KafkaMetrics{
		SuccessMsgCnt: func(n int64) { ok.Add(n) },
		FailMsgCnt:    func(n int64) { fail.Add(n) },
	}, ok, fail
}

func TestKafkaProducer_FlushesFullBatchesAndRemainder(t *testing.T) {
	ch := make(chan *model.DiscoveryReport)
	w := &fakeWriter{}
	metrics, ok, _ := countingMetrics()
	wg := &sync.WaitGroup{}
	p := &KafkaProducerClient{
		kafkaChan:   ch,
		kafkaWriter: w,
		metrics:     metrics,
		cfg:         &config.ProducerConfig{BatchSize: 2, BatchTimeout: time.Hour},
		wg:          wg,
	}
	wg.Add(1)
	go p.Run()

	for _, d := range []string{"a.com", "b.com", "c.com"} {
		ch <- &model.DiscoveryReport{Domain: d, Status: model.StatusSucceeded}
	}
	close(ch)
	wg.Wait()

	require.Len(t, w.batches, 2)
	assert.Len(t, w.batches[0], 2)
	assert.Len(t, w.batches[1], 1)
	assert.True(t, w.closed)
	assert.Equal(t, int64(3), ok.Load())

	msgs := w.messages()
	assert.Equal(t, "a.com", string(msgs[0].Key))
	var report model.DiscoveryReport
	require.NoError(t, json.Unmarshal(msgs[2].Value, &report))
	assert.Equal(t, "c.com", report.Domain)
	assert.Equal(t, model.StatusSucceeded, report.Status)
}

func TestKafkaProducer_FlushesOnTimeout(t *testing.T) {
	ch := make(chan *model.DiscoveryReport)
	w := &fakeWriter{}
	wg := &sync.WaitGroup{}
	p := &KafkaProducerClient{
		kafkaChan:   ch,
		kafkaWriter: w,
		cfg:         &config.ProducerConfig{BatchSize: 100, BatchTimeout: 20 * time.Millisecond},
		wg:          wg,
	}
	wg.Add(1)
	go p.Run()

	ch <- &model.DiscoveryReport{Domain: "a.com"}
	assert.Eventually(t, func() bool { return len(w.messages()) == 1 }, time.Second, 5*time.Millisecond)
	close(ch)
	wg.Wait()
}

func TestKafkaProducer_CountsFailures(t *testing.T) {
	ch := make(chan *model.DiscoveryReport, 2)
	w := &fakeWriter{err: errors.New("broker down")}
	metrics, ok, fail := countingMetrics()
	wg := &sync.WaitGroup{}
	p := &KafkaProducerClient{
		kafkaChan:   ch,
		kafkaWriter: w,
		metrics:     metrics,
		cfg:         &config.ProducerConfig{BatchSize: 10, BatchTimeout: time.Hour},
		wg:          wg,
	}
	ch <- &model.DiscoveryReport{Domain: "a.com"}
	ch <- &model.DiscoveryReport{Domain: "b.com"}
	close(ch)
	wg.Add(1)
	p.Run()

	assert.Zero(t, ok.Load())
	assert.Equal(t, int64(2), fail.Load())
}

func TestKafkaDLQ_SendToDLQ(t *testing.T) {
	w := &fakeWriter{}
	dlq := &KafkaDLQClient{kafkaWriter: w, serviceName: "sitemap-intel"}

	dlq.SendToDLQ(`{"company_id": "x"}`, errors.New("invalid discovery task"))

	msgs := w.messages()
	require.Len(t, msgs, 1)
	var msg DLQMessage
	require.NoError(t, json.Unmarshal(msgs[0].Value, &msg))
	assert.Equal(t, "sitemap-intel", msg.ServiceName)
	assert.Equal(t, `{"company_id": "x"}`, msg.Payload)
	assert.Equal(t, "invalid discovery task", msg.ErrorMessage)
}
