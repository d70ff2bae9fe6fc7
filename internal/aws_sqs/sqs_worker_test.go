package aws_sqs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/IliaW/sitemap-intel/internal/telemetry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	mu       sync.Mutex
	inbox    [][]types.Message
	deleted  []string
	sent     []string
	sendErr  error
	reject   string
	batches  []int
	received atomic.Int32
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.received.Add(1)
	f.mu.Lock()
	if len(f.inbox) > 0 {
		batch := f.inbox[0]
		f.inbox = f.inbox[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (f *fakeSQS) DeleteMessageBatch(_ context.Context, in *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range in.Entries {
		f.deleted = append(f.deleted, aws.ToString(e.Id))
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func (f *fakeSQS) SendMessageBatch(_ context.Context, in *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.batches = append(f.batches, len(in.Entries))
	out := &sqs.SendMessageBatchOutput{}
	for _, e := range in.Entries {
		body := aws.ToString(e.MessageBody)
		if body == f.reject {
			out.Failed = append(out.Failed, types.BatchResultErrorEntry{Id: e.Id, Code: aws.String("InvalidMessageContents")})
			continue
		}
		f.sent = append(f.sent, body)
		out.Successful = append(out.Successful, types.SendMessageBatchResultEntry{Id: e.Id})
	}
	return out, nil
}

func countingMetrics() (*telemetry.SQSMetrics, *atomic.Int64, *atomic.Int64, *atomic.Int64) {
	ok, fail, sent := &atomic.Int64{}, &atomic.Int64{}, &atomic.Int64{}
	return &telemetry.SQSMetrics{
		SuccessMsgCnt: func(n int64) { ok.Add(n) },
		FailMsgCnt:    func(n int64) { fail.Add(n) },
		SentMsgCnt:    func(n int64) { sent.Add(n) },
	}, ok, fail, sent
}

func message(id, body string) types.Message {
	return types.Message{MessageId: aws.String(id), ReceiptHandle: aws.String("rh-" + id), Body: aws.String(body)}
}

func TestSQSConsumer_ForwardsAndDeletes(t *testing.T) {
	fake := &fakeSQS{inbox: [][]types.Message{
		{message("1", `{"company_id": 1}`), message("2", `{"company_id": 2}`)},
		{message("3", `{"company_id": 3}`)},
	}}
	metrics, ok, _, _ := countingMetrics()
	getChan := make(chan *string, 10)
	wg := &sync.WaitGroup{}
	w := &SQSWorker{
		client:     fake,
		url:        aws.String("http://localhost:4566/000000000000/tasks"),
		getSqsChan: getChan,
		metrics:    metrics,
		cfg:        &config.Config{SQSSettings: &config.SQSConfig{MaxNumberOfMessages: 10}},
		wg:         wg,
	}
	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	go w.SQSConsumer(ctx)

	var bodies []string
	for i := 0; i < 3; i++ {
		select {
		case b := <-getChan:
			bodies = append(bodies, *b)
		case <-time.After(time.Second):
			t.Fatal("message not forwarded")
		}
	}
	cancel()
	wg.Wait()

	_, open := <-getChan
	assert.False(t, open, "consumer closes its output channel")
	assert.Equal(t, []string{`{"company_id": 1}`, `{"company_id": 2}`, `{"company_id": 3}`}, bodies)
	assert.Equal(t, []string{"1", "2", "3"}, fake.deleted)
	assert.Equal(t, int64(3), ok.Load())
}

func queued(msgs ...string) chan *string {
	ch := make(chan *string, len(msgs))
	for _, m := range msgs {
		msg := m
		ch <- &msg
	}
	close(ch)
	return ch
}

func TestSQSProducer_SendsInBatches(t *testing.T) {
	fake := &fakeSQS{}
	metrics, _, _, sent := countingMetrics()
	msgs := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		msgs = append(msgs, fmt.Sprintf(`{"company_id": %d}`, i+1))
	}
	wg := &sync.WaitGroup{}
	w := &SQSWorker{client: fake, url: aws.String("q"), sendSqsChan: queued(msgs...), metrics: metrics, wg: wg}

	wg.Add(1)
	w.SQSProducer()

	require.Equal(t, msgs, fake.sent)
	assert.Equal(t, []int{10, 2}, fake.batches)
	assert.Equal(t, int64(12), sent.Load())
}

func TestSQSProducer_CountsRejectedEntries(t *testing.T) {
	fake := &fakeSQS{reject: "b"}
	metrics, _, fail, sent := countingMetrics()
	wg := &sync.WaitGroup{}
	w := &SQSWorker{client: fake, url: aws.String("q"), sendSqsChan: queued("a", "b", "c"), metrics: metrics, wg: wg}

	wg.Add(1)
	w.SQSProducer()

	assert.Equal(t, []string{"a", "c"}, fake.sent)
	assert.Equal(t, int64(2), sent.Load())
	assert.Equal(t, int64(1), fail.Load())
}

func TestSQSProducer_CountsFailedBatch(t *testing.T) {
	fake := &fakeSQS{sendErr: errors.New("throttled")}
	metrics, _, fail, sent := countingMetrics()
	wg := &sync.WaitGroup{}
	w := &SQSWorker{client: fake, url: aws.String("q"), sendSqsChan: queued("a", "b"), metrics: metrics, wg: wg}

	wg.Add(1)
	w.SQSProducer()

	assert.Zero(t, sent.Load())
	assert.Equal(t, int64(2), fail.Load())
}
