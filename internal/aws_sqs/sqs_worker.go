package aws_sqs

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/IliaW/sitemap-intel/config"
	"github.com/IliaW/sitemap-intel/internal/telemetry"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sendBatchSize is the SendMessageBatch limit.
const sendBatchSize = 10

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// SQSWorker moves discovery tasks between the queue and the application. The consumer feeds
// getSqsChan, the producer drains sendSqsChan.
type SQSWorker struct {
	client      sqsAPI
	url         *string
	getSqsChan  chan<- *string
	sendSqsChan <-chan *string
	metrics     *telemetry.SQSMetrics
	cfg         *config.Config
	wg          *sync.WaitGroup
}

func NewSQSWorker(getSqsChan chan<- *string, metrics *telemetry.SQSMetrics, sendSqsChan <-chan *string,
	cfg *config.Config, wg *sync.WaitGroup) *SQSWorker {
	slog.Info("connecting to sqs...")

	c, err := connect(cfg)
	if err != nil {
		slog.Error("failed to connect to sqs.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	queueUrl, err := c.GetQueueUrl(context.Background(), &sqs.GetQueueUrlInput{QueueName: &cfg.SQSSettings.QueueName})
	if err != nil {
		slog.Error("failed to get queue url.", slog.String("err", err.Error()),
			slog.String("queue_name", cfg.SQSSettings.QueueName))
		os.Exit(1)
	}

	return &SQSWorker{
		client:      c,
		url:         queueUrl.QueueUrl,
		getSqsChan:  getSqsChan,
		sendSqsChan: sendSqsChan,
		metrics:     metrics,
		cfg:         cfg,
		wg:          wg,
	}
}

// SQSConsumer receives tasks until ctx is cancelled and then closes getSqsChan. Messages are
// deleted as soon as they are handed over; a task lost to a crash is picked up by the next batch run.
func (w *SQSWorker) SQSConsumer(ctx context.Context) {
	defer w.wg.Done()
	slog.Info("starting sqs consumer...", slog.String("queue_url", *w.url))

	getInput := &sqs.ReceiveMessageInput{
		QueueUrl:            w.url,
		MaxNumberOfMessages: w.cfg.SQSSettings.MaxNumberOfMessages,
		WaitTimeSeconds:     w.cfg.SQSSettings.WaitTimeSeconds,
		VisibilityTimeout:   w.cfg.SQSSettings.VisibilityTimeout,
	}
	deleteInput := &sqs.DeleteMessageBatchInput{
		QueueUrl: w.url,
		Entries:  nil,
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping sqs consumer...")
			close(w.getSqsChan)
			slog.Info("close getSqsChan.")
			return
		default:
			output, err := w.client.ReceiveMessage(ctx, getInput)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("failed to receive message from sqs.", slog.String("err", err.Error()))
					w.metrics.FailMsgCnt(1)
				}
				continue
			}
			if len(output.Messages) == 0 {
				slog.Debug("no messages received from sqs.")
				continue
			}

			entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(output.Messages))
			for _, m := range output.Messages {
				w.getSqsChan <- m.Body
				entries = append(entries, types.DeleteMessageBatchRequestEntry{
					Id:            m.MessageId,
					ReceiptHandle: m.ReceiptHandle,
				})
			}
			deleteInput.Entries = entries
			slog.Debug("deleting messages from sqs.", slog.Int("size", len(entries)))
			_, err = w.client.DeleteMessageBatch(context.Background(), deleteInput)
			if err != nil {
				slog.Error("failed to delete messages from sqs.", slog.String("err", err.Error()))
				w.metrics.FailMsgCnt(int64(len(entries)))
			} else {
				w.metrics.SuccessMsgCnt(int64(len(entries)))
			}
		}
	}
}

// SQSProducer sends messages from sendSqsChan in batches of up to sendBatchSize until the channel
// is closed. A partial batch is flushed when no more messages are waiting.
func (w *SQSWorker) SQSProducer() {
	defer w.wg.Done()
	slog.Info("starting sqs producer...", slog.String("queue_url", *w.url))

	batch := make([]*string, 0, sendBatchSize)
	for m := range w.sendSqsChan {
		batch = append(batch, m)
		if len(batch) < sendBatchSize && len(w.sendSqsChan) > 0 {
			continue
		}
		w.sendBatch(batch)
		batch = batch[:0]
	}
	if len(batch) > 0 {
		w.sendBatch(batch)
	}
	slog.Info("stopping sqs producer.")
}

func (w *SQSWorker) sendBatch(bodies []*string) {
	entries := make([]types.SendMessageBatchRequestEntry, 0, len(bodies))
	for i, b := range bodies {
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(i)),
			MessageBody: b,
		})
	}
	slog.Debug("sending messages to sqs.", slog.Int("size", len(entries)))
	out, err := w.client.SendMessageBatch(context.Background(), &sqs.SendMessageBatchInput{
		QueueUrl: w.url,
		Entries:  entries,
	})
	if err != nil {
		slog.Error("failed to send messages to sqs.", slog.String("err", err.Error()))
		w.metrics.FailMsgCnt(int64(len(entries)))
		return
	}
	for _, f := range out.Failed {
		i, _ := strconv.Atoi(aws.ToString(f.Id))
		slog.Error("sqs rejected message.", slog.String("message", aws.ToString(bodies[i])),
			slog.String("code", aws.ToString(f.Code)), slog.String("err", aws.ToString(f.Message)))
	}
	if len(out.Failed) > 0 {
		w.metrics.FailMsgCnt(int64(len(out.Failed)))
	}
	w.metrics.SentMsgCnt(int64(len(out.Successful)))
}

func connect(cfg *config.Config) (*sqs.Client, error) {
	sqsConfig, err := awsCfg.LoadDefaultConfig(context.Background(), awsCfg.WithRegion(cfg.SQSSettings.Region))
	if err != nil {
		slog.Error("failed to load sqs config.", slog.String("err", err.Error()))
		return nil, err
	}

	if cfg.Env == "local" {
		sqsConfig.BaseEndpoint = &cfg.SQSSettings.AwsBaseEndpoint // for LocalStack
		sqsConfig.Credentials = crd.NewStaticCredentialsProvider("test", "test", "")
	}

	return sqs.NewFromConfig(sqsConfig), nil
}
