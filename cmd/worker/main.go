package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"filevault/internal/bootstrap"
	"filevault/internal/shared/config"
	"filevault/internal/shared/metrics"
	"filevault/internal/shared/telemetry"
	"filevault/internal/workerproc"
)

const visibilitySeconds = 120

func main() {
	cfg := config.Load()

	queueURL := strings.TrimSpace(cfg.CleanupQueueURL)
	if queueURL == "" {
		log.Fatal("CLEANUP_SQS_QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	app, err := bootstrap.BuildContext(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	if app.DB != nil {
		defer app.DB.Close()
	}

	w := newWorker(sqs.NewFromConfig(awsCfg), queueURL, app.Blobs, cfg.WorkerConcurrency)
	w.run(ctx)
	w.drain(cfg.ShutdownTimeout)
}

// worker long-polls the cleanup queue and deletes blobs with bounded concurrency.
// Jobs run on their own context so a shutdown signal stops receiving without
// aborting deletes already in flight; drain cancels them only on timeout.
type worker struct {
	client     sqsAPI
	queueURL   string
	blobs      workerproc.BlobDeleter
	slots      chan struct{}
	inFlight   sync.WaitGroup
	jobs       context.Context
	cancelJobs context.CancelFunc
}

func newWorker(client sqsAPI, queueURL string, blobs workerproc.BlobDeleter, concurrency int) *worker {
	jobs, cancel := context.WithCancel(context.Background())
	return &worker{
		client:     client,
		queueURL:   queueURL,
		blobs:      blobs,
		slots:      make(chan struct{}, max(1, concurrency)),
		jobs:       jobs,
		cancelJobs: cancel,
	}
}

func (w *worker) run(ctx context.Context) {
	telemetry.Info("worker.started", map[string]any{
		"queue_url":   w.queueURL,
		"concurrency": cap(w.slots),
		"visibility":  visibilitySeconds,
	})
	for ctx.Err() == nil {
		resp, err := w.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   visibilitySeconds,
			AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			telemetry.Warn("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}
		for _, msg := range resp.Messages {
			if !w.dispatch(ctx, msg) {
				return
			}
		}
	}
}

// dispatch waits for a free slot; it reports false once ctx is done.
func (w *worker) dispatch(ctx context.Context, msg sqstypes.Message) bool {
	select {
	case <-ctx.Done():
		return false
	case w.slots <- struct{}{}:
	}
	w.inFlight.Add(1)
	go func() {
		defer w.inFlight.Done()
		defer func() { <-w.slots }()
		handleMessage(w.jobs, w.client, w.queueURL, w.blobs, msg)
	}()
	return true
}

func (w *worker) drain(timeout time.Duration) {
	telemetry.Info("worker.draining", map[string]any{"timeout": timeout.String()})
	done := make(chan struct{})
	go func() {
		w.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		telemetry.Warn("worker.drain_timeout", map[string]any{"in_flight": len(w.slots)})
	}
	w.cancelJobs()
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

func handleMessage(ctx context.Context, client sqsAPI, queueURL string, blobs workerproc.BlobDeleter, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)

	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := baseFields(msg, decoded.StorageKey, decoded.RequestID)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.cleanup.invalid_message", fields)
		if deleteMessage(ctx, client, queueURL, msg, decoded.StorageKey, decoded.RequestID) {
			metrics.IncCleanupJobsDiscarded()
		}
		return
	}

	telemetry.Info("worker.cleanup.received", baseFields(msg, decoded.StorageKey, decoded.RequestID))

	ctxWithParsed := workerproc.WithParsedMessage(ctx, decoded)
	if err := workerproc.HandleMessage(ctxWithParsed, blobs, body); err != nil {
		fields := baseFields(msg, decoded.StorageKey, decoded.RequestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.cleanup.failed", fields)
		metrics.IncCleanupJobsFailed()
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.StorageKey, decoded.RequestID) {
		telemetry.Info("worker.cleanup.completed", baseFields(msg, decoded.StorageKey, decoded.RequestID))
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, storageKey, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, storageKey, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.cleanup.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, storageKey, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.cleanup.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, storageKey, requestID string) map[string]any {
	fields := map[string]any{
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if storageKey != "" {
		fields["storage_key"] = storageKey
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}
