package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"filevault/internal/bootstrap"
	"filevault/internal/shared/config"
	"filevault/internal/shared/metrics"
	"filevault/internal/shared/telemetry"
	"filevault/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"error": initErr.Error()})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return processBatch(ctx, app.Blobs, event.Records), nil
}

// processBatch reports only retryable failures back to SQS. Malformed
// messages are dropped so they do not cycle until the redrive limit.
func processBatch(ctx context.Context, blobs workerproc.BlobDeleter, records []events.SQSMessage) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range records {
		err := workerproc.HandleMessage(ctx, blobs, record.Body)
		fields := map[string]any{"sqs_message_id": record.MessageId}
		switch {
		case err == nil:
			telemetry.Info("worker.cleanup.completed", fields)
		case workerproc.Unrecoverable(err):
			fields["error"] = err.Error()
			telemetry.Error("worker.cleanup.discarded", fields)
			metrics.IncCleanupJobsDiscarded()
		default:
			fields["error"] = err.Error()
			telemetry.Error("worker.cleanup.failed", fields)
			metrics.IncCleanupJobsFailed()
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
