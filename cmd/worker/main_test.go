package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"filevault/internal/queue"
)

type fakeSQS struct {
	mu      sync.Mutex
	batches [][]sqstypes.Message
	deleted []string
	stop    context.CancelFunc
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		if f.stop != nil {
			f.stop()
		}
		return nil, context.Canceled
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeBlobs struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (f *fakeBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return f.err
}

func cleanupMessage(id, key string) sqstypes.Message {
	body, _ := queue.EncodeMessage(queue.NewBlobDelete(key, "avatar.replaced", "req-"+id, time.Now()))
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("r-" + id),
		Body:          aws.String(string(body)),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}
}

func TestWorkerDeletesMessageOnSuccess(t *testing.T) {
	client := &fakeSQS{}
	blobs := &fakeBlobs{}

	handleMessage(context.Background(), client, "queue", blobs, cleanupMessage("m1", "avatars/u1-1.png"))

	if len(blobs.keys) != 1 || blobs.keys[0] != "avatars/u1-1.png" {
		t.Fatalf("expected blob delete, got %v", blobs.keys)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "r-m1" {
		t.Fatalf("expected message delete, got %v", client.deleted)
	}
}

func TestWorkerDoesNotDeleteOnFailure(t *testing.T) {
	client := &fakeSQS{}
	blobs := &fakeBlobs{err: errors.New("boom")}

	handleMessage(context.Background(), client, "queue", blobs, cleanupMessage("m2", "avatars/u1-2.png"))

	if len(client.deleted) != 0 {
		t.Fatalf("expected no delete, got %d", len(client.deleted))
	}
}

func TestWorkerDeletesOnInvalidJSON(t *testing.T) {
	client := &fakeSQS{}
	blobs := &fakeBlobs{}
	msg := sqstypes.Message{
		MessageId:     aws.String("m3"),
		ReceiptHandle: aws.String("r3"),
		Body:          aws.String("{bad-json"),
	}

	handleMessage(context.Background(), client, "queue", blobs, msg)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
	if len(blobs.keys) != 0 {
		t.Fatalf("expected no blob deletes, got %v", blobs.keys)
	}
}

func TestWorkerDiscardsUnmanagedKeys(t *testing.T) {
	client := &fakeSQS{}
	blobs := &fakeBlobs{}

	handleMessage(context.Background(), client, "queue", blobs, cleanupMessage("m4", "backups/db.sql"))

	if len(blobs.keys) != 0 {
		t.Fatalf("unmanaged key must not be deleted, got %v", blobs.keys)
	}
	if len(client.deleted) != 1 {
		t.Fatalf("expected message to be discarded, got %d", len(client.deleted))
	}
}

func TestReceiveCount(t *testing.T) {
	if got := receiveCount(sqstypes.Message{Attributes: map[string]string{"ApproximateReceiveCount": "3"}}); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := receiveCount(sqstypes.Message{}); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestWorkerRunProcessesBatchesUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeSQS{
		batches: [][]sqstypes.Message{
			{cleanupMessage("a", "uploads/u1/f1"), cleanupMessage("b", "uploads/u1/f2")},
			{cleanupMessage("c", "avatars/u1-3.png")},
		},
		stop: cancel,
	}
	blobs := &fakeBlobs{}
	w := newWorker(client, "queue", blobs, 2)

	w.run(ctx)
	w.drain(time.Second)

	if len(blobs.keys) != 3 {
		t.Fatalf("expected 3 blob deletes, got %v", blobs.keys)
	}
	if len(client.deleted) != 3 {
		t.Fatalf("expected 3 message deletes, got %v", client.deleted)
	}
}

// gatedBlobs holds every delete until release is closed or ctx ends.
type gatedBlobs struct {
	release chan struct{}
	mu      sync.Mutex
	errs    []error
}

func (g *gatedBlobs) Delete(ctx context.Context, key string) error {
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs = append(g.errs, ctx.Err())
	return ctx.Err()
}

func TestWorkerShutdownLetsInFlightDeletesFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeSQS{
		batches: [][]sqstypes.Message{{cleanupMessage("a", "uploads/u1/f1"), cleanupMessage("b", "uploads/u1/f2")}},
		stop:    cancel,
	}
	blobs := &gatedBlobs{release: make(chan struct{})}
	w := newWorker(client, "queue", blobs, 2)

	w.run(ctx)
	if ctx.Err() == nil {
		t.Fatalf("expected receive loop to stop on cancel")
	}
	close(blobs.release)
	w.drain(time.Second)

	if len(blobs.errs) != 2 {
		t.Fatalf("expected 2 deletes, got %d", len(blobs.errs))
	}
	for _, err := range blobs.errs {
		if err != nil {
			t.Fatalf("in-flight delete saw canceled context: %v", err)
		}
	}
	if len(client.deleted) != 2 {
		t.Fatalf("expected both messages acknowledged, got %v", client.deleted)
	}
}

func TestWorkerDrainTimeoutCancelsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &fakeSQS{
		batches: [][]sqstypes.Message{{cleanupMessage("a", "uploads/u1/f1")}},
		stop:    cancel,
	}
	blobs := &gatedBlobs{release: make(chan struct{})}
	w := newWorker(client, "queue", blobs, 1)

	w.run(ctx)
	w.drain(10 * time.Millisecond)
	w.inFlight.Wait()

	if len(blobs.errs) != 1 || blobs.errs[0] == nil {
		t.Fatalf("expected the stuck delete to be canceled, got %v", blobs.errs)
	}
	if len(client.deleted) != 0 {
		t.Fatalf("canceled job must stay on the queue, got %v", client.deleted)
	}
}
