package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"filevault/internal/queue"
	"filevault/internal/shared/metrics"
	"filevault/internal/shared/storage/object"
)

// BlobDeleter removes blobs by key.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrInvalidMessage indicates a decoded message that can never be processed.
type ErrInvalidMessage struct {
	Meta      MessageMeta
	RequestID string
	Reason    string
}

func (e ErrInvalidMessage) Error() string { return "invalid message: " + e.Reason }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	StorageKey string
	RequestID  string
	Err        error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "delete blob"
	}
	return "delete blob: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if reason := validate(msg); reason != "" {
		return msg, meta, ErrInvalidMessage{Meta: meta, RequestID: msg.RequestID, Reason: reason}
	}
	return msg, meta, nil
}

// validate limits the worker to blobs under the managed prefixes.
func validate(msg queue.Message) string {
	if msg.Kind != queue.KindBlobDelete {
		return "unsupported kind"
	}
	if err := object.ValidateKey(msg.StorageKey); err != nil {
		return "invalid storage key"
	}
	if !strings.HasPrefix(msg.StorageKey, object.UploadsPrefix) && !strings.HasPrefix(msg.StorageKey, object.AvatarsPrefix) {
		return "unmanaged storage key"
	}
	return ""
}

// Unrecoverable reports whether err means the message should be dropped
// rather than retried.
func Unrecoverable(err error) bool {
	switch err.(type) {
	case ErrEmptyBody, ErrDecode, ErrInvalidMessage:
		return true
	}
	return false
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Message, bool) {
	if ctx == nil {
		return queue.Message{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Message)
	return msg, ok
}

// HandleMessage parses, validates, and processes a message payload.
// Deleting an already missing blob succeeds.
func HandleMessage(ctx context.Context, blobs BlobDeleter, body string) error {
	if blobs == nil {
		return errors.New("blob store not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}

	if reason := validate(msg); reason != "" {
		return ErrInvalidMessage{Meta: ComputeMeta(body), RequestID: msg.RequestID, Reason: reason}
	}

	if err := blobs.Delete(ctx, msg.StorageKey); err != nil {
		return ErrProcess{StorageKey: msg.StorageKey, RequestID: msg.RequestID, Err: err}
	}
	metrics.IncCleanupJobsProcessed()
	return nil
}
