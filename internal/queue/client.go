package queue

import "context"

// Client enqueues blob cleanup jobs for the worker. A nil Client means
// cleanup is inline only.
type Client interface {
	Send(ctx context.Context, msg Message) error
}
