package queue

import "context"

// Job consumes messages of one type from the queue.
type Job interface {
	// Name identifies the job in logs.
	Name() string

	// Type is the message type this job handles.
	Type() string

	// Handle processes one payload. Returning an error schedules a
	// retry until the limit, after which the message moves to the DLQ.
	Handle(ctx context.Context, payload interface{}) error
}
