package queue

import (
	"context"
	"fmt"
)

// Publisher publishes dispatch jobs to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, job DispatchJob) error
	Close() error
}

// MessageHandler handles a consumed dispatch job.
type MessageHandler func(ctx context.Context, job DispatchJob) error

// Consumer consumes dispatch jobs from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// DispatchQueue carries campaign dispatch jobs.
	DispatchQueue = "campaign.dispatch"

	dispatchRoutingKey = "campaign.dispatch"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the dispatch queue.
	queueMaxPriority int32 = 3
)

// DLQName returns the dead-letter queue for a work queue, e.g. dlq.campaign.dispatch.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// PriorityValue maps a job reason to RabbitMQ message priority.
// Operator retries jump ahead of bulk runs so a retry is not stuck behind
// another tenant's large campaign.
func PriorityValue(reason JobReason) uint8 {
	switch reason {
	case JobReasonRetry:
		return 3
	case JobReasonStart, JobReasonResume:
		return 2
	case JobReasonScheduled, JobReasonContinue:
		return 1
	default:
		return 0
	}
}
