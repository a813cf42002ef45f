package nodequeue

import "errors"

// QueueError implements errors unique to the evaluation queue.
type QueueError struct {
	Op  string
	Err error
}

// Error satisifes the error interface
func (e *QueueError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

var errConsumerInactive error = errors.New("consumer is not active")

var errNoBatchReady = errors.New("no full batch is ready")

// IsConsumerInactive returns whether or not an error reports that a
// submission was abandoned because the large-net consumer has been
// retired.
//
// Producers that see this error fall through: the node's enqueued flag
// has already been released and the position may be re-submitted once
// a consumer is active again.
func IsConsumerInactive(err error) bool {
	if queueErr, ok := err.(*QueueError); ok {
		err = queueErr.Err
	}
	return err == errConsumerInactive
}

// IsNoBatchReady returns whether or not an error reports that the
// queue's shadow slab holds no unclaimed full batch. Consumers treat
// this as a yield point, not a failure.
func IsNoBatchReady(err error) bool {
	if queueErr, ok := err.(*QueueError); ok {
		err = queueErr.Err
	}
	return err == errNoBatchReady
}
