package queue

import "errors"

var (
	// ErrInvalidArgument covers a missing store or name, a bad config and an empty batch.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownLease means the caller no longer owns the message: the token
	// expired, was already acknowledged or never existed. Lease again.
	ErrUnknownLease = errors.New("unknown lease")
	// ErrDeadLetter wraps failures while moving a message to the dead-letter sink.
	ErrDeadLetter = errors.New("dead-letter forwarding failed")
)
