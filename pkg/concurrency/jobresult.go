package concurrency

import (
	"context"
	"sync"
)

// JobResult is the read side of an asynchronous action: it carries the request
// that started it and, once settled, its result or error.
type JobResult[RequestType any, ResultType any] struct {
	request *RequestType
	result  *ResultType
	err     error
	once    sync.Once
	done    chan struct{}
}

// WritableJobResult is handed to the goroutine doing the work. Only it can
// settle the job.
type WritableJobResult[RequestType any, ResultType any] struct {
	*JobResult[RequestType, ResultType]
}

// Wait blocks until the job settles or ctx expires. An expired context does
// not cancel the job itself.
func (jr *JobResult[RequestType, ResultType]) Wait(ctx context.Context) (*ResultType, error) {
	select {
	case <-jr.done:
		if jr.err != nil {
			return nil, jr.err
		}
		return jr.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the job settled.
func (jr *JobResult[RequestType, ResultType]) Done() <-chan struct{} {
	return jr.done
}

// Settled reports whether a result is available without blocking.
func (jr *JobResult[RequestType, ResultType]) Settled() bool {
	select {
	case <-jr.done:
		return true
	default:
		return false
	}
}

func (jr *JobResult[RequestType, ResultType]) Request() *RequestType {
	return jr.request
}

func (jr *JobResult[RequestType, ResultType]) setResult(result ResultType, err error) bool {
	settled := false
	jr.once.Do(func() {
		jr.result = &result
		jr.err = err
		close(jr.done)
		settled = true
	})
	return settled
}

// SetResult settles the job. Only the first call wins; it reports whether this
// call was the one.
func (wjr *WritableJobResult[RequestType, ResultType]) SetResult(result ResultType, err error) bool {
	return wjr.JobResult.setResult(result, err)
}

// NewJobResult binds a request to a matched pair of JobResult and WritableJobResult
func NewJobResult[RequestType any, ResultType any](request RequestType) (*JobResult[RequestType, ResultType], *WritableJobResult[RequestType, ResultType]) {
	jr := &JobResult[RequestType, ResultType]{
		request: &request,
		done:    make(chan struct{}),
	}
	return jr, &WritableJobResult[RequestType, ResultType]{JobResult: jr}
}
