package engine

import "errors"

var (
	// ErrConnectivity marks a node run that exhausted provider retries
	// without accumulating any response. It re-enters the execution
	// stream's outer backoff path instead of consuming judge iterations.
	ErrConnectivity = errors.New("connectivity failure")

	// ErrIterationLimit marks a node that spent its iteration budget
	// without satisfying the judge.
	ErrIterationLimit = errors.New("node iteration limit exceeded")

	// ErrFatalProvider marks a non-transient provider failure.
	ErrFatalProvider = errors.New("fatal provider error")
)
