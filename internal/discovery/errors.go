package discovery

import "fmt"

// SocketSetupError reports a failure to prepare the probe socket. It aborts the whole round.
type SocketSetupError struct {
	Operation string
	Err       error
}

func (e *SocketSetupError) Error() string {
	return fmt.Sprintf("discovery socket %s failed: %v", e.Operation, e.Err)
}

func (e *SocketSetupError) Unwrap() error {
	return e.Err
}
