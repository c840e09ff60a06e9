package async

import "errors"

// ErrTimeout is returned by AwaitWithTimeout when the wait expires first.
var ErrTimeout = errors.New("async: await timed out")
