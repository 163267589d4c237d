package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ChunkTransferError reports a chunk that could not be transferred after
// all retries. The committed offset is untouched, so a resumed job retries
// the same chunk.
type ChunkTransferError struct {
	Table    string
	Offset   int64
	Attempts int
	Err      error
}

func (e *ChunkTransferError) Error() string {
	return fmt.Sprintf("transferring %s chunk at offset %d failed after %d attempt(s): %v",
		e.Table, e.Offset, e.Attempts, e.Err)
}

func (e *ChunkTransferError) Unwrap() error { return e.Err }

// ConnectivityError marks an error as transient so callers retry it.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// isRetryable reports whether an error is worth retrying. Chunk timeouts
// count as transient; a cancelled context never does.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ce *ConnectivityError
	if errors.As(err, &ce) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"unexpected eof",
		"server closed",
		"too many connections",
		"deadlock",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
