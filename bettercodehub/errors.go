package bettercodehub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Every failure reported by BetterCodeHub wraps ErrBetterCodeHub, and the
// narrower sentinels wrap their parents, so errors.Is matches up the chain.
var (
	ErrBetterCodeHub = errors.New("bettercodehub")

	ErrProjectNotSupported    = fmt.Errorf("%w: project not supported", ErrBetterCodeHub)
	ErrProjectExceedsLOCLimit = fmt.Errorf("%w: project exceeds the LOC limit", ErrProjectNotSupported)

	ErrStillProcessing         = fmt.Errorf("%w: still processing", ErrBetterCodeHub)
	ErrWrongSessionDetails     = fmt.Errorf("%w: session details are outdated", ErrBetterCodeHub)
	ErrWrongCommitReports      = fmt.Errorf("%w: report is for a different commit", ErrBetterCodeHub)
	ErrIncompleteCommitReports = fmt.Errorf("%w: report is incomplete", ErrBetterCodeHub)
)

// retryable is what RobustAnalyzeCommit tries again.
func retryable(err error) bool {
	return errors.Is(err, ErrStillProcessing) ||
		errors.Is(err, ErrWrongSessionDetails) ||
		errors.Is(err, ErrWrongCommitReports) ||
		errors.Is(err, ErrIncompleteCommitReports) ||
		transient(err)
}

// transient reports network failures that usually pass: timeouts, resets
// and connections dropped mid-response.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
