package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

// stdinOperator asks the person running the command to fix a problem and
// press Enter, typically after refreshing the BetterCodeHub session in the
// config file.
type stdinOperator struct {
	in  *bufio.Reader
	out io.Writer
}

func newStdinOperator(in io.Reader, out io.Writer) *stdinOperator {
	return &stdinOperator{in: bufio.NewReader(in), out: out}
}

func (o *stdinOperator) Pause(ctx context.Context, msg string) error {
	fmt.Fprintf(o.out, "%s\nPress Enter to continue... ", msg)
	done := make(chan error, 1)
	go func() {
		_, err := o.in.ReadString('\n')
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("no operator input: %w", err)
		}
		return err
	}
}
