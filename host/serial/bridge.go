package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Processor consumes G-code a byte at a time and buffers its replies
type Processor interface {
	ProcessByteContext(ctx context.Context, b byte) error
	GetOutput() []byte
}

// Serve feeds everything read from rw into p and writes p's replies back
// after each byte. It returns nil once the reader reaches EOF, or the
// context error once ctx is done. Command errors have already been
// reported to the sender by p and do not stop the loop.
func Serve(ctx context.Context, rw io.ReadWriter, p Processor) error {
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := rw.Read(buf)
		for _, b := range buf[:n] {
			if perr := p.ProcessByteContext(ctx, b); perr != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			if out := p.GetOutput(); len(out) > 0 {
				if _, werr := rw.Write(out); werr != nil {
					return fmt.Errorf("write reply: %w", werr)
				}
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			// A final line without a newline still runs
			if perr := p.ProcessByteContext(ctx, '\n'); perr != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			if out := p.GetOutput(); len(out) > 0 {
				if _, werr := rw.Write(out); werr != nil {
					return fmt.Errorf("write reply: %w", werr)
				}
			}
			return nil
		case err != nil:
			return fmt.Errorf("read: %w", err)
		}
	}
}
