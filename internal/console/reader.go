// SPDX-License-Identifier: MPL-2.0

package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
)

// StreamReader is a LineReader over a plain stream that prints prompts to
// out. Reads stop when ctx is done even if the stream blocks.
type StreamReader struct {
	ctx   context.Context
	out   io.Writer
	lines <-chan string
}

// NewStreamReader starts reading r in the background.
func NewStreamReader(ctx context.Context, r io.Reader, out io.Writer) *StreamReader {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			slog.Debug("reading input failed", "error", err)
		}
	}()
	return &StreamReader{ctx: ctx, out: out, lines: ch}
}

// ReadLine prints prompt and returns the next line.
func (s *StreamReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	select {
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}
