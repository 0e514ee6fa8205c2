package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/unicode"
)

// Stream identifies one of the worker's output streams.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// Tag is the short stream name used in errors and metrics.
func (s Stream) Tag() string {
	if s == Stderr {
		return "ERR"
	}
	return "OUT"
}

// Label is the console prefix for lines relayed from the stream.
func (s Stream) Label() string {
	if s == Stderr {
		return "WORKER-ERROR"
	}
	return "WORKER"
}

// RelayError reports a failed read on one stream. Only the affected unit stops.
type RelayError struct {
	Stream Stream
	Err    error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Stream.Tag(), e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// Hooks observe relayed traffic. Nil fields are skipped.
type Hooks struct {
	OnLine  func(Stream)
	OnError func(*RelayError)
}

// Copy forwards r to the console line by line until EOF. Invalid UTF-8 is
// replaced with U+FFFD, empty lines are dropped, and each line is written as
// soon as it is complete. A read on a closed pipe ends the copy without error.
func Copy(r io.Reader, s Stream, c *Console, h Hooks) error {
	dec := unicode.UTF8.NewDecoder()
	br := bufio.NewReader(r)
	for {
		chunk, readErr := br.ReadBytes('\n')
		if len(chunk) > 0 {
			if err := emit(dec.Bytes, chunk, s, c, h); err != nil {
				return relayFailure(s, err, h)
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, os.ErrClosed) {
			return nil
		}
		return relayFailure(s, readErr, h)
	}
}

func emit(decode func([]byte) ([]byte, error), chunk []byte, s Stream, c *Console, h Hooks) error {
	b, err := decode(chunk)
	if err != nil {
		b = []byte(strings.ToValidUTF8(string(chunk), "\uFFFD"))
	}
	line := strings.TrimRight(string(b), "\r\n")
	if line == "" {
		return nil
	}
	if err := c.WriteLine(s.Label(), line); err != nil {
		return err
	}
	if h.OnLine != nil {
		h.OnLine(s)
	}
	return nil
}

func relayFailure(s Stream, err error, h Hooks) error {
	re := &RelayError{Stream: s, Err: err}
	if h.OnError != nil {
		h.OnError(re)
	}
	return re
}

// Pair is the two relay units of one worker generation.
type Pair struct {
	g    errgroup.Group
	done chan struct{}
	err  error
}

// Start launches one unit per stream. The units are independent: a failure
// in one never stops the other.
func Start(stdout, stderr io.Reader, c *Console, h Hooks) *Pair {
	p := &Pair{done: make(chan struct{})}
	p.g.Go(func() error { return Copy(stdout, Stdout, c, h) })
	p.g.Go(func() error { return Copy(stderr, Stderr, c, h) })
	go func() {
		p.err = p.g.Wait()
		close(p.done)
	}()
	return p
}

// Done is closed once both units have returned.
func (p *Pair) Done() <-chan struct{} { return p.done }

// Wait joins both units and returns the first RelayError, if any.
func (p *Pair) Wait() error {
	<-p.done
	return p.err
}
