package relay

import (
	"bytes"
	"io"
	"sync"
)

// Console serialises whole-line writes from the relay units and the
// supervisor's own log handler onto one output.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console { return &Console{w: w} }

type flusher interface{ Flush() error }

// WriteLine writes "[label] text\n" atomically and flushes the output when it
// supports flushing.
func (c *Console) WriteLine(label, text string) error {
	buf := make([]byte, 0, len(label)+len(text)+4)
	buf = append(buf, '[')
	buf = append(buf, label...)
	buf = append(buf, "] "...)
	buf = append(buf, text...)
	buf = append(buf, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(buf); err != nil {
		return err
	}
	if f, ok := c.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Writer returns an io.Writer that prefixes every line written to it with
// label. It is meant for log handlers, which emit one record per Write.
func (c *Console) Writer(label string) io.Writer {
	return &labelWriter{c: c, label: label}
}

type labelWriter struct {
	c     *Console
	label string
}

func (l *labelWriter) Write(p []byte) (int, error) {
	rest := bytes.TrimRight(p, "\n")
	for len(rest) > 0 {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			rest = nil
		}
		if err := l.c.WriteLine(l.label, string(line)); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
