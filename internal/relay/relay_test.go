package relay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes Console makes.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := strings.TrimRight(s.b.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestCopy_TagsAndOrder(t *testing.T) {
	var buf syncBuffer
	c := NewConsole(&buf)
	in := "first\nsecond\r\n\n\r\nthird"
	if err := Copy(strings.NewReader(in), Stdout, c, Hooks{}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	want := []string{"[WORKER] first", "[WORKER] second", "[WORKER] third"}
	got := buf.Lines()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestCopy_KeepsWhitespaceOnlyLines(t *testing.T) {
	var buf syncBuffer
	c := NewConsole(&buf)
	in := "a\n   \n\t\n\nb\n\xff\xfeok\n"
	if err := Copy(strings.NewReader(in), Stdout, c, Hooks{}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	want := []string{"[WORKER] a", "[WORKER]    ", "[WORKER] \t", "[WORKER] b"}
	got := buf.Lines()
	if len(got) != len(want)+1 || strings.Join(got[:len(want)], "|") != strings.Join(want, "|") {
		t.Fatalf("want %q then the replaced line, got %q", want, got)
	}
	if last := got[len(want)]; !strings.HasPrefix(last, "[WORKER] \uFFFD") || !strings.HasSuffix(last, "ok") {
		t.Fatalf("unexpected replaced line %q", last)
	}
}

func TestCopy_ReplacesInvalidBytes(t *testing.T) {
	var buf syncBuffer
	c := NewConsole(&buf)
	in := []byte("ok \xff\xfe done\n")
	if err := Copy(bytes.NewReader(in), Stderr, c, Hooks{}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	got := buf.Lines()
	if len(got) != 1 {
		t.Fatalf("expected one line, got %q", got)
	}
	if !strings.HasPrefix(got[0], "[WORKER-ERROR] ok ") || !strings.Contains(got[0], "\uFFFD") || !strings.HasSuffix(got[0], " done") {
		t.Fatalf("unexpected line %q", got[0])
	}
}

func TestCopy_ReadFailureIsRelayError(t *testing.T) {
	var buf syncBuffer
	var reported atomic.Int32
	boom := errors.New("broken pipe")
	r := io.MultiReader(strings.NewReader("partial line\n"), failingReader{err: boom})
	err := Copy(r, Stderr, NewConsole(&buf), Hooks{OnError: func(*RelayError) { reported.Add(1) }})

	var re *RelayError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RelayError, got %v", err)
	}
	if re.Stream != Stderr || !errors.Is(err, boom) {
		t.Fatalf("unexpected relay error %+v", re)
	}
	if reported.Load() != 1 {
		t.Fatalf("expected OnError once, got %d", reported.Load())
	}
	if got := buf.Lines(); len(got) != 1 || got[0] != "[WORKER-ERROR] partial line" {
		t.Fatalf("lines before the failure must be relayed, got %q", got)
	}
}

// Every line from both streams appears exactly once, unmerged, in per-stream order.
func TestStart_EveryLineExactlyOnce(t *testing.T) {
	const n = 500
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	var buf syncBuffer
	var lines atomic.Int64
	p := Start(outR, errR, NewConsole(&buf), Hooks{OnLine: func(Stream) { lines.Add(1) }})

	write := func(w *io.PipeWriter, prefix string) {
		for i := 0; i < n; i++ {
			_, _ = fmt.Fprintf(w, "%s-%03d\n", prefix, i)
		}
		_ = w.Close()
	}
	go write(outW, "out")
	go write(errW, "err")

	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	next := map[string]int{"out": 0, "err": 0}
	for _, line := range buf.Lines() {
		var tag, body string
		switch {
		case strings.HasPrefix(line, "[WORKER] "):
			tag, body = "out", strings.TrimPrefix(line, "[WORKER] ")
		case strings.HasPrefix(line, "[WORKER-ERROR] "):
			tag, body = "err", strings.TrimPrefix(line, "[WORKER-ERROR] ")
		default:
			t.Fatalf("untagged line %q", line)
		}
		want := fmt.Sprintf("%s-%03d", tag, next[tag])
		if body != want {
			t.Fatalf("expected %q, got %q", want, body)
		}
		next[tag]++
	}
	if next["out"] != n || next["err"] != n {
		t.Fatalf("expected %d lines per stream, got %v", n, next)
	}
	if lines.Load() != 2*n {
		t.Fatalf("OnLine called %d times", lines.Load())
	}
}

func TestStart_OneFailingStreamDoesNotStopTheOther(t *testing.T) {
	outR, outW := io.Pipe()
	var buf syncBuffer
	p := Start(outR, failingReader{err: errors.New("bad fd")}, NewConsole(&buf), Hooks{})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = io.WriteString(outW, "still flowing\n")
		_ = outW.Close()
	}()

	err := p.Wait()
	var re *RelayError
	if !errors.As(err, &re) || re.Stream != Stderr {
		t.Fatalf("expected stderr RelayError, got %v", err)
	}
	if got := buf.Lines(); len(got) != 1 || got[0] != "[WORKER] still flowing" {
		t.Fatalf("stdout unit must keep relaying, got %q", got)
	}
}

func TestConsole_WriterPrefixesEachLine(t *testing.T) {
	var buf syncBuffer
	w := NewConsole(&buf).Writer("RESPAWN")
	if _, err := io.WriteString(w, "level=INFO msg=a\nlevel=INFO msg=b\n"); err != nil {
		t.Fatal(err)
	}
	got := buf.Lines()
	if len(got) != 2 || got[0] != "[RESPAWN] level=INFO msg=a" || got[1] != "[RESPAWN] level=INFO msg=b" {
		t.Fatalf("unexpected output %q", got)
	}
}

type countingFlusher struct {
	bytes.Buffer
	flushes int
}

func (c *countingFlusher) Flush() error { c.flushes++; return nil }

func TestConsole_FlushesEveryLine(t *testing.T) {
	var out countingFlusher
	c := NewConsole(&out)
	_ = c.WriteLine("WORKER", "a")
	_ = c.WriteLine("WORKER", "b")
	if out.flushes != 2 {
		t.Fatalf("expected a flush per line, got %d", out.flushes)
	}
}
