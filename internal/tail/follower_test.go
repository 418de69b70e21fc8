package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a bytes.Buffer safe for concurrent Write/String.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// failingWriter fails on every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("terminal gone")
}

// slowWriter accepts every write after a fixed delay, simulating a mirror
// destination that cannot keep up with a chatty server.
type slowWriter struct {
	delay time.Duration
}

func (w slowWriter) Write(p []byte) (int, error) {
	time.Sleep(w.delay)
	return len(p), nil
}

func newTestLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("creating log file: %v", err)
	}
	return path
}

func TestFollower_DrainsAllLinesInOrder(t *testing.T) {
	path := newTestLog(t)

	const n = 50
	var content bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&content, "line %d\n", i)
	}
	if err := os.WriteFile(path, content.Bytes(), 0o644); err != nil {
		t.Fatalf("writing log: %v", err)
	}

	mirror := &syncBuffer{}
	pipeline := NewPipeline("log", 100, 0.01)
	sink := &collectSink{}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.RunSink(sink)
	}()

	exited := make(chan struct{})
	close(exited) // Child already gone: follower should drain and return.

	f := NewFollower(path, mirror, pipeline, 10*time.Millisecond)
	if err := f.Run(context.Background(), exited); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	wg.Wait()

	lines := sink.Lines()
	if len(lines) != n {
		t.Fatalf("sink got %d lines, want %d", len(lines), n)
	}
	for i, line := range lines {
		want := fmt.Sprintf("line %d", i)
		if line != want {
			t.Fatalf("lines[%d] = %q, want %q", i, line, want)
		}
	}

	if mirror.String() != content.String() {
		t.Error("mirror should carry the exact log bytes")
	}

	bytesRead, linesRead, healthy := f.Stats()
	if bytesRead != int64(content.Len()) {
		t.Errorf("bytesRead = %d, want %d", bytesRead, content.Len())
	}
	if linesRead != n {
		t.Errorf("linesRead = %d, want %d", linesRead, n)
	}
	if !healthy {
		t.Error("follower should be healthy after clean drain")
	}
}

func TestFollower_SeesAppendsWhileRunning(t *testing.T) {
	path := newTestLog(t)

	mirror := &syncBuffer{}
	pipeline := NewPipeline("log", 100, 0.01)
	sink := &collectSink{}
	go pipeline.RunSink(sink)

	exited := make(chan struct{})
	f := NewFollower(path, mirror, pipeline, 5*time.Millisecond)

	runErr := make(chan error, 1)
	go func() {
		runErr <- f.Run(context.Background(), exited)
	}()

	// Append in two bursts with a pause, like a live server.
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("opening log for append: %v", err)
	}
	fmt.Fprintln(file, "first burst")
	time.Sleep(50 * time.Millisecond)
	fmt.Fprintln(file, "second burst")
	file.Close()

	time.Sleep(50 * time.Millisecond)
	close(exited)

	if err := <-runErr; err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		lines := sink.Lines()
		if len(lines) >= 2 {
			if lines[0] != "first burst" || lines[1] != "second burst" {
				t.Fatalf("unexpected lines: %v", lines)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for lines, got %v", sink.Lines())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFollower_ContextCancel(t *testing.T) {
	path := newTestLog(t)

	pipeline := NewPipeline("log", 10, 0.01)
	go pipeline.RunSink(NoopSink{})

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFollower(path, nil, pipeline, 5*time.Millisecond)

	runErr := make(chan error, 1)
	go func() {
		runErr <- f.Run(ctx, make(chan struct{}))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancel")
	}
}

func TestFollower_CancelPromptMidStream(t *testing.T) {
	path := newTestLog(t)

	// Enough backlog that draining it through the slow mirror takes far
	// longer than the cancellation deadline below. Cancellation must not
	// wait for end-of-file.
	chunk := bytes.Repeat([]byte("spam line from a chatty server\n"), 2048)
	var content bytes.Buffer
	for i := 0; i < 32; i++ {
		content.Write(chunk)
	}
	if err := os.WriteFile(path, content.Bytes(), 0o644); err != nil {
		t.Fatalf("writing log: %v", err)
	}

	pipeline := NewPipeline("log", 10, 0.01)
	go pipeline.RunSink(NoopSink{})

	ctx, cancel := context.WithCancel(context.Background())
	f := NewFollower(path, slowWriter{delay: 25 * time.Millisecond}, pipeline, 5*time.Millisecond)

	runErr := make(chan error, 1)
	go func() {
		runErr <- f.Run(ctx, make(chan struct{}))
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Run() kept streaming backlog after context cancel")
	}
}

func TestFollower_MissingFile(t *testing.T) {
	pipeline := NewPipeline("log", 10, 0.01)

	f := NewFollower(filepath.Join(t.TempDir(), "nope.log"), nil, pipeline, time.Millisecond)
	err := f.Run(context.Background(), make(chan struct{}))
	if err == nil {
		t.Fatal("Run() should fail for missing file")
	}

	_, _, healthy := f.Stats()
	if healthy {
		t.Error("follower should be unhealthy after open failure")
	}
}

func TestFollower_MirrorWriteFailure(t *testing.T) {
	path := newTestLog(t)
	if err := os.WriteFile(path, []byte("doomed output\n"), 0o644); err != nil {
		t.Fatalf("writing log: %v", err)
	}

	pipeline := NewPipeline("log", 10, 0.01)
	f := NewFollower(path, failingWriter{}, pipeline, time.Millisecond)

	err := f.Run(context.Background(), make(chan struct{}))
	if err == nil {
		t.Fatal("Run() should fail when the mirror write fails")
	}

	_, _, healthy := f.Stats()
	if healthy {
		t.Error("follower should be unhealthy after mirror failure")
	}
}

func TestFollower_TrailingPartialLine(t *testing.T) {
	path := newTestLog(t)
	// Final line has no newline; it must still reach the sink.
	if err := os.WriteFile(path, []byte("complete\npartial"), 0o644); err != nil {
		t.Fatalf("writing log: %v", err)
	}

	pipeline := NewPipeline("log", 10, 0.01)
	sink := &collectSink{}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.RunSink(sink)
	}()

	exited := make(chan struct{})
	close(exited)

	f := NewFollower(path, nil, pipeline, time.Millisecond)
	if err := f.Run(context.Background(), exited); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	wg.Wait()

	lines := sink.Lines()
	if len(lines) != 2 {
		t.Fatalf("sink got %d lines, want 2: %v", len(lines), lines)
	}
	if lines[1] != "partial" {
		t.Errorf("final partial line = %q, want %q", lines[1], "partial")
	}
}

func TestFollower_NextPollJitter(t *testing.T) {
	pipeline := NewPipeline("log", 10, 0.01)
	f := NewFollower("unused", nil, pipeline, 100*time.Millisecond)

	// Jitter is ±20%: every sample must land in [80ms, 120ms].
	for i := 0; i < 100; i++ {
		d := f.nextPoll()
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("nextPoll() = %v, outside jitter bounds", d)
		}
	}
}
