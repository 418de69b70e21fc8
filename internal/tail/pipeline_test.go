package tail

import (
	"sync"
	"testing"
)

// collectSink records every line it receives.
type collectSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *collectSink) HandleLine(line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

func (s *collectSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func TestPipeline_FeedAndSink(t *testing.T) {
	p := NewPipeline("log", 10, 0.01)
	sink := &collectSink{}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.RunSink(sink)
	}()

	p.FeedLine("one")
	p.FeedLine("two")
	p.FeedLine("three")
	p.CloseChannel()
	wg.Wait()

	lines := sink.Lines()
	if len(lines) != 3 {
		t.Fatalf("sink got %d lines, want 3", len(lines))
	}
	if lines[0] != "one" || lines[1] != "two" || lines[2] != "three" {
		t.Errorf("lines out of order: %v", lines)
	}

	read, dropped, sunk := p.Stats()
	if read != 3 || dropped != 0 || sunk != 3 {
		t.Errorf("Stats() = (%d, %d, %d), want (3, 0, 3)", read, dropped, sunk)
	}
}

func TestPipeline_DropsWhenFull(t *testing.T) {
	p := NewPipeline("log", 2, 0.01)

	// No sink running: channel fills after 2 lines.
	if !p.FeedLine("a") {
		t.Error("first line should be queued")
	}
	if !p.FeedLine("b") {
		t.Error("second line should be queued")
	}
	if p.FeedLine("c") {
		t.Error("third line should be dropped")
	}

	read, dropped, _ := p.Stats()
	if read != 3 {
		t.Errorf("read = %d, want 3", read)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestPipeline_IsDegraded(t *testing.T) {
	p := NewPipeline("log", 1, 0.25)

	p.FeedLine("kept")
	if p.IsDegraded() {
		t.Error("pipeline should not be degraded with no drops")
	}

	p.FeedLine("dropped1")
	// 1 of 2 dropped = 50% > 25% threshold
	if !p.IsDegraded() {
		t.Errorf("pipeline should be degraded, drop rate = %f", p.DropRate())
	}
}

func TestPipeline_CloseChannelIdempotent(t *testing.T) {
	p := NewPipeline("log", 10, 0.01)

	// Multiple closes must not panic.
	p.CloseChannel()
	p.CloseChannel()
	p.CloseChannel()
}

func TestPipeline_DefaultBufferSize(t *testing.T) {
	p := NewPipeline("log", 0, 0)
	if p.bufferSize != 1000 {
		t.Errorf("default buffer size = %d, want 1000", p.bufferSize)
	}
	if p.dropThreshold != 0.01 {
		t.Errorf("default drop threshold = %f, want 0.01", p.dropThreshold)
	}
}
