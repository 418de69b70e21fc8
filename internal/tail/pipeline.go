// Package tail implements the follow-read over the server log file.
//
// The log stream has two consumers with very different requirements:
//
//   - the mirror path, which must see every byte the server writes, in order,
//     and is written synchronously from the follow loop; and
//   - the line consumers (stats, TUI, classifier), which are best-effort.
//
// The Pipeline decouples the line consumers from the follow loop. Lines are
// queued on a bounded channel with a non-blocking send; if a consumer cannot
// keep up, lines are dropped and counted rather than stalling the mirror.
package tail

import (
	"sync"
	"sync/atomic"
)

// LineSink consumes complete log lines from a Pipeline.
type LineSink interface {
	HandleLine(line string)
}

// Pipeline is a bounded, lossy channel of log lines.
type Pipeline struct {
	name       string
	bufferSize int

	lineChan  chan string
	closeOnce sync.Once

	// Health counters (atomic for concurrent access)
	linesRead    int64
	linesDropped int64
	linesSunk    int64

	dropThreshold float64
}

// NewPipeline creates a lossy line pipeline.
//
// bufferSize is the channel capacity in lines; dropThreshold is the fraction
// (0.0-1.0) of dropped lines above which the pipeline reports degradation.
func NewPipeline(name string, bufferSize int, dropThreshold float64) *Pipeline {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01
	}

	return &Pipeline{
		name:          name,
		bufferSize:    bufferSize,
		lineChan:      make(chan string, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// FeedLine queues a line for the sink. Never blocks.
// Returns true if queued, false if dropped (channel full).
func (p *Pipeline) FeedLine(line string) bool {
	atomic.AddInt64(&p.linesRead, 1)

	select {
	case p.lineChan <- line:
		return true
	default:
		atomic.AddInt64(&p.linesDropped, 1)
		return false
	}
}

// CloseChannel closes the line channel, signaling the sink to stop.
//
// The Follower calls this when the stream ends. It is the sole mechanism for
// sink goroutine termination; failure to call it leaks the sink goroutine.
// Safe to call multiple times.
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// RunSink consumes lines until the channel is closed.
// Must run in a dedicated goroutine.
func (p *Pipeline) RunSink(sink LineSink) {
	for line := range p.lineChan {
		sink.HandleLine(line)
		atomic.AddInt64(&p.linesSunk, 1)
	}
}

// Stats returns pipeline health counters: lines fed, dropped, and consumed.
func (p *Pipeline) Stats() (read, dropped, sunk int64) {
	return atomic.LoadInt64(&p.linesRead),
		atomic.LoadInt64(&p.linesDropped),
		atomic.LoadInt64(&p.linesSunk)
}

// DropRate returns the current drop rate as a fraction (0.0 to 1.0).
func (p *Pipeline) DropRate() float64 {
	read := atomic.LoadInt64(&p.linesRead)
	if read == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&p.linesDropped)) / float64(read)
}

// IsDegraded returns true if the drop rate exceeds the configured threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > p.dropThreshold
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// NoopSink is a sink that discards every line.
type NoopSink struct{}

// HandleLine does nothing.
func (NoopSink) HandleLine(string) {}

// MultiSink fans one line out to several sinks, in order.
//
// A Pipeline supports exactly one RunSink consumer; wrap multiple consumers
// in a MultiSink rather than starting a second RunSink, which would split
// the stream between them.
type MultiSink []LineSink

// HandleLine passes the line to every sink.
func (m MultiSink) HandleLine(line string) {
	for _, sink := range m {
		sink.HandleLine(line)
	}
}
