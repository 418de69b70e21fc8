package tail

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync/atomic"
	"time"
)

const (
	// DefaultPollInterval is how long the follower parks between reads when
	// the log file has no new data.
	DefaultPollInterval = 100 * time.Millisecond

	// readBufferSize is the chunk size for follow reads.
	readBufferSize = 64 * 1024

	// maxCarrySize bounds the partial-line carry buffer. A line longer than
	// this is fed to the pipeline in pieces rather than growing unbounded.
	maxCarrySize = 1024 * 1024

	// pollJitterPct spreads poll wakeups by ±20% so concurrent harness
	// instances following separate logs do not synchronize their polls.
	pollJitterPct = 0.4
)

// Follower performs an unbounded, restartable follow-read over a growing
// log file. It never stops at end-of-file: it parks and waits for new bytes.
//
// Every byte is mirrored in order to the mirror writer; complete lines are
// additionally fed to the (lossy) pipeline for stats and display.
//
// The follow loop ends in exactly three ways:
//   - the exited channel fires (child gone): remaining bytes are drained,
//     then Run returns nil;
//   - the read or mirror write fails: Run returns the error;
//   - the context is cancelled: Run returns ctx.Err().
type Follower struct {
	path         string
	mirror       io.Writer
	pipeline     *Pipeline
	pollInterval time.Duration
	rng          *rand.Rand

	carry []byte

	// Stats (atomic for concurrent reads)
	bytesRead atomic.Int64
	linesRead atomic.Int64
	failed    atomic.Bool
}

// NewFollower creates a follower for the given log file path.
// mirror may be nil to disable the raw mirror path.
func NewFollower(path string, mirror io.Writer, pipeline *Pipeline, pollInterval time.Duration) *Follower {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Follower{
		path:         path,
		mirror:       mirror,
		pipeline:     pipeline,
		pollInterval: pollInterval,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run follows the log file until the child exits, the read fails, or the
// context is cancelled. Blocks; run it in the foreground.
//
// Closes the pipeline channel on exit so sink goroutines terminate.
func (f *Follower) Run(ctx context.Context, exited <-chan struct{}) error {
	defer f.pipeline.CloseChannel()

	file, err := os.Open(f.path)
	if err != nil {
		f.failed.Store(true)
		return fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	buf := make([]byte, readBufferSize)
	for {
		// Check cancellation every iteration: a fast-appending child can
		// keep the reads hot for a long time without ever reaching the
		// end-of-file select below.
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		n, err := file.Read(buf)
		if n > 0 {
			if cerr := f.consume(buf[:n]); cerr != nil {
				f.failed.Store(true)
				return cerr
			}
		}
		if err != nil && err != io.EOF {
			f.failed.Store(true)
			return fmt.Errorf("read log: %w", err)
		}
		if err == nil {
			// More may be immediately available; keep reading.
			continue
		}

		// At end-of-file: park until new data, child exit, or cancellation.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			// The child is gone and will write no more. Drain what is left
			// so final diagnostic output is not dropped, then stop.
			if derr := f.drainRemaining(file, buf); derr != nil {
				f.failed.Store(true)
				return derr
			}
			f.flushCarry()
			return nil
		case <-time.After(f.nextPoll()):
		}
	}
}

// drainRemaining reads until end-of-file after the child has exited.
func (f *Follower) drainRemaining(file *os.File, buf []byte) error {
	for {
		n, err := file.Read(buf)
		if n > 0 {
			if cerr := f.consume(buf[:n]); cerr != nil {
				return cerr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}
	}
}

// consume mirrors a chunk and feeds complete lines to the pipeline.
func (f *Follower) consume(chunk []byte) error {
	if f.mirror != nil {
		if _, err := f.mirror.Write(chunk); err != nil {
			return fmt.Errorf("mirror log: %w", err)
		}
	}
	f.bytesRead.Add(int64(len(chunk)))

	f.carry = append(f.carry, chunk...)
	for {
		idx := -1
		for i, b := range f.carry {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		f.feedLine(string(f.carry[:idx]))
		f.carry = f.carry[idx+1:]
	}

	// A pathological line with no newline: feed it in pieces.
	if len(f.carry) > maxCarrySize {
		f.feedLine(string(f.carry))
		f.carry = f.carry[:0]
	}
	return nil
}

// flushCarry feeds a trailing partial line, if any.
func (f *Follower) flushCarry() {
	if len(f.carry) > 0 {
		f.feedLine(string(f.carry))
		f.carry = f.carry[:0]
	}
}

func (f *Follower) feedLine(line string) {
	f.linesRead.Add(1)
	f.pipeline.FeedLine(line)
}

// nextPoll returns the poll interval with per-instance jitter applied.
func (f *Follower) nextPoll() time.Duration {
	base := float64(f.pollInterval)
	jitterRange := base * pollJitterPct
	jitter := jitterRange*f.rng.Float64() - jitterRange/2
	return time.Duration(base + jitter)
}

// Stats returns (bytesRead, linesRead, healthy).
func (f *Follower) Stats() (bytesRead int64, linesRead int64, healthy bool) {
	return f.bytesRead.Load(),
		f.linesRead.Load(),
		!f.failed.Load()
}
