package events

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ojobatch/ojo/pkg/models"
)

// Batching thresholds. Streaming LLM output produces one line per chunk;
// batching keeps the bus and the log file from being hammered per chunk.
const (
	busBatchSize  = 20
	busBatchDelay = 200 * time.Millisecond

	fileBatchSize  = 50
	fileBatchDelay = 1 * time.Second
)

// criticalMarkers force an immediate flush so stage transitions and
// terminal lines are never delayed behind the batch timer.
var criticalMarkers = []string{
	"[fetch]", "[gen]", "[upload]", "[solve]",
	"✓", "✗", "⚠",
	"retry exceeded", "cancelled", "任务被取消",
}

// LogBatcher collects high-frequency log lines for one (task, problem)
// pair, publishing them to the event bus in batches and appending them to
// the workspace pipeline.log through a buffered writer.
//
// Close force-flushes both sinks; it must be called on task termination.
type LogBatcher struct {
	bus       *Bus
	taskID    int64
	userID    int64
	problemID string
	stage     string

	mu      sync.Mutex
	pending []string
	timer   *time.Timer

	file      *os.File
	writer    *bufio.Writer
	fileLines int
	lastFsync time.Time

	closed bool
}

// NewLogBatcher opens (appending) the pipeline log at logPath and returns
// a batcher bound to the given task. A logPath of "" disables file output.
func NewLogBatcher(bus *Bus, taskID, userID int64, problemID, logPath string) (*LogBatcher, error) {
	b := &LogBatcher{
		bus:       bus,
		taskID:    taskID,
		userID:    userID,
		problemID: problemID,
		lastFsync: time.Now(),
	}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		b.file = f
		b.writer = bufio.NewWriter(f)
	}
	return b, nil
}

// SetStage tags subsequent batches with the current pipeline stage.
func (b *LogBatcher) SetStage(stage string) {
	b.mu.Lock()
	b.stage = stage
	b.mu.Unlock()
}

// Log appends one line. Critical lines flush the bus batch immediately.
func (b *LogBatcher) Log(line string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.pending = append(b.pending, line)
	b.writeFileLocked(line)

	switch {
	case isCritical(line), len(b.pending) >= busBatchSize:
		b.flushBusLocked()
	case b.timer == nil:
		b.timer = time.AfterFunc(busBatchDelay, b.timerFlush)
	}
	b.mu.Unlock()
}

// Logf is a convenience formatter over Log.
func (b *LogBatcher) Logf(format string, args ...any) {
	b.Log(fmt.Sprintf(format, args...))
}

// Flush force-flushes pending bus lines and the file buffer.
func (b *LogBatcher) Flush() {
	b.mu.Lock()
	b.flushBusLocked()
	b.flushFileLocked()
	b.mu.Unlock()
}

// Close flushes everything and releases the log file.
func (b *LogBatcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.flushBusLocked()
	b.flushFileLocked()
	if b.file != nil {
		if err := b.file.Close(); err != nil {
			slog.Warn("Closing pipeline log failed",
				"problem_id", b.problemID, "error", err)
		}
	}
	b.closed = true
}

func (b *LogBatcher) timerFlush() {
	b.mu.Lock()
	b.flushBusLocked()
	b.mu.Unlock()
}

// flushBusLocked publishes the pending batch as one task.progress event.
func (b *LogBatcher) flushBusLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	lines := b.pending
	b.pending = nil
	b.bus.Publish(models.ProgressEvent{
		Type:      EventTaskProgress,
		TaskID:    b.taskID,
		UserID:    b.userID,
		ProblemID: b.problemID,
		Stage:     b.stage,
		Logs:      lines,
	})
}

func (b *LogBatcher) writeFileLocked(line string) {
	if b.writer == nil {
		return
	}
	if _, err := b.writer.WriteString(line + "\n"); err != nil {
		slog.Warn("Writing pipeline log failed", "problem_id", b.problemID, "error", err)
		return
	}
	b.fileLines++
	if b.fileLines >= fileBatchSize || time.Since(b.lastFsync) >= fileBatchDelay {
		b.flushFileLocked()
	}
}

func (b *LogBatcher) flushFileLocked() {
	if b.writer == nil {
		return
	}
	if err := b.writer.Flush(); err != nil {
		slog.Warn("Flushing pipeline log failed", "problem_id", b.problemID, "error", err)
	}
	b.fileLines = 0
	b.lastFsync = time.Now()
}

func isCritical(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range criticalMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
