package console

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Scheduler hands closures to the engine's main thread. Implementations
// must not run fn synchronously on the caller's goroutine unless the
// caller is the main thread.
type Scheduler interface {
	RunOnMainThread(fn func())
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(fn func())

// RunOnMainThread calls f(fn).
func (f SchedulerFunc) RunOnMainThread(fn func()) {
	f(fn)
}

// inlineScheduler runs closures immediately. It is the fallback when a
// console has no engine attached.
var inlineScheduler = SchedulerFunc(func(fn func()) { fn() })

// MainQueue is a FIFO of closures drained by the main thread once per
// frame. It is safe for concurrent use.
type MainQueue struct {
	mu      sync.Mutex
	pending []func()
}

// NewMainQueue returns an empty queue.
func NewMainQueue() *MainQueue {
	return &MainQueue{}
}

// RunOnMainThread enqueues fn.
func (q *MainQueue) RunOnMainThread(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// Drain runs every closure queued before the call, in enqueue order, on
// the calling goroutine and returns how many ran. Closures queued while
// draining run on the next call.
func (q *MainQueue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Len returns the number of queued closures.
func (q *MainQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DebugBuffer collects debug strings produced by the engine until the
// console broadcasts them to connected sessions.
type DebugBuffer struct {
	mu      sync.Mutex
	enabled bool
	pending []string
}

// NewDebugBuffer returns a disabled buffer.
func NewDebugBuffer() *DebugBuffer {
	return &DebugBuffer{}
}

// Enable turns collection on or off. Disabling drops pending strings.
func (b *DebugBuffer) Enable(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = on
	if !on {
		b.pending = nil
	}
}

// Enabled reports whether strings are being collected.
func (b *DebugBuffer) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// Append records msg when collection is enabled. A missing trailing
// newline is added.
func (b *DebugBuffer) Append(msg string) {
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled {
		b.pending = append(b.pending, msg)
	}
}

// Drain removes and returns the pending strings.
func (b *DebugBuffer) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// debugCore is a zapcore.Core writing console-encoded entries into a
// DebugBuffer, so engine logs reach remote sessions with debugmsg on.
type debugCore struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
	buf *DebugBuffer
}

// NewDebugCore returns a zap core feeding buf. Combine it with the
// engine's own core through zapcore.NewTee.
func NewDebugCore(buf *DebugBuffer, level zapcore.LevelEnabler) zapcore.Core {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	cfg.CallerKey = ""
	return &debugCore{
		LevelEnabler: level,
		enc:          zapcore.NewConsoleEncoder(cfg),
		buf:          buf,
	}
}

func (c *debugCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &debugCore{LevelEnabler: c.LevelEnabler, enc: enc, buf: c.buf}
}

func (c *debugCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) && c.buf.Enabled() {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *debugCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	out, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	c.buf.Append(out.String())
	out.Free()
	return nil
}

func (c *debugCore) Sync() error {
	return nil
}
