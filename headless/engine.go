// Package headless is a windowless engine that hosts the debug console.
//
// Engine runs a fixed-rate frame loop on the goroutine that calls Run; that
// goroutine is the main thread. Every frame drains the engine's MainQueue, so
// console commands scheduled with RunOnMainThread run between frames and may
// touch engine state without locking. All capability methods must be called
// on the main thread.
package headless

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/crazyhappygame/axmol/console"
)

// Version is reported by the version command.
const Version = "axmol-headless 2.1"

// DefaultFrameInterval is 60 frames per second.
const DefaultFrameInterval = time.Second / 60

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Tee it with console.NewDebugCore to
// forward engine logs to remote sessions.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger
		}
	}
}

// WithFrameInterval sets the frame period.
func WithFrameInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.frameInterval = d
		}
	}
}

// WithWritablePath sets the directory uploads go to. It is also the first
// search path.
func WithWritablePath(dir string) Option {
	return func(e *Engine) { e.writablePath = dir }
}

// WithScene replaces the default scene.
func WithScene(root *Node) Option {
	return func(e *Engine) {
		if root != nil {
			e.scene = root
		}
	}
}

// Touch is an injected touch event.
type Touch struct {
	Kind   string // "tap" or "swipe"
	Points []Point
}

// Point is a position in design-resolution coordinates.
type Point struct {
	X, Y float64
}

// Engine is the headless engine.
type Engine struct {
	log   *zap.Logger
	queue *console.MainQueue

	frameInterval time.Duration
	writablePath  string

	frames atomic.Uint64

	endOnce sync.Once
	ended   chan struct{}

	// Main-thread state.
	paused     bool
	animating  bool
	stats      bool
	projection console.Projection
	resolution console.Resolution
	scene      *Node
	textures   map[string]Texture
	files      *fileCache
	touches    []Touch
}

// New creates an engine with a small default scene and texture set.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:           zap.NewNop(),
		queue:         console.NewMainQueue(),
		frameInterval: DefaultFrameInterval,
		ended:         make(chan struct{}),
		animating:     true,
		projection:    console.Projection3D,
		resolution:    console.Resolution{Width: 960, Height: 640, Policy: console.PolicyShowAll},
		scene:         defaultScene(),
		textures:      defaultTextures(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.files = newFileCache(e.writablePath)
	return e
}

// Scheduler returns the queue console commands use to reach the main
// thread.
func (e *Engine) Scheduler() console.Scheduler {
	return e.queue
}

// Frames returns the number of frames drawn so far. Safe from any
// goroutine.
func (e *Engine) Frames() uint64 {
	return e.frames.Load()
}

// Done is closed once End has been called.
func (e *Engine) Done() <-chan struct{} {
	return e.ended
}

// Run drives the frame loop on the calling goroutine until ctx is done or
// End is called. Queued closures still pending when it returns are run
// before returning.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.frameInterval)
	defer ticker.Stop()

	e.log.Info("engine started", zap.Duration("frame_interval", e.frameInterval))
	defer e.queue.Drain()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped", zap.Uint64("frames", e.Frames()))
			return nil
		case <-e.ended:
			e.log.Info("engine ended", zap.Uint64("frames", e.Frames()))
			return nil
		case <-ticker.C:
			e.frame()
		}
	}
}

// frame runs one main-loop iteration.
func (e *Engine) frame() {
	e.queue.Drain()
	if !e.animating {
		return
	}
	if !e.paused {
		e.scene.update()
	}
	e.frames.Add(1)
}

// Version implements console.Versioner.
func (e *Engine) Version() string {
	return Version
}

// Pause stops scheduled updates; frames are still counted.
func (e *Engine) Pause() {
	if e.paused {
		return
	}
	e.paused = true
	e.log.Info("director paused")
}

// Resume restarts scheduled updates.
func (e *Engine) Resume() {
	if !e.paused {
		return
	}
	e.paused = false
	e.log.Info("director resumed")
}

// Paused reports whether updates are paused.
func (e *Engine) Paused() bool {
	return e.paused
}

// StopAnimation stops the frame loop from drawing.
func (e *Engine) StopAnimation() {
	e.animating = false
	e.log.Info("animation stopped")
}

// StartAnimation resumes drawing.
func (e *Engine) StartAnimation() {
	e.animating = true
	e.log.Info("animation started")
}

// Animating reports whether frames are drawn.
func (e *Engine) Animating() bool {
	return e.animating
}

// End makes Run return. Safe from any goroutine.
func (e *Engine) End() {
	e.endOnce.Do(func() {
		e.log.Info("director end requested")
		close(e.ended)
	})
}

func (e *Engine) DisplayStats() bool {
	return e.stats
}

func (e *Engine) SetDisplayStats(on bool) {
	e.stats = on
	e.log.Info("display stats changed", zap.Bool("on", on))
}

func (e *Engine) Projection() console.Projection {
	return e.projection
}

func (e *Engine) SetProjection(p console.Projection) {
	e.projection = p
	e.log.Info("projection changed", zap.String("projection", string(p)))
}

func (e *Engine) Resolution() console.Resolution {
	return e.resolution
}

func (e *Engine) SetResolution(r console.Resolution) {
	e.resolution = r
	e.log.Info("design resolution changed",
		zap.Float64("width", r.Width),
		zap.Float64("height", r.Height),
		zap.Stringer("policy", r.Policy))
}

// SceneGraph renders the scene as an indented tree.
func (e *Engine) SceneGraph() string {
	var b strings.Builder
	e.scene.dump(&b, 0)
	fmt.Fprintf(&b, "Total Nodes: %d\n", e.scene.count())
	return b.String()
}

// Tap records a tap and reports the topmost node under it.
func (e *Engine) Tap(x, y float64) {
	e.touches = append(e.touches, Touch{Kind: "tap", Points: []Point{{x, y}}})
	fields := []zap.Field{zap.Float64("x", x), zap.Float64("y", y)}
	if n := e.scene.hit(x, y); n != nil {
		fields = append(fields, zap.String("node", n.Name))
	}
	e.log.Info("touch tap", fields...)
}

// Swipe records a swipe.
func (e *Engine) Swipe(x1, y1, x2, y2 float64) {
	e.touches = append(e.touches, Touch{Kind: "swipe", Points: []Point{{x1, y1}, {x2, y2}}})
	e.log.Info("touch swipe",
		zap.Float64("x1", x1), zap.Float64("y1", y1),
		zap.Float64("x2", x2), zap.Float64("y2", y2))
}

// Touches returns the injected touches in order.
func (e *Engine) Touches() []Touch {
	return append([]Touch(nil), e.touches...)
}

// WritablePath implements console.WritablePather.
func (e *Engine) WritablePath() string {
	return e.writablePath
}

// FullPath resolves name against the search paths, caching the result.
func (e *Engine) FullPath(name string) (string, bool) {
	return e.files.lookup(name)
}

func (e *Engine) FileCacheInfo() string {
	return e.files.info()
}

func (e *Engine) FlushFileCache() {
	n := e.files.flush()
	e.log.Info("file lookup cache purged", zap.Int("entries", n))
}

// engineConfig is the subset of engine state printed by the config command.
type engineConfig struct {
	Version       string        `yaml:"version"`
	FrameInterval time.Duration `yaml:"frame_interval"`
	Frames        uint64        `yaml:"frames"`
	Paused        bool          `yaml:"paused"`
	Animating     bool          `yaml:"animating"`
	DisplayStats  bool          `yaml:"display_stats"`
	Projection    string        `yaml:"projection"`
	Resolution    string        `yaml:"design_resolution"`
	Policy        string        `yaml:"resolution_policy"`
	WritablePath  string        `yaml:"writable_path"`
	GoVersion     string        `yaml:"go_version"`
	Platform      string        `yaml:"platform"`
}

// ConfigInfo dumps the engine configuration as YAML.
func (e *Engine) ConfigInfo() string {
	out, err := yaml.Marshal(engineConfig{
		Version:       Version,
		FrameInterval: e.frameInterval,
		Frames:        e.Frames(),
		Paused:        e.paused,
		Animating:     e.animating,
		DisplayStats:  e.stats,
		Projection:    string(e.projection),
		Resolution:    fmt.Sprintf("%gx%g", e.resolution.Width, e.resolution.Height),
		Policy:        e.resolution.Policy.String(),
		WritablePath:  e.writablePath,
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
	})
	if err != nil {
		return fmt.Sprintf("config unavailable: %v\n", err)
	}
	return string(out)
}

// AllocatorInfo reports Go heap statistics.
func (e *Engine) AllocatorInfo() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return fmt.Sprintf(
		"heap alloc: %d KB\nheap objects: %d\ntotal alloc: %d KB\nsys: %d KB\ngc cycles: %d\ngoroutines: %d\n",
		m.HeapAlloc/1024, m.HeapObjects, m.TotalAlloc/1024, m.Sys/1024, m.NumGC, runtime.NumGoroutine())
}

// fileCache memoizes search-path lookups.
type fileCache struct {
	searchPaths []string
	entries     map[string]string
}

func newFileCache(writable string) *fileCache {
	fc := &fileCache{entries: make(map[string]string)}
	if writable != "" {
		fc.searchPaths = append(fc.searchPaths, writable)
	}
	return fc
}

func (fc *fileCache) lookup(name string) (string, bool) {
	if full, ok := fc.entries[name]; ok {
		return full, true
	}
	for _, dir := range fc.searchPaths {
		full := filepath.Join(dir, name)
		if fileExists(full) {
			fc.entries[name] = full
			return full, true
		}
	}
	return "", false
}

func (fc *fileCache) flush() int {
	n := len(fc.entries)
	clear(fc.entries)
	return n
}

func (fc *fileCache) info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "search paths: %s\n", strings.Join(fc.searchPaths, ", "))
	names := make([]string, 0, len(fc.entries))
	for name := range fc.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\t%s => %s\n", name, fc.entries[name])
	}
	fmt.Fprintf(&b, "cached lookups: %d\n", len(names))
	return b.String()
}
