package console

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine implements every capability and records what it was asked.
type fakeEngine struct {
	paused, stopped, ended bool
	stats                  bool
	projection             Projection
	resolution             Resolution
	taps                   [][2]float64
	swipes                 [][4]float64
	texturesFlushed        int
	filesFlushed           int
	writable               string
}

func (e *fakeEngine) Version() string            { return "axmol-2.1" }
func (e *fakeEngine) Pause()                     { e.paused = true }
func (e *fakeEngine) Resume()                    { e.paused = false }
func (e *fakeEngine) StopAnimation()             { e.stopped = true }
func (e *fakeEngine) StartAnimation()            { e.stopped = false }
func (e *fakeEngine) End()                       { e.ended = true }
func (e *fakeEngine) DisplayStats() bool         { return e.stats }
func (e *fakeEngine) SetDisplayStats(on bool)    { e.stats = on }
func (e *fakeEngine) Projection() Projection     { return e.projection }
func (e *fakeEngine) SetProjection(p Projection) { e.projection = p }
func (e *fakeEngine) Resolution() Resolution     { return e.resolution }
func (e *fakeEngine) SetResolution(r Resolution) { e.resolution = r }
func (e *fakeEngine) SceneGraph() string         { return "Scene\n  Sprite" }
func (e *fakeEngine) TextureInfo() string        { return "textures: 3" }
func (e *fakeEngine) FlushTextures()             { e.texturesFlushed++ }
func (e *fakeEngine) FileCacheInfo() string      { return "search paths: 1\n" }
func (e *fakeEngine) FlushFileCache()            { e.filesFlushed++ }
func (e *fakeEngine) ConfigInfo() string         { return "gl.max_texture_size: 4096" }
func (e *fakeEngine) Tap(x, y float64)           { e.taps = append(e.taps, [2]float64{x, y}) }
func (e *fakeEngine) Swipe(a, b, c, d float64)   { e.swipes = append(e.swipes, [4]float64{a, b, c, d}) }
func (e *fakeEngine) WritablePath() string       { return e.writable }
func (e *fakeEngine) AllocatorInfo() string      { return "allocations: 0" }

type builtinsHarness struct {
	c      *Console
	queue  *MainQueue
	engine *fakeEngine
}

func newBuiltinsHarness(t *testing.T) *builtinsHarness {
	t.Helper()
	h := &builtinsHarness{
		queue:  NewMainQueue(),
		engine: &fakeEngine{projection: Projection3D, writable: t.TempDir()},
	}
	h.c = New(WithScheduler(h.queue))
	RegisterBuiltins(h.c, h.engine)
	return h
}

// run dispatches line and then drains the main queue, like one frame.
func (h *builtinsHarness) run(line string) string {
	s, out := newTestSession()
	h.c.Dispatcher().Dispatch(s, line)
	h.queue.Drain()
	return out.String()
}

func TestRegisterBuiltinsWithoutEngine(t *testing.T) {
	c := New()
	RegisterBuiltins(c, nil)
	assert.Equal(t, []string{"debugmsg", "exit", "help", "version"}, c.Registry().Names())
}

func TestRegisterBuiltinsWithEngine(t *testing.T) {
	h := newBuiltinsHarness(t)
	assert.Equal(t, []string{
		"allocator", "config", "debugmsg", "director", "exit", "fileutils", "fps", "help",
		"projection", "resolution", "scenegraph", "texture", "touch", "upload", "version",
	}, h.c.Registry().Names())
}

func TestBuiltinsRunOnMainThread(t *testing.T) {
	h := newBuiltinsHarness(t)

	s, _ := newTestSession()
	h.c.Dispatcher().Dispatch(s, "director pause")
	assert.False(t, h.engine.paused, "engine touched before the frame drained")
	assert.Equal(t, 1, h.queue.Len())

	h.queue.Drain()
	assert.True(t, h.engine.paused)
}

func TestBuiltinDirector(t *testing.T) {
	h := newBuiltinsHarness(t)

	h.run("director pause")
	assert.True(t, h.engine.paused)
	h.run("director resume")
	assert.False(t, h.engine.paused)
	h.run("director stop")
	assert.True(t, h.engine.stopped)
	h.run("director start")
	assert.False(t, h.engine.stopped)
	h.run("director end")
	assert.True(t, h.engine.ended)

	assert.Contains(t, h.run("director"), "\tpause")
}

func TestBuiltinQueries(t *testing.T) {
	h := newBuiltinsHarness(t)

	tests := []struct {
		line string
		want string
	}{
		{"version", "axmol-2.1\n"},
		{"fps", "FPS is: off\n"},
		{"fps on | fps", "FPS is: on\n"},
		{"projection", "Current projection: 3d\n"},
		{"projection 2d | projection", "Current projection: 2d\n"},
		{"scenegraph", "Scene\n  Sprite\n"},
		{"texture", "textures: 3\n"},
		{"fileutils", "search paths: 1\n"},
		{"config", "gl.max_texture_size: 4096\n"},
		{"allocator", "allocations: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, h.run(tt.line))
		})
	}
}

func TestBuiltinFlush(t *testing.T) {
	h := newBuiltinsHarness(t)
	h.run("texture flush | fileutils flush | fileutils flush")
	assert.Equal(t, 1, h.engine.texturesFlushed)
	assert.Equal(t, 2, h.engine.filesFlushed)
}

func TestBuiltinResolution(t *testing.T) {
	h := newBuiltinsHarness(t)

	assert.Empty(t, h.run("resolution 1280 720 2"))
	assert.Equal(t, Resolution{Width: 1280, Height: 720, Policy: PolicyShowAll}, h.engine.resolution)
	assert.Equal(t, "Design resolution: 1280 x 720\nResolution policy: showall\n", h.run("resolution"))

	for _, bad := range []string{"resolution 1280 720", "resolution wide 720 2", "resolution 1280 720 9", "resolution 0 720 1"} {
		assert.Contains(t, h.run(bad), "error: ", bad)
	}
	assert.Equal(t, PolicyShowAll, h.engine.resolution.Policy)
}

func TestBuiltinTouch(t *testing.T) {
	h := newBuiltinsHarness(t)

	h.run("touch tap 10 20.5")
	h.run("touch swipe 0 0 100 50")
	assert.Equal(t, [][2]float64{{10, 20.5}}, h.engine.taps)
	assert.Equal(t, [][4]float64{{0, 0, 100, 50}}, h.engine.swipes)

	assert.Equal(t, "error: invalid number 'y'\n", h.run("touch tap 1 y"))
	assert.Equal(t, "error: expected 4 numbers\n", h.run("touch swipe 1 2"))
	assert.Len(t, h.engine.taps, 1)
}

func TestBuiltinUpload(t *testing.T) {
	h := newBuiltinsHarness(t)
	data := base64.StdEncoding.EncodeToString([]byte("hello axmol"))

	assert.Equal(t, "uploaded notes.txt (11 bytes)\n", h.run("upload notes.txt "+data))
	got, err := os.ReadFile(filepath.Join(h.engine.writable, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello axmol", string(got))

	tests := []struct {
		line string
		want string
	}{
		{"upload", "error: usage: upload name base64data\n"},
		{"upload ../evil " + data, "error: invalid file name '../evil'\n"},
		{"upload .. " + data, "error: invalid file name '..'\n"},
		{`upload a\b ` + data, "error: invalid file name 'a\\b'\n"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, h.run(tt.line), tt.line)
	}
	assert.Contains(t, h.run("upload bad.bin !!!"), "error: decode bad.bin")
}

func TestBuiltinHelpAndExit(t *testing.T) {
	h := newBuiltinsHarness(t)

	assert.Contains(t, h.run("help"), "\ttouch")
	assert.Equal(t, "Unknown command: nope. Type 'help' for options\n", h.run("help nope"))
	assert.Contains(t, h.run("help touch"), "\tswipe")

	s, out := newTestSession()
	h.c.Dispatcher().Dispatch(s, "exit | version")
	assert.True(t, s.Closed())
	assert.Equal(t, "Bye!\n", out.String())
}

func TestResolutionPolicyString(t *testing.T) {
	assert.Equal(t, "exactfit", PolicyExactFit.String())
	assert.Equal(t, "fixedwidth", PolicyFixedWidth.String())
	assert.Equal(t, "unknown", ResolutionPolicy(42).String())
}
