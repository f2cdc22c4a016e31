package console

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// The engine is reached through small capability interfaces. RegisterBuiltins
// registers a command only when the engine implements the matching one.

// Versioner reports the engine version.
type Versioner interface {
	Version() string
}

// DirectorController drives the engine's main loop.
type DirectorController interface {
	Pause()
	Resume()
	StopAnimation()
	StartAnimation()
	End()
}

// StatsDisplay toggles the on-screen frame statistics.
type StatsDisplay interface {
	DisplayStats() bool
	SetDisplayStats(on bool)
}

// Projection is the camera projection mode.
type Projection string

// Projection modes.
const (
	Projection2D     Projection = "2d"
	Projection3D     Projection = "3d"
	ProjectionCustom Projection = "custom"
)

// Projector reads and changes the projection.
type Projector interface {
	Projection() Projection
	SetProjection(p Projection)
}

// ResolutionPolicy is how the design resolution maps onto the window.
type ResolutionPolicy int

// Resolution policies.
const (
	PolicyExactFit ResolutionPolicy = iota
	PolicyNoBorder
	PolicyShowAll
	PolicyFixedHeight
	PolicyFixedWidth
)

// String returns the policy name.
func (p ResolutionPolicy) String() string {
	switch p {
	case PolicyExactFit:
		return "exactfit"
	case PolicyNoBorder:
		return "noborder"
	case PolicyShowAll:
		return "showall"
	case PolicyFixedHeight:
		return "fixedheight"
	case PolicyFixedWidth:
		return "fixedwidth"
	default:
		return "unknown"
	}
}

// Resolution is a design resolution.
type Resolution struct {
	Width  float64
	Height float64
	Policy ResolutionPolicy
}

// ResolutionController reads and changes the design resolution.
type ResolutionController interface {
	Resolution() Resolution
	SetResolution(r Resolution)
}

// SceneGrapher dumps the scene graph as text.
type SceneGrapher interface {
	SceneGraph() string
}

// TextureCache reports on and flushes cached textures.
type TextureCache interface {
	TextureInfo() string
	FlushTextures()
}

// FileCache reports on and flushes the file lookup cache.
type FileCache interface {
	FileCacheInfo() string
	FlushFileCache()
}

// ConfigReporter dumps the engine configuration.
type ConfigReporter interface {
	ConfigInfo() string
}

// TouchInjector synthesizes touch input.
type TouchInjector interface {
	Tap(x, y float64)
	Swipe(x1, y1, x2, y2 float64)
}

// WritablePather names the directory uploads are written to.
type WritablePather interface {
	WritablePath() string
}

// AllocatorReporter dumps allocator statistics.
type AllocatorReporter interface {
	AllocatorInfo() string
}

// RegisterBuiltins registers the standard console commands. help, exit,
// version and debugmsg are always present; the rest depend on what engine
// implements. Engine calls are made through the console's scheduler.
func RegisterBuiltins(c *Console, engine any) {
	b := &builtins{c: c}

	c.AddCommand(NewCommand("help", "Print this message, or the help of one command", b.help))
	c.AddCommand(NewCommand("exit", "Close connection to the console", b.exit))
	c.AddCommand(b.version(engine))
	c.AddCommand(b.debugMsg())

	if e, ok := engine.(DirectorController); ok {
		c.AddCommand(b.director(e))
	}
	if e, ok := engine.(StatsDisplay); ok {
		c.AddCommand(b.fps(e))
	}
	if e, ok := engine.(Projector); ok {
		c.AddCommand(b.projection(e))
	}
	if e, ok := engine.(ResolutionController); ok {
		c.AddCommand(b.resolution(e))
	}
	if e, ok := engine.(SceneGrapher); ok {
		c.AddCommand(NewCommand("scenegraph", "Print the scene graph", func(s *Session, _ string) {
			b.onMain(func() { s.WriteString(withNewline(e.SceneGraph())) })
		}))
	}
	if e, ok := engine.(TextureCache); ok {
		c.AddCommand(b.texture(e))
	}
	if e, ok := engine.(FileCache); ok {
		c.AddCommand(b.fileUtils(e))
	}
	if e, ok := engine.(ConfigReporter); ok {
		c.AddCommand(NewCommand("config", "Print the engine configuration", func(s *Session, _ string) {
			b.onMain(func() { s.WriteString(withNewline(e.ConfigInfo())) })
		}))
	}
	if e, ok := engine.(TouchInjector); ok {
		c.AddCommand(b.touch(e))
	}
	if e, ok := engine.(WritablePather); ok {
		c.AddCommand(b.upload(e))
	}
	if e, ok := engine.(AllocatorReporter); ok {
		c.AddCommand(NewCommand("allocator", "Print allocator statistics", func(s *Session, _ string) {
			b.onMain(func() { s.WriteString(withNewline(e.AllocatorInfo())) })
		}))
	}
}

type builtins struct {
	c *Console
}

func (b *builtins) onMain(fn func()) {
	b.c.Scheduler().RunOnMainThread(fn)
}

func (b *builtins) help(s *Session, args string) {
	topic, _ := splitCommand(args)
	if topic == "" {
		s.WriteString(b.c.Registry().Overview())
		return
	}
	if text, ok := b.c.Registry().Help(topic); ok {
		s.WriteString(text)
		return
	}
	s.Printf(unknownCommandFormat, topic)
}

func (b *builtins) exit(s *Session, _ string) {
	s.WriteString("Bye!\n")
	s.Close()
}

func (b *builtins) version(engine any) *Command {
	return NewCommand("version", "Print the engine version", func(s *Session, _ string) {
		if v, ok := engine.(Versioner); ok {
			b.onMain(func() { s.Printf("%s\n", v.Version()) })
			return
		}
		s.Printf("console %s\n", Version)
	})
}

func (b *builtins) debugMsg() *Command {
	debug := b.c.DebugBuffer()
	cmd := NewCommand("debugmsg", "Whether or not to forward the debug messages to the console", func(s *Session, _ string) {
		s.Printf("Debug message is: %s\n", onOff(debug.Enabled()))
	})
	cmd.AddSubCommand(NewCommand("on", "Enable forwarding", func(s *Session, _ string) {
		debug.Enable(true)
	}))
	cmd.AddSubCommand(NewCommand("off", "Disable forwarding", func(s *Session, _ string) {
		debug.Enable(false)
	}))
	return cmd
}

func (b *builtins) director(e DirectorController) *Command {
	cmd := NewCommand("director", "Control the director", nil)
	cmd.AddSubCommand(NewCommand("pause", "Pause all scheduled timers; drawing continues", func(*Session, string) {
		b.onMain(e.Pause)
	}))
	cmd.AddSubCommand(NewCommand("resume", "Resume all scheduled timers", func(*Session, string) {
		b.onMain(e.Resume)
	}))
	cmd.AddSubCommand(NewCommand("stop", "Stop the animation loop; nothing is drawn", func(*Session, string) {
		b.onMain(e.StopAnimation)
	}))
	cmd.AddSubCommand(NewCommand("start", "Restart the animation loop", func(*Session, string) {
		b.onMain(e.StartAnimation)
	}))
	cmd.AddSubCommand(NewCommand("end", "End the application", func(*Session, string) {
		b.onMain(e.End)
	}))
	return cmd
}

func (b *builtins) fps(e StatsDisplay) *Command {
	cmd := NewCommand("fps", "Turn the FPS display on or off", func(s *Session, _ string) {
		b.onMain(func() { s.Printf("FPS is: %s\n", onOff(e.DisplayStats())) })
	})
	cmd.AddSubCommand(NewCommand("on", "Display the FPS on the bottom-left corner", func(*Session, string) {
		b.onMain(func() { e.SetDisplayStats(true) })
	}))
	cmd.AddSubCommand(NewCommand("off", "Hide the FPS", func(*Session, string) {
		b.onMain(func() { e.SetDisplayStats(false) })
	}))
	return cmd
}

func (b *builtins) projection(e Projector) *Command {
	cmd := NewCommand("projection", "Change or print the current projection", func(s *Session, _ string) {
		b.onMain(func() { s.Printf("Current projection: %s\n", e.Projection()) })
	})
	cmd.AddSubCommand(NewCommand("2d", "Set a 2d projection", func(*Session, string) {
		b.onMain(func() { e.SetProjection(Projection2D) })
	}))
	cmd.AddSubCommand(NewCommand("3d", "Set a 3d projection", func(*Session, string) {
		b.onMain(func() { e.SetProjection(Projection3D) })
	}))
	return cmd
}

func (b *builtins) resolution(e ResolutionController) *Command {
	return NewCommand("resolution", "Print or change the design resolution: resolution [width height policy]", func(s *Session, args string) {
		if strings.TrimSpace(args) == "" {
			b.onMain(func() {
				r := e.Resolution()
				s.Printf("Design resolution: %g x %g\nResolution policy: %s\n", r.Width, r.Height, r.Policy)
			})
			return
		}

		r, err := parseResolution(args)
		if err != nil {
			s.Printf("error: %v\n", err)
			return
		}
		b.onMain(func() { e.SetResolution(r) })
	})
}

// parseResolution parses "width height policy"; policy is 0 (exactfit)
// through 4 (fixedwidth).
func parseResolution(args string) (Resolution, error) {
	fields := strings.Fields(args)
	if len(fields) != 3 {
		return Resolution{}, newMissingArgumentError("usage: resolution width height policy")
	}
	size, err := parseFloats(strings.Join(fields[:2], " "), 2)
	if err != nil {
		return Resolution{}, err
	}
	policy, err := strconv.Atoi(fields[2])
	if err != nil || policy < int(PolicyExactFit) || policy > int(PolicyFixedWidth) {
		return Resolution{}, newInvalidValueError(fields[2])
	}
	if size[0] <= 0 || size[1] <= 0 {
		return Resolution{}, newInvalidValueError(strings.Join(fields[:2], " "))
	}
	return Resolution{Width: size[0], Height: size[1], Policy: ResolutionPolicy(policy)}, nil
}

func (b *builtins) texture(e TextureCache) *Command {
	cmd := NewCommand("texture", "Print texture cache information", func(s *Session, _ string) {
		b.onMain(func() { s.WriteString(withNewline(e.TextureInfo())) })
	})
	cmd.AddSubCommand(NewCommand("flush", "Purge the texture cache", func(*Session, string) {
		b.onMain(e.FlushTextures)
	}))
	return cmd
}

func (b *builtins) fileUtils(e FileCache) *Command {
	cmd := NewCommand("fileutils", "Print file lookup information", func(s *Session, _ string) {
		b.onMain(func() { s.WriteString(withNewline(e.FileCacheInfo())) })
	})
	cmd.AddSubCommand(NewCommand("flush", "Purge the file lookup cache", func(*Session, string) {
		b.onMain(e.FlushFileCache)
	}))
	return cmd
}

func (b *builtins) touch(e TouchInjector) *Command {
	cmd := NewCommand("touch", "Simulate touch events", nil)
	cmd.AddSubCommand(NewCommand("tap", "touch tap x y: simulate a tap", func(s *Session, args string) {
		p, err := parseFloats(args, 2)
		if err != nil {
			s.Printf("error: %v\n", err)
			return
		}
		b.onMain(func() { e.Tap(p[0], p[1]) })
	}))
	cmd.AddSubCommand(NewCommand("swipe", "touch swipe x1 y1 x2 y2: simulate a swipe", func(s *Session, args string) {
		p, err := parseFloats(args, 4)
		if err != nil {
			s.Printf("error: %v\n", err)
			return
		}
		b.onMain(func() { e.Swipe(p[0], p[1], p[2], p[3]) })
	}))
	return cmd
}

func (b *builtins) upload(e WritablePather) *Command {
	return NewCommand("upload", "upload name base64data: store a file in the writable path", func(s *Session, args string) {
		name, data := splitCommand(args)
		path, err := uploadPath(e.WritablePath(), name)
		if err != nil {
			s.Printf("error: %v\n", err)
			return
		}
		content, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
		if err != nil {
			s.Printf("error: %v\n", fmt.Errorf("decode %s: %w", name, err))
			return
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			s.Printf("error: %v\n", err)
			return
		}
		s.Printf("uploaded %s (%d bytes)\n", name, len(content))
	})
}

// uploadPath joins dir and name, refusing names that would escape dir.
func uploadPath(dir, name string) (string, error) {
	if name == "" {
		return "", newMissingArgumentError("usage: upload name base64data")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", newInvalidFilenameError(name)
	}
	if dir == "" {
		return "", newMissingArgumentError("no writable path configured")
	}
	return filepath.Join(dir, name), nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
