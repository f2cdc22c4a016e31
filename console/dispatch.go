package console

import (
	"strings"
	"sync/atomic"
	"unicode"

	"go.uber.org/zap"
)

// CommandHook observes a resolved command before it runs. command is the
// display name, e.g. "director pause".
type CommandHook func(s *Session, command, args string)

// Dispatcher resolves command lines against a Registry and runs the matched
// callback.
type Dispatcher struct {
	registry  *Registry
	separator atomic.Int32
	log       *zap.Logger
	hook      CommandHook
}

// NewDispatcher creates a dispatcher over registry using the default
// command separator. A nil logger disables logging.
func NewDispatcher(registry *Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{registry: registry, log: logger}
	d.separator.Store(DefaultCommandSeparator)
	return d
}

// SetSeparator changes the command separator. Zero disables splitting.
func (d *Dispatcher) SetSeparator(sep rune) {
	d.separator.Store(sep)
}

// Separator returns the command separator.
func (d *Dispatcher) Separator() rune {
	return d.separator.Load()
}

// Dispatch runs every command on line in order. It stops early when a
// command closes the session. Writing the prompt is left to the caller.
func (d *Dispatcher) Dispatch(s *Session, line string) {
	sep := d.Separator()
	if sep == 0 || !strings.ContainsRune(line, sep) {
		d.perform(s, line)
		return
	}
	for _, text := range strings.Split(line, string(sep)) {
		if s.Closed() {
			return
		}
		d.perform(s, text)
	}
}

func (d *Dispatcher) perform(s *Session, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	target, ok := d.registry.resolve(text)
	if !ok {
		s.Printf(unknownCommandFormat, target.name)
		return
	}

	d.log.Debug("dispatching command",
		zap.String("session", s.ID()),
		zap.String("command", target.name))
	if d.hook != nil {
		d.hook(s, target.name, target.args)
	}
	d.invoke(s, target)
}

// invoke runs the callback. A panic becomes an error response.
func (d *Dispatcher) invoke(s *Session, target resolved) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("command panicked",
				zap.String("session", s.ID()),
				zap.String("command", target.name),
				zap.Any("panic", r))
			s.Printf(commandFailedFormat, target.name)
		}
	}()
	target.handler(s, target.args)
}

// resolved is the outcome of a registry lookup: the handler to run, the
// argument text to pass it and a display name for logs and errors.
type resolved struct {
	name    string
	handler Handler
	args    string
}

// resolve looks text up under the read lock. The handler is returned
// rather than invoked so callbacks run without the lock held.
func (r *Registry) resolve(text string) (resolved, bool) {
	name, rest := splitCommand(text)

	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.commands[name]
	if !ok {
		return resolved{name: name}, false
	}

	if cmd.HasSubCommands() && rest != "" {
		subName, subRest := splitCommand(rest)
		if sub, ok := cmd.SubCommand(subName); ok {
			return resolved{
				name:    name + " " + subName,
				handler: sub.handler(),
				args:    subRest,
			}, true
		}
	}

	return resolved{name: name, handler: cmd.handler(), args: rest}, true
}

// splitCommand splits text on its first whitespace run into the command
// token and the remaining argument text.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return text, ""
	}
	return text[:i], strings.TrimLeftFunc(text[i:], unicode.IsSpace)
}
