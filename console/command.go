package console

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Handler is the callback of a command. It runs on the console goroutine
// and receives the argument text verbatim (leading whitespace removed).
type Handler func(s *Session, args string)

// Command is a named, help-documented node of the dispatch tree.
//
// A Command is a plain value while it is being built. Once handed to a
// Registry it is copied, so later changes to the original do not affect
// the registered command.
type Command struct {
	Name     string
	Help     string
	Callback Handler

	subs map[string]*Command
}

// NewCommand creates a command. callback may be nil, in which case
// dispatching the command prints its help.
func NewCommand(name, help string, callback Handler) *Command {
	return &Command{Name: name, Help: help, Callback: callback}
}

// AddSubCommand adds or replaces a sub-command and returns c so calls can
// be chained.
func (c *Command) AddSubCommand(sub *Command) *Command {
	if sub == nil || !validName(sub.Name) {
		return c
	}
	if c.subs == nil {
		c.subs = make(map[string]*Command)
	}
	c.subs[sub.Name] = sub.clone()
	return c
}

// SubCommand returns the named sub-command.
func (c *Command) SubCommand(name string) (*Command, bool) {
	sub, ok := c.subs[name]
	return sub, ok
}

// DelSubCommand removes the named sub-command. Removing an absent name is
// a no-op.
func (c *Command) DelSubCommand(name string) {
	delete(c.subs, name)
}

// SubCommands returns the sub-commands sorted by name.
func (c *Command) SubCommands() []*Command {
	list := make([]*Command, 0, len(c.subs))
	for _, sub := range c.subs {
		list = append(list, sub)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// HasSubCommands reports whether c has at least one sub-command.
func (c *Command) HasSubCommands() bool {
	return len(c.subs) > 0
}

// HelpText formats the command's help followed by one line per
// sub-command, sorted by name.
func (c *Command) HelpText() string {
	var b strings.Builder
	if c.Help != "" {
		b.WriteString(c.Help)
		b.WriteByte('\n')
	}
	writeListing(&b, c.SubCommands())
	if b.Len() == 0 {
		fmt.Fprintf(&b, "%s: no help available\n", c.Name)
	}
	return b.String()
}

// handler returns the callback to run for c, falling back to printing the
// help text when c has no callback.
func (c *Command) handler() Handler {
	if c.Callback != nil {
		return c.Callback
	}
	help := c.HelpText()
	return func(s *Session, _ string) {
		s.WriteString(help)
	}
}

func (c *Command) clone() *Command {
	out := &Command{Name: c.Name, Help: c.Help, Callback: c.Callback}
	if len(c.subs) > 0 {
		out.subs = make(map[string]*Command, len(c.subs))
		for name, sub := range c.subs {
			out.subs[name] = sub.clone()
		}
	}
	return out
}

// writeListing writes "\t<name>  <help>" lines aligned on the longest name.
func writeListing(b *strings.Builder, cmds []*Command) {
	width := 0
	for _, cmd := range cmds {
		width = max(width, len(cmd.Name))
	}
	for _, cmd := range cmds {
		fmt.Fprintf(b, "\t%-*s  %s\n", width, cmd.Name, cmd.Help)
	}
}

// validName rejects names that could never be dispatched.
func validName(name string) bool {
	return name != "" && !strings.ContainsFunc(name, unicode.IsSpace)
}

// Registry maps command names to commands. It is safe for concurrent use:
// lookups take a read lock, mutations the write lock.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Add registers cmd. When a command with the same name already exists the
// last registration wins.
func (r *Registry) Add(cmd *Command) error {
	if cmd == nil || !validName(cmd.Name) {
		return ErrInvalidCommand
	}
	c := cmd.clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[c.Name] = c
	return nil
}

// AddSubCommand registers sub under the command named parent, replacing a
// sub-command of the same name.
func (r *Registry) AddSubCommand(parent string, sub *Command) error {
	if sub == nil || !validName(sub.Name) {
		return ErrInvalidCommand
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[parent]
	if !ok {
		return fmt.Errorf("add sub-command %q: %w: %s", sub.Name, ErrCommandNotFound, parent)
	}
	cmd.AddSubCommand(sub)
	return nil
}

// Get returns a copy of the named command.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	if !ok {
		return nil, false
	}
	return cmd.clone(), true
}

// GetSubCommand returns a copy of the named sub-command of parent.
func (r *Registry) GetSubCommand(parent, name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[parent]
	if !ok {
		return nil, false
	}
	sub, ok := cmd.SubCommand(name)
	if !ok {
		return nil, false
	}
	return sub.clone(), true
}

// Remove deletes the named command. Removing an absent name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, name)
}

// RemoveSubCommand deletes a sub-command. A missing parent or sub-command
// is a no-op.
func (r *Registry) RemoveSubCommand(parent, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd, ok := r.commands[parent]; ok {
		cmd.DelSubCommand(name)
	}
}

// Names returns the registered top-level names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Help returns the help text of the named command.
func (r *Registry) Help(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	if !ok {
		return "", false
	}
	return cmd.HelpText(), true
}

// Overview lists every top-level command with its help, sorted by name.
func (r *Registry) Overview() string {
	r.mu.RLock()
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	r.mu.RUnlock()

	sort.Slice(cmds, func(i, j int) bool {
		return cmds[i].Name < cmds[j].Name
	})

	var b strings.Builder
	b.WriteString("Available commands:\n")
	writeListing(&b, cmds)
	return b.String()
}
