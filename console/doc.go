// Package console implements the remote debug console of a running engine
// instance: a TCP listener that accepts plain-text, newline-terminated
// commands and dispatches them against a registry of named, nested commands.
//
// # Protocol Overview
//
// The protocol is a line-oriented text protocol intended for telnet/netcat
// style interaction.
//
//	Request:   <command> [subcommand] [free-text args]\n
//	Response:  free-form text lines
//	Prompt:    "> " after connect and after every dispatched line
//
// Several commands may share a line when joined by the command separator
// (default '|'):
//
//	fps on | director pause
//
// # Basic Usage
//
// Create a console, register commands and start listening:
//
//	c := console.New(console.WithLogger(logger))
//	c.AddCommand(console.NewCommand("hello", "Say hello", func(s *console.Session, args string) {
//	    s.Printf("hello %s\n", args)
//	}))
//	if err := c.ListenOnTCP(console.DefaultPort); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop()
//
// # Nested Commands
//
// A command may carry sub-commands. The first token after the command name
// selects a sub-command; when it does not match, the command's own callback
// runs with the whole argument text. A command without a callback prints its
// help, listing its sub-commands:
//
//	debug := console.NewCommand("debug", "Debug switches", nil)
//	debug.AddSubCommand(console.NewCommand("on", "Enable", onHandler))
//	debug.AddSubCommand(console.NewCommand("off", "Disable", offHandler))
//	c.AddCommand(debug)
//
// # Threading
//
// All framing and dispatch happens on a single console goroutine; a slow
// callback delays every connected session. Callbacks that touch engine
// state must hand work to the engine's main thread through the Scheduler
// and write their results through the Session, which is safe for use from
// any goroutine:
//
//	func(s *console.Session, args string) {
//	    sched.RunOnMainThread(func() {
//	        s.Printf("nodes: %d\n", engine.NodeCount())
//	    })
//	}
//
// The Registry is safe for concurrent use; commands may be added or removed
// from the main thread while the console is running.
package console
