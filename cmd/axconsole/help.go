// =============================================================================
// help.go - Local Help
// =============================================================================
//
// ".help" lists the dot-commands handled by axconsole itself. Console
// commands are documented by the console: type 'help' or 'help <command>'.
//
// =============================================================================

package main

import (
	"fmt"
	"io"
	"strings"
)

// localHelp holds detailed help for each dot-command and a few topics.
var localHelp = map[string]string{
	"help": `.help [topic]
    Show local help. Without a topic, lists the dot-commands.
    For console commands, send 'help' or 'help <command>' instead.`,

	"quit": `.quit
    Disconnect and exit. A daemon started with --launch is stopped.
    Ctrl-D does the same.`,

	"reconnect": `.reconnect
    Drop the current connection and dial the console again. Use it after
    'exit' or when the console was restarted.`,

	"status": `.status
    Show the console address and whether the connection is up.`,

	"separator": `Command separator
    Several console commands can share one line, separated by '|':
        fps on | director pause
    Each part is dispatched in order and answered before the next prompt.`,

	"debug": `Debug messages
    'debugmsg on' makes the console forward engine log lines to every
    session. They are printed as they arrive, between prompts.`,
}

// localCommands is the order dot-commands are listed in.
var localCommands = []string{"help", "quit", "reconnect", "status"}

// printHelp writes the overview, or the help for topic, to w. It returns
// false when topic is unknown.
func printHelp(w io.Writer, topic string) bool {
	if topic == "" {
		printHelpOverview(w)
		return true
	}

	key := strings.TrimPrefix(strings.ToLower(topic), ".")
	text, ok := localHelp[key]
	if !ok {
		fmt.Fprintf(w, "No help for '%s'. Type .help to see available commands.\n", topic)
		return false
	}
	fmt.Fprintln(w, text)
	return true
}

// printHelpOverview lists the dot-commands and the other topics.
func printHelpOverview(w io.Writer) {
	fmt.Fprintln(w, "Local commands:")
	for _, name := range localCommands {
		summary, _, _ := strings.Cut(localHelp[name], "\n")
		fmt.Fprintf(w, "  %s\n", summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Topics: .help separator, .help debug")
	fmt.Fprintln(w, "Everything else is sent to the console. Try 'help'.")
}
