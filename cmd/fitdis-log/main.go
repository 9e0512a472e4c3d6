// Command fitdis-log views and analyzes protocol capture files written by
// fitdis-device and fitdis-host with --protocol-log.
//
// Usage:
//
//	fitdis-log <command> [flags] <file.flog>
//
// Examples:
//
//	# View all events
//	fitdis-log view device.flog
//
//	# View only sync-layer events
//	fitdis-log view --layer sync device.flog
//
//	# Export to CSV
//	fitdis-log export --format csv device.flog
//
//	# Keep one connection
//	fitdis-log filter --conn-id 3f2a9c1e-... -o one.flog device.flog
//
//	# Show statistics
//	fitdis-log stats device.flog
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/fitdis/fitdis-go/cmd/fitdis-log/commands"
)

// fileArg is the positional capture file argument.
type fileArg struct {
	File string `positional-arg-name:"file.flog" required:"yes"`
}

type viewCommand struct {
	commands.FilterOptions
	Args fileArg `positional-args:"yes"`

	out io.Writer
}

func (c *viewCommand) Execute([]string) error {
	filter, err := commands.BuildFilter(c.FilterOptions)
	if err != nil {
		return err
	}
	return commands.RunView(c.Args.File, filter, c.out)
}

type statsCommand struct {
	commands.FilterOptions
	Args fileArg `positional-args:"yes"`

	out io.Writer
}

func (c *statsCommand) Execute([]string) error {
	filter, err := commands.BuildFilter(c.FilterOptions)
	if err != nil {
		return err
	}
	return commands.RunStats(c.Args.File, filter, c.out)
}

type exportCommand struct {
	commands.FilterOptions
	Format string `long:"format" choice:"jsonl" choice:"csv" default:"jsonl" description:"Output format"`
	Output string `short:"o" long:"output" description:"Output file (default: stdout)"`
	Args   fileArg `positional-args:"yes"`

	out io.Writer
}

func (c *exportCommand) Execute([]string) error {
	filter, err := commands.BuildFilter(c.FilterOptions)
	if err != nil {
		return err
	}
	w := c.out
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return commands.RunExport(c.Args.File, filter, c.Format, w)
}

type filterCommand struct {
	commands.FilterOptions
	Output string  `short:"o" long:"output" required:"yes" description:"Output capture file"`
	Args   fileArg `positional-args:"yes"`

	out io.Writer
}

func (c *filterCommand) Execute([]string) error {
	filter, err := commands.BuildFilter(c.FilterOptions)
	if err != nil {
		return err
	}
	n, err := commands.RunFilter(c.Args.File, filter, c.Output)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Filtered %d events to %s\n", n, c.Output)
	return nil
}

// newParser builds the command parser writing command output to out.
func newParser(out io.Writer) *flags.Parser {
	parser := flags.NewNamedParser("fitdis-log", flags.HelpFlag)
	parser.AddCommand("view", "View events in human-readable format", "", &viewCommand{out: out})
	parser.AddCommand("stats", "Show statistics about the capture", "", &statsCommand{out: out})
	parser.AddCommand("export", "Export events to JSON lines or CSV", "", &exportCommand{out: out})
	parser.AddCommand("filter", "Write matching events to a new capture file", "", &filterCommand{out: out})
	return parser
}

func main() {
	parser := newParser(os.Stdout)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
