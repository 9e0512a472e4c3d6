package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/fitdis/fitdis-go/pkg/wire"
)

// publisher is what the prompt needs from host.Publisher.
type publisher interface {
	PublishHeartRate(ctx context.Context, bpm int) error
	Publish(ctx context.Context, tuplets []wire.Tuplet) error
	SendRaw(ctx context.Context, data []byte) error
}

// Prompt reads commands from a readline prompt and publishes them.
type Prompt struct {
	pub publisher
	rl  *readline.Instance
	out io.Writer
}

// NewPrompt creates the interactive prompt.
func NewPrompt(pub publisher) (*Prompt, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "host> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Prompt{pub: pub, rl: rl, out: rl.Stdout()}, nil
}

// Stderr returns a writer that does not corrupt the prompt line.
func (p *Prompt) Stderr() io.Writer {
	return p.rl.Stderr()
}

// Run reads commands until EOF or ctx is done.
func (p *Prompt) Run(ctx context.Context, cancel context.CancelFunc) error {
	defer p.rl.Close()

	p.printHelp()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := p.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(p.out, "Exiting...")
			cancel()
			return nil
		}
		if quit := p.execute(ctx, line); quit {
			cancel()
			return nil
		}
	}
}

// execute runs one command line and reports whether to quit.
func (p *Prompt) execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	// A bare number is a heart rate.
	if bpm, err := strconv.Atoi(cmd); err == nil {
		p.report(p.pub.PublishHeartRate(ctx, bpm))
		return false
	}

	switch cmd {
	case "help", "?":
		p.printHelp()
	case "hr":
		if len(args) != 1 {
			fmt.Fprintln(p.out, "Usage: hr <bpm>")
			return false
		}
		bpm, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(p.out, "Invalid heart rate: %s\n", args[0])
			return false
		}
		p.report(p.pub.PublishHeartRate(ctx, bpm))
	case "set":
		if len(args) < 2 {
			fmt.Fprintln(p.out, "Usage: set <key> <text>")
			return false
		}
		key, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			fmt.Fprintf(p.out, "Invalid key: %s\n", args[0])
			return false
		}
		text := strings.Join(args[1:], " ")
		p.report(p.pub.Publish(ctx, []wire.Tuplet{wire.CString(uint32(key), text)}))
	case "raw":
		if len(args) != 1 {
			fmt.Fprintln(p.out, "Usage: raw <hex>")
			return false
		}
		data, err := hex.DecodeString(args[0])
		if err != nil {
			fmt.Fprintf(p.out, "Invalid hex: %v\n", err)
			return false
		}
		p.report(p.pub.SendRaw(ctx, data))
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(p.out, "Unknown command: %s (type 'help')\n", cmd)
	}
	return false
}

func (p *Prompt) report(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(p.out, "OK")
}

func (p *Prompt) printHelp() {
	fmt.Fprint(p.out, `Commands:
  <bpm>             Publish a heart rate
  hr <bpm>          Publish a heart rate
  set <key> <text>  Publish a string value
  raw <hex>         Send raw dictionary bytes (unvalidated)
  help              Show this help
  quit              Exit
`)
}
