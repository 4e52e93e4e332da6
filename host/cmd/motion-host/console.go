package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/shlex"

	"gomotion/core"
	"gomotion/standalone/manager"
)

// console reads operator commands from stdin. Lines that are not console
// commands are sent to the machine as G-code.
type console struct {
	m      *manager.Manager
	in     io.Reader
	out    io.Writer
	logger *log.Logger
}

func newConsole(m *manager.Manager, in io.Reader, out io.Writer, logger *log.Logger) *console {
	return &console{m: m, in: in, out: out, logger: logger}
}

func (c *console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "Enter G-code or a command (type 'help' for available commands, 'quit' to exit):")
	c.flush()

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := c.handle(ctx, line); quit {
			return nil
		}
	}
	return scanner.Err()
}

// handle runs one console line and reports whether the console should exit
func (c *console) handle(ctx context.Context, line string) bool {
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return false
	}
	if len(args) == 0 {
		return false
	}

	switch strings.ToLower(args[0]) {
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Goodbye!")
		return true

	case "help", "?":
		c.printHelp()

	case "status":
		data, err := json.MarshalIndent(c.m.Status(), "", "  ")
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			break
		}
		fmt.Fprintf(c.out, "%s\n", data)

	case "stop":
		if err := c.m.EmergencyStop(ctx); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			break
		}
		fmt.Fprintln(c.out, "Motion stopped, heaters off")

	case "dump":
		core.DumpTimingRing()

	case "load":
		if len(args) != 2 {
			fmt.Fprintln(c.out, "Usage: load <file>")
			break
		}
		if err := streamFile(ctx, c.m, args[1], c.out); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}

	default:
		c.send(ctx, line)
	}
	return false
}

// send feeds a G-code line to the machine and prints its replies
func (c *console) send(ctx context.Context, line string) {
	for i := 0; i < len(line); i++ {
		c.m.ProcessByteContext(ctx, line[i])
	}
	c.m.ProcessByteContext(ctx, '\n')
	c.flush()
}

func (c *console) flush() {
	if out := c.m.GetOutput(); len(out) > 0 {
		c.out.Write(out)
	}
}

func (c *console) printHelp() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  help           - Show this help message")
	fmt.Fprintln(c.out, "  status         - Print machine status as JSON")
	fmt.Fprintln(c.out, "  stop           - Abort motion and switch heaters off")
	fmt.Fprintln(c.out, "  dump           - Dump the motion timing ring")
	fmt.Fprintln(c.out, "  load <file>    - Stream a G-code file")
	fmt.Fprintln(c.out, "  quit/exit/q    - Exit the program")
	fmt.Fprintln(c.out, "Anything else is sent as G-code.")
	fmt.Fprintln(c.out)
}
