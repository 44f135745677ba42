package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"
	"github.com/mna/marksweep/heap/script"
)

func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return RunFiles(ctx, stdio, c.machineConfig(), args...)
}

func (c *Cmd) machineConfig() script.Machine {
	return script.Machine{
		MaxCells:  c.MaxCells,
		TraceFree: c.TraceFree,
	}
}

// RunFiles executes each script file on a fresh machine configured as cfg,
// with its output going to stdio.Stdout. No script is executed if any of them
// fails to parse. Execution stops at the first failing script.
func RunFiles(ctx context.Context, stdio mainer.Stdio, cfg script.Machine, files ...string) error {
	progs, err := script.ParseFiles(ctx, files...)
	if err != nil {
		return printError(stdio, err)
	}

	for i, prog := range progs {
		if len(progs) > 1 {
			if i > 0 {
				fmt.Fprintln(stdio.Stdout)
			}
			fmt.Fprintf(stdio.Stdout, "== %s\n", prog.Filename)
		}

		m := script.Machine{
			Stdout:    stdio.Stdout,
			MaxCells:  cfg.MaxCells,
			TraceFree: cfg.TraceFree,
		}
		if err := m.Exec(ctx, prog); err != nil {
			return printError(stdio, err)
		}
	}
	return nil
}
