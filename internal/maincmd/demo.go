package maincmd

import (
	"context"

	"github.com/mna/mainer"
	"github.com/mna/marksweep/heap/script"
)

// demoScript links two disjoint reference cycles a->b->c->a and d->e->f->d
// and roots the first one, so that the second one is reclaimed.
const demoScript = `// two disjoint cycles, only the first is rooted
alloc a b c d e f
set a = (0, &b)
set b = (1, &c)
set c = (2, &a)
set d = (3, &e)
set e = (4, &f)
set f = (5, &d)
root &a
dump
collect
dump
`

func (c *Cmd) Demo(ctx context.Context, stdio mainer.Stdio, args []string) error {
	prog, err := script.Parse("demo", []byte(demoScript))
	if err != nil {
		return printError(stdio, err)
	}

	m := c.machineConfig()
	m.Stdout = stdio.Stdout
	return printError(stdio, m.Exec(ctx, prog))
}
