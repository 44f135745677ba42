// Command marksweep runs heap scripts against the mark-and-sweep collector
// and reports what each collection reclaims. Run with --help for usage.
package main

import (
	"os"

	"github.com/mna/mainer"
	"github.com/mna/marksweep/internal/maincmd"
)

var (
	// placeholder values, replaced on build
	version   = "{v}" // must be N.N[.N]
	buildDate = "{d}" // must be YYYY-mm-DD
)

func main() {
	c := maincmd.Cmd{BuildVersion: version, BuildDate: buildDate}
	os.Exit(int(c.Main(os.Args, mainer.CurrentStdio())))
}
