// Command diagdump collects diagnostic dumps from the daemons that make up
// a switch feature.
package main

import (
	"io"
	"os"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and maps the outcome to an exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(newCLI(stdout, stderr))
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return exitCode(root.Execute(), stderr)
}
