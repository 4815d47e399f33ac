// Command objdb is a small demonstration shell over the objgraph
// persistence engine: schema setup, object creation/editing, relation
// linking, save, revert, purge, and clear.
package main

import (
	"fmt"
	"os"

	"github.com/objgraph/objgraph/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
