// Command ragchat answers documentation questions with retrieval-augmented
// generation over a search index, exposed over HTTP, a terminal UI and MCP.
package main

import (
	"fmt"
	"os"

	"github.com/koopa0/ragchat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ragchat: %v\n", err)
		os.Exit(1)
	}
}
