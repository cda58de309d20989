// ./main.go
package main

import (
	"github.com/wrenfin/wren/cmd"
)

// main is the entry point for the wren CLI.
func main() {
	cmd.Execute()
}
