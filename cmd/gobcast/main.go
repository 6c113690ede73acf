// gobcast verifies directed broadcast forwarding on a switch under test.
package main

import "github.com/dantte-lp/gobcast/cmd/gobcast/commands"

func main() {
	commands.Execute()
}
