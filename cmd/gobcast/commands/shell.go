package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// shellCommands lists the available commands for the interactive shell help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"plan [--format table|json|yaml]", "Print the broadcast target of every VLAN"},
	{"run [--simulate]", "Run the directed broadcast case"},
	{"version", "Print build information"},
	{"help", "Show this help message"},
	{"exit / quit", "Leave the interactive shell"},
}

const shellPrompt = "gobcast> "

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive gobcast shell",
		Long:  "Launches a simple REPL that accepts gobcast subcommands. Type 'help', 'exit', or 'quit'.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()

			// Flags given on the shell command line apply to every line;
			// flags given on a line apply to that line only.
			baseline := snapshotFlags(rootCmd)

			printShellBanner(out)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			fmt.Fprint(out, shellPrompt)

			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())

				switch {
				case line == "exit" || line == "quit":
					return nil
				case line == "help" || line == "?":
					printShellHelp(out)
				case line == "shell" || strings.HasPrefix(line, "shell "):
					fmt.Fprintln(errOut, "Error: already in the shell")
				case line != "":
					if err := baseline.restore(); err != nil {
						return err
					}
					rootCmd.SetArgs(strings.Fields(line))

					if err := rootCmd.Execute(); err != nil {
						fmt.Fprintln(errOut, "Error:", err)
					}
				}

				fmt.Fprint(out, shellPrompt)
			}

			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}

			return nil
		},
	}
}

// flagState is a saved flag value.
type flagState struct {
	flag    *pflag.Flag
	value   string
	changed bool
}

type flagSnapshot []flagState

// snapshotFlags records the current value of every flag of root and its
// subcommands.
func snapshotFlags(root *cobra.Command) flagSnapshot {
	var snap flagSnapshot
	seen := make(map[*pflag.Flag]struct{})
	record := func(f *pflag.Flag) {
		if _, ok := seen[f]; ok {
			return
		}
		seen[f] = struct{}{}
		snap = append(snap, flagState{flag: f, value: f.Value.String(), changed: f.Changed})
	}

	root.PersistentFlags().VisitAll(record)
	for _, c := range root.Commands() {
		c.LocalFlags().VisitAll(record)
	}
	return snap
}

// restore resets every recorded flag to its saved value.
func (s flagSnapshot) restore() error {
	for _, st := range s {
		if err := st.flag.Value.Set(st.value); err != nil {
			return fmt.Errorf("reset flag --%s: %w", st.flag.Name, err)
		}
		st.flag.Changed = st.changed
	}
	return nil
}

// printShellBanner prints a welcome message when the shell starts.
func printShellBanner(w io.Writer) {
	fmt.Fprintln(w, "gobcast interactive shell. Type 'help' for available commands, 'exit' to quit.")
	fmt.Fprintln(w)
}

// printShellHelp prints a formatted list of available shell commands.
func printShellHelp(w io.Writer) {
	fmt.Fprintln(w, "Available commands:")
	fmt.Fprintln(w)

	for _, cmd := range shellCommands {
		fmt.Fprintf(w, "  %-32s %s\n", cmd.name, cmd.desc)
	}

	fmt.Fprintln(w)
}
