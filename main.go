package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kevinxiao27/textcrdt/crdt"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "textcrdt",
		Short:        "Drive the local insert path of a text CRDT",
		SilenceUsage: true,
	}
	root.AddCommand(newDemoCmd())
	return root
}

type demoOptions struct {
	clients []string
	reps    int
	length  int
	seed    uint64
	dump    bool
	verbose bool
}

// Every client in turn types length characters at the end of the document.
// One client gives a single run; several give one run per insert.
func newDemoCmd() *cobra.Command {
	o := demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted typing workload and report the resulting index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, o)
		},
	}
	cmd.Flags().StringSliceVar(&o.clients, "clients", []string{"fred", "george"}, "client names, inserting in turn")
	cmd.Flags().IntVar(&o.reps, "reps", 1000, "number of rounds")
	cmd.Flags().IntVar(&o.length, "len", 4, "characters per insert")
	cmd.Flags().Uint64Var(&o.seed, "seed", 1, "index seed")
	cmd.Flags().BoolVar(&o.dump, "dump", false, "print the final state")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func runDemo(cmd *cobra.Command, o demoOptions) error {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	state := crdt.New(crdt.WithLogger(logger), crdt.WithSeed(o.seed))

	for _, name := range o.clients {
		if _, err := state.GetOrCreateClientID(name); err != nil {
			return err
		}
	}

	pos := 0
	for i := 0; i < o.reps; i++ {
		for _, name := range o.clients {
			id, _ := state.ClientID(name)
			if _, err := state.LocalInsert(id, pos, o.length); err != nil {
				return fmt.Errorf("round %d, client %s: %w", i, name, err)
			}
			pos += o.length
		}
	}

	if err := state.Verify(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "length: %d\n", state.Len())
	fmt.Fprintf(out, "runs:   %d\n", state.NumRuns())
	if o.dump {
		fmt.Fprintln(out, state.Dump())
	}
	return nil
}
