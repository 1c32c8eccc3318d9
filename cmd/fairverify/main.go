// Command fairverify lets a third party check a finished match: that the revealed room
// secret matches the published commitment, that it reproduces the match seed, and that
// a simulated match result replays identically from that seed.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fairverify",
		Short:        "Verify match seeds and simulated match results",
		SilenceUsage: true,
	}
	root.AddCommand(
		newSeedCmd(),
		newRevealCmd(),
		newReplayCmd(),
	)
	return root
}
