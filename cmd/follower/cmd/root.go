package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "follower",
	Short: "A single-trade futures lifecycle controller",
	Long: `Follower manages one futures trade from entry to exit: it enters near
the market, covers the position with a stop order, and ratchets that stop
toward the price as the trade proves itself.

The run command plays a scripted quote tape through the built-in broker
simulator so a whole trade lifecycle can be exercised without touching a
live market.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}
