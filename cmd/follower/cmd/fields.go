package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"follower/watcher"
	"follower/watcher/follower"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List the tunable trade parameters and their defaults",
	Run: func(cmd *cobra.Command, args []string) {
		for _, f := range follower.Fields() {
			fmt.Printf("%-15s %-7s default=%-6v %s -- %s\n",
				f.Name, kindName(f.Kind), f.Default, f.Label, f.Description)
		}
	},
}

func kindName(k watcher.FieldKind) string {
	switch k {
	case watcher.FieldBool:
		return "bool"
	case watcher.FieldInt:
		return "int"
	case watcher.FieldFloat:
		return "float"
	case watcher.FieldString:
		return "string"
	}
	return "?"
}

func init() {
	rootCmd.AddCommand(fieldsCmd)
}
