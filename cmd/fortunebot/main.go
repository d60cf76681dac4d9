// Command fortunebot runs the daily fortune Telegram bot.
package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"fortunebot/internal/plugin"
	"fortunebot/internal/plugin/builtin/fortune"
	"fortunebot/internal/plugin/builtin/rawmsg"
)

const defaultConfigPath = "./fortunebot.yaml"

// builtins returns fresh instances of every plugin shipped with the bot.
func builtins() []plugin.Plugin {
	return []plugin.Plugin{fortune.New(), rawmsg.New()}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "fortunebot",
		Short:         "Daily fortune Telegram bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "config file (.yaml, .toml or .json)")
	root.AddCommand(
		newRunCmd(&cfgPath),
		newValidateCmd(&cfgPath),
		newInitCmd(&cfgPath),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
