package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fortunebot/internal/config"
	"fortunebot/internal/plugin"
	logx "fortunebot/pkg/logx"
)

func newInitCmd(cfgPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pm := plugin.NewPluginManager(logx.Nop(), nil, plugin.PluginDeps{}, nil)
			pm.Register(builtins()...)
			plugins, err := pm.DefaultConfigs()
			if err != nil {
				return err
			}
			if err := config.WriteDefault(*cfgPath, config.Default(plugins), force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", *cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
