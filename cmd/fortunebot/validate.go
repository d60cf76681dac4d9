package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"fortunebot/internal/config"
	"fortunebot/internal/plugin"
	logx "fortunebot/pkg/logx"
)

func newValidateCmd(cfgPath *string) *cobra.Command {
	var requireToken bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without starting the bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgm := config.NewConfigManager(*cfgPath)
			cfg, err := cfgm.Load()
			if err != nil {
				return err
			}
			if err := config.Validate(cfg, requireToken); err != nil {
				return err
			}
			pm := plugin.NewPluginManager(logx.Nop(), cfgm, plugin.PluginDeps{}, nil)
			pm.Register(builtins()...)
			if err := pm.ValidateConfig(cmd.Context(), cfg); err != nil {
				return err
			}

			known := pm.Names()
			out := cmd.OutOrStdout()
			for name := range cfg.Plugins {
				if !slices.Contains(known, name) {
					fmt.Fprintf(out, "warning: unknown plugin %q is ignored\n", name)
				}
			}
			fmt.Fprintf(out, "%s: ok\n", *cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&requireToken, "require-token", false, "fail when telegram.token is empty")
	return cmd
}
