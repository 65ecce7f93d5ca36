package main

import (
	"github.com/spf13/cobra"

	"serverlink/internal/app"
	"serverlink/internal/config"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API and connect session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.New(*cfg)
			if err := a.Err(); err != nil {
				return err
			}
			a.Run()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "HTTP listen address [env: PORT, SERVERLINK_LISTEN]")
	f.StringVar(&cfg.HistoryPath, "history", cfg.HistoryPath, "connect history database [env: SERVERLINK_HISTORY_PATH]")
	f.DurationVar(&cfg.LiveTTL, "live-ttl", cfg.LiveTTL, "how long a live query result is reused")
	f.DurationVar(&cfg.RefreshInterval, "refresh-interval", cfg.RefreshInterval, "re-resolve stored servers this often; 0 disables")
	f.DurationVar(&cfg.StaleAfter, "stale-after", cfg.StaleAfter, "mark servers offline when not refreshed for this long")
	f.StringToStringVar(&cfg.ManualEndpoints, "manual-endpoint", cfg.ManualEndpoints, "server id to endpoint overrides, id=host:port [env: SERVERLINK_MANUAL_ENDPOINTS]")
	return cmd
}
