package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"serverlink/internal/config"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := newRootCmd(&cfg).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "serverlink",
		Short:         "Resolve game server addresses and drive connect attempts",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Environment values become the flag defaults, so flags win.
	f := root.PersistentFlags()
	f.StringVar(&cfg.GameName, "game", cfg.GameName, "game the client runs; servers for other games do not resolve [env: SERVERLINK_GAME]")
	f.StringVar(&cfg.MasterURL, "master-url", cfg.MasterURL, "master list base URL [env: SERVERLINK_MASTER_URL]")
	f.StringVar(&cfg.BridgeURL, "bridge-url", cfg.BridgeURL, "WebSocket URL of the native host; empty uses direct UDP queries [env: SERVERLINK_BRIDGE_URL]")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error [env: SERVERLINK_LOG_LEVEL]")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json [env: SERVERLINK_LOG_FORMAT]")
	f.DurationVar(&cfg.JoinIDTimeout, "join-id-timeout", cfg.JoinIDTimeout, "deadline for the join id lookup")
	f.DurationVar(&cfg.DynamicTimeout, "dynamic-timeout", cfg.DynamicTimeout, "deadline for dynamic.json and info.json")
	f.DurationVar(&cfg.QueryTimeout, "query-timeout", cfg.QueryTimeout, "deadline for a live server query")
	f.Float64Var(&cfg.QueryRate, "query-rate", cfg.QueryRate, "direct UDP queries per second")

	root.AddCommand(newServeCmd(cfg), newResolveCmd(cfg))
	return root
}
