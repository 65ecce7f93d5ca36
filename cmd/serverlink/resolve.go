package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"serverlink/internal/app"
	"serverlink/internal/config"
	"serverlink/internal/resolver"
)

var errUnresolved = errors.New("invalid or offline address")

func newResolveCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <address>",
		Short: "Resolve one address and print the server descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res *resolver.Resolver
			a := fx.New(fx.Supply(*cfg), app.Core, app.WithLogger, fx.Populate(&res))
			if err := a.Err(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := a.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background()) }()

			d := res.ResolveAddress(ctx, args[0])
			if d == nil {
				return fmt.Errorf("%s: %w", args[0], errUnresolved)
			}
			out, err := json.MarshalIndent(d, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
