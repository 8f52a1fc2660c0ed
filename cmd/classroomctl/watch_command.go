package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Monitor backend health until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			ch, err := rt.bus.Subscribe("watch", 64)
			if err != nil {
				return err
			}
			go printEvents(cmd.OutOrStdout(), ch)

			rt.ctrl.Run(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(rt.ctrl.Snapshot()))
			return nil
		},
	}
}
