package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLiveCommand(ctx *commandContext) *cobra.Command {
	var cams cameraFlags

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Start a live class session with video analytics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.connect(cmd.Context()); err != nil {
				return err
			}

			pipelines := cams.pipelines(rt.cfg.Pipeline.VideoBaseDir)
			if len(pipelines) == 0 {
				return fmt.Errorf("at least one of --front, --back or --content is required")
			}

			ch, err := rt.bus.Subscribe("live", 256)
			if err != nil {
				return err
			}
			go printEvents(cmd.OutOrStdout(), ch)

			handle, err := rt.ctrl.StartLive(cmd.Context(), pipelines)
			if err != nil {
				return err
			}
			handle.Release()

			// keep watching health so an outage is reported while live
			rt.ctrl.Run(cmd.Context())
			handle.Abort()
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(rt.ctrl.Snapshot()))
			return nil
		},
	}
	cams.register(cmd)
	return cmd
}
