package main

import (
	"strings"

	"classroom-capture/pkg/mockserver"
	"classroom-capture/pkg/models"

	"github.com/spf13/cobra"
)

func newMockBackendCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var failCameras []string

	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Serve a scripted fake backend for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			mockCfg := cfg.MockServer
			if strings.TrimSpace(addr) != "" {
				mockCfg.Address = addr
			}

			srv := mockserver.New()
			for _, cam := range failCameras {
				srv.FailPipeline(models.Camera(strings.TrimSpace(cam)), "camera offline")
			}
			return srv.Run(cmd.Context(), mockCfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringSliceVar(&failCameras, "fail", nil, "Cameras whose analytics pipeline should fail (front, back, content)")
	return cmd
}
