package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change project settings",
	}
	settingsCmd.AddCommand(newSettingsGetCommand(ctx))
	settingsCmd.AddCommand(newSettingsSetCommand(ctx))
	return settingsCmd
}

func newSettingsGetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Fprintln(cmd.OutOrStdout(), renderSettings(rt.ctrl.Settings.Load(cmd.Context())))
			return nil
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	var project, location, microphone, front, back, board string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update settings; omitted flags keep their current value",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			current := rt.ctrl.Settings.Load(cmd.Context())
			flags := cmd.Flags()
			set := func(name string, dst *string, value string) {
				if flags.Changed(name) {
					*dst = value
				}
			}
			set("project", &current.ProjectName, project)
			set("location", &current.ProjectLocation, location)
			set("microphone", &current.Microphone, microphone)
			set("front-camera", &current.FrontCamera, front)
			set("back-camera", &current.BackCamera, back)
			set("board-camera", &current.BoardCamera, board)

			saveErr := rt.ctrl.Settings.Save(cmd.Context(), current)
			fmt.Fprintln(cmd.OutOrStdout(), renderSettings(current))
			if saveErr != nil {
				return fmt.Errorf("%w (kept locally)", saveErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().StringVar(&location, "location", "", "Project location")
	cmd.Flags().StringVar(&microphone, "microphone", "", "Microphone device")
	cmd.Flags().StringVar(&front, "front-camera", "", "Front camera device")
	cmd.Flags().StringVar(&back, "back-camera", "", "Back camera device")
	cmd.Flags().StringVar(&board, "board-camera", "", "Board camera device")
	return cmd
}
