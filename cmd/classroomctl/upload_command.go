package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"classroom-capture/pkg/analytics"
	"classroom-capture/pkg/events"
	"classroom-capture/pkg/models"

	"github.com/spf13/cobra"
)

type cameraFlags struct {
	front   string
	back    string
	content string
	baseDir string
}

func (f *cameraFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.front, "front", "", "Front camera video (file name or URL)")
	cmd.Flags().StringVar(&f.back, "back", "", "Back camera video (file name or URL)")
	cmd.Flags().StringVar(&f.content, "content", "", "Board/content camera video (file name or URL)")
	cmd.Flags().StringVar(&f.baseDir, "base-dir", "", "Directory relative video names resolve against (default from config)")
}

func (f *cameraFlags) pipelines(defaultDir string) []models.PipelineSpec {
	dir := strings.TrimSpace(f.baseDir)
	if dir == "" {
		dir = defaultDir
	}
	return analytics.Sources{
		models.CameraFront:   f.front,
		models.CameraBack:    f.back,
		models.CameraContent: f.content,
	}.Pipelines(dir)
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var audioPath string
	var waitStats bool
	var cams cameraFlags

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a recorded class, stream its transcript and start video analytics",
		RunE: func(cmd *cobra.Command, args []string) error {
			audioPath = strings.TrimSpace(audioPath)
			if audioPath == "" {
				return fmt.Errorf("--audio is required")
			}
			file, err := os.Open(audioPath)
			if err != nil {
				return fmt.Errorf("open audio: %w", err)
			}
			defer file.Close()

			rt, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.connect(cmd.Context()); err != nil {
				return err
			}

			ch, err := rt.bus.Subscribe("upload", 256)
			if err != nil {
				return err
			}
			stats := make(chan struct{}, 1)
			go printEvents(cmd.OutOrStdout(), tap(ch, events.StatisticsUpdated, stats))

			handle, err := rt.ctrl.StartUpload(cmd.Context(), filepath.Base(audioPath), file, cams.pipelines(rt.cfg.Pipeline.VideoBaseDir))
			if err != nil {
				return err
			}
			// the command no longer needs to own the run once it is streaming
			handle.Release()
			run := handle.Run()

			done := make(chan struct{})
			go func() {
				run.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-cmd.Context().Done():
				handle.Abort()
				<-done
			}

			if waitStats && rt.ctrl.Snapshot().Session.Valid() {
				select {
				case <-stats:
				case <-time.After(rt.cfg.Pipeline.StatisticsDelay + rt.cfg.Backend.RequestTimeout):
				case <-cmd.Context().Done():
				}
			}
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(rt.ctrl.Snapshot()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&audioPath, "audio", "a", "", "Audio file to upload")
	cmd.Flags().BoolVar(&waitStats, "wait-statistics", false, "Wait for the deferred class statistics before exiting")
	cams.register(cmd)
	return cmd
}

// tap forwards ch and signals on notify the first time kind passes by.
func tap(ch <-chan events.Event, kind events.Kind, notify chan<- struct{}) <-chan events.Event {
	out := make(chan events.Event, cap(ch))
	go func() {
		defer close(out)
		for ev := range ch {
			if ev.Kind == kind {
				select {
				case notify <- struct{}{}:
				default:
				}
			}
			out <- ev
		}
	}()
	return out
}
