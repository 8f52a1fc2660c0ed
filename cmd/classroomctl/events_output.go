package main

import (
	"fmt"
	"io"

	"classroom-capture/pkg/events"
)

// printEvents writes a line per boundary event until the channel closes.
// Transcript text is written inline so it reads as prose.
func printEvents(w io.Writer, ch <-chan events.Event) {
	for ev := range ch {
		switch ev.Kind {
		case events.TranscriptDelta:
			fmt.Fprint(w, ev.Text)
		case events.HealthChanged:
			fmt.Fprintf(w, "\n[health] %s\n", ev.Health.Status)
		case events.SessionAdopted:
			fmt.Fprintf(w, "\n[session] %s\n", ev.SessionID)
		case events.GlobalError:
			fmt.Fprintf(w, "\n[error] %s\n", ev.Message)
		case events.CameraStreamUpdated:
			fmt.Fprintf(w, "\n[camera] %s -> %s\n", ev.Camera, ev.Endpoint)
		case events.StageChanged:
			fmt.Fprintf(w, "\n[stage] %s\n", ev.Stage)
		case events.StatisticsUpdated:
			fmt.Fprintf(w, "\n[statistics] %d students, %d raised hands\n", ev.Statistics.StudentCount, ev.Statistics.RaiseUpCount)
		case events.RunInterrupted:
			fmt.Fprintf(w, "\n[warning] backend lost during %s, in-flight work was interrupted\n", ev.Stage)
		}
	}
}
