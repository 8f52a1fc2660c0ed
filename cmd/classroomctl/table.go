package main

import (
	"fmt"
	"strconv"
	"strings"

	"classroom-capture/pkg/app"
	"classroom-capture/pkg/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func renderTable(headers []string, rows [][]string) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func renderStatus(s app.Status) string {
	rows := [][]string{
		{"Backend", string(s.Health.Status)},
		{"Failures", strconv.FormatUint(uint64(s.Health.ConsecutiveFailures), 10)},
		{"Run", orDash(s.Run.ID)},
		{"Stage", string(s.Run.Stage)},
		{"Active tab", string(s.Run.ActiveTab)},
		{"Session", orDash(s.Session.ID)},
		{"Audio", orDash(s.Run.UploadedAudioPath)},
		{"Transcript", fmt.Sprintf("%d tokens", s.Transcript.Tokens)},
	}
	if s.Transcript.Error != "" {
		rows = append(rows, []string{"Transcript error", s.Transcript.Error})
	}
	for _, cam := range models.Cameras {
		rows = append(rows, []string{"Camera " + string(cam), orDash(s.Analytics.Streams.Get(cam))})
	}
	for _, f := range s.Analytics.Failures {
		rows = append(rows, []string{"Failed " + string(f.PipelineName), orDash(f.Error)})
	}
	rows = append(rows, []string{"View", orDash(string(s.Analytics.View))})
	if st := s.Analytics.Statistics; st != nil {
		rows = append(rows, statisticsRows(*st)...)
	}
	return renderTable([]string{"Field", "Value"}, rows)
}

func statisticsRows(st models.ClassStatistics) [][]string {
	rows := [][]string{
		{"Students", strconv.Itoa(st.StudentCount)},
		{"Stand ups", strconv.Itoa(st.StandCount)},
		{"Raised hands", strconv.Itoa(st.RaiseUpCount)},
	}
	for _, r := range st.StandReID {
		rows = append(rows, []string{fmt.Sprintf("Student %d stood", r.StudentID), strconv.Itoa(r.Count)})
	}
	return rows
}

func renderSettings(s models.Settings) string {
	return renderTable([]string{"Setting", "Value"}, [][]string{
		{"Project", orDash(s.ProjectName)},
		{"Location", orDash(s.ProjectLocation)},
		{"Microphone", orDash(s.Microphone)},
		{"Front camera", orDash(s.FrontCamera)},
		{"Back camera", orDash(s.BackCamera)},
		{"Board camera", orDash(s.BoardCamera)},
	})
}
