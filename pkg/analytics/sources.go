package analytics

import (
	"path/filepath"
	"strings"

	"classroom-capture/pkg/models"
)

// Sources names the video source of each camera. Empty entries are skipped.
type Sources map[models.Camera]string

// Pipelines builds the launch request in camera order. Relative file names
// are resolved against baseDir; absolute paths and URLs pass through.
func (s Sources) Pipelines(baseDir string) []models.PipelineSpec {
	var out []models.PipelineSpec
	for _, cam := range models.Cameras {
		src := strings.TrimSpace(s[cam])
		if src == "" {
			continue
		}
		out = append(out, models.PipelineSpec{Name: cam, Source: SourcePath(baseDir, src)})
	}
	return out
}

func SourcePath(baseDir, name string) string {
	if baseDir == "" || filepath.IsAbs(name) || strings.Contains(name, "://") {
		return name
	}
	return filepath.Join(baseDir, name)
}
