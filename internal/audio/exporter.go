package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maxharrison/podcast-adblocker/internal/segment"
)

// OutputName is the base name of the advert-free episode.
const OutputName = "output"

// Artifacts lists the files written by an export.
type Artifacts struct {
	Dir string
	// Adverts holds one path per removed advert, in position order.
	Adverts []string
	Output  string
}

// Exporter writes the removed adverts and the concatenated remainder of
// an episode to a directory.
type Exporter struct {
	editor Editor
	logger *slog.Logger
}

// NewExporter creates an Exporter backed by editor.
func NewExporter(editor Editor, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{editor: editor, logger: logger.With("component", "exporter")}
}

// AdvertPath returns the export path of the advert at position (1-based).
func AdvertPath(dir string, position int) string {
	return filepath.Join(dir, fmt.Sprintf("ad%d%s", position, Ext))
}

// OutputPath returns the export path of the advert-free episode.
func OutputPath(dir string) string {
	return filepath.Join(dir, OutputName+Ext)
}

// Export writes ad1..adN and output into outDir, creating it if needed.
// Existing files with the same names are overwritten.
func (e *Exporter) Export(ctx context.Context, src string, plan segment.Plan, outDir string) (*Artifacts, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	art := &Artifacts{
		Dir:     outDir,
		Adverts: make([]string, 0, len(plan.Removed)),
		Output:  OutputPath(outDir),
	}

	for _, ad := range plan.Removed {
		dst := AdvertPath(outDir, ad.Position)
		if err := e.editor.Extract(ctx, src, dst, ad.Range); err != nil {
			return nil, fmt.Errorf("export %s: %w", ad.Name(), err)
		}
		e.logger.Debug("advert exported", "name", ad.Name(), "range", ad.Range.String(), "path", dst)
		art.Adverts = append(art.Adverts, dst)
	}

	if err := e.editor.Concat(ctx, src, plan.Kept, art.Output); err != nil {
		return nil, fmt.Errorf("export %s: %w", OutputName, err)
	}

	e.logger.Info("episode exported",
		"adverts", len(art.Adverts),
		"kept", plan.KeptDuration().String(),
		"removed", plan.RemovedDuration().String(),
		"path", art.Output,
	)
	return art, nil
}
