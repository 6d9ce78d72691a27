package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/csvjson/internal/convert"
	"github.com/JonMunkholm/csvjson/internal/fileio"
)

// DirOptions configures ConvertDir.
type DirOptions struct {
	// OutputDir receives the converted files. Empty means the input directory.
	OutputDir string

	// CSV and JSON override the default options of each direction.
	CSV  *convert.CSVToJSONOptions
	JSON *convert.JSONToCSVOptions
}

// ConvertDir converts every file in dir that matches d, running up to the
// limiter's slot count at once. Output files keep the input's base name with
// the new extension and no compression suffix ("a.csv.gz" -> "a.json").
//
// A file that fails to convert is reported through its Job and does not stop
// the others. The returned error is non-nil only when the directory cannot
// be read or ctx ends.
func (s *Service) ConvertDir(ctx context.Context, dir string, d Direction, opts DirOptions) ([]Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	outDir := opts.OutputDir
	if outDir == "" {
		outDir = dir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outDir, err)
	}

	var inputs []string
	for _, e := range entries {
		if e.Type().IsRegular() && d.Matches(e.Name()) {
			inputs = append(inputs, e.Name())
		}
	}

	jobs := make([]Job, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limiter.MaxConcurrent())

	for i, name := range inputs {
		req := NewRequest(d, filepath.Join(dir, name), filepath.Join(outDir, OutputName(name, d)))
		if opts.CSV != nil {
			req.CSV = *opts.CSV
		}
		if opts.JSON != nil {
			req.JSON = *opts.JSON
		}

		g.Go(func() error {
			job, err := s.Run(gctx, req)
			jobs[i] = job
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}

	err = g.Wait()
	return jobs, err
}

// OutputName maps an input file name to the name written by d.
func OutputName(name string, d Direction) string {
	base := fileio.TrimCompression(filepath.Base(name))
	return strings.TrimSuffix(base, filepath.Ext(base)) + d.OutputExt()
}
