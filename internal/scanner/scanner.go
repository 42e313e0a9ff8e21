// Package scanner walks the persistent volume for data product
// directories. A candidate is any directory, at any depth, containing
// the configured metadata file. Each Scan is a fresh walk; no state is
// carried between calls, so a re-index always sees the volume as it is.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/skao/dataproduct-api/pkg/types"
)

// Candidate is one discovered data product directory.
type Candidate struct {
	// ProductDir and MetadataPath are relative to the volume root.
	ProductDir   string
	MetadataPath string
	// AbsMetadataPath is what the parser reads.
	AbsMetadataPath string
}

// Details holds the listing metadata of a product directory. Needed for
// status and listings, not for indexing correctness.
type Details struct {
	SizeOnDisk     int64
	LatestModified time.Time
}

// Scanner discovers data products under a volume root.
type Scanner struct {
	root             string
	metadataFileName string
	log              zerolog.Logger

	mu       sync.Mutex
	lastScan time.Time
}

// New returns a Scanner rooted at root looking for metadataFileName.
func New(root, metadataFileName string, log zerolog.Logger) *Scanner {
	return &Scanner{
		root:             root,
		metadataFileName: metadataFileName,
		log:              log.With().Str("component", "scanner").Logger(),
	}
}

// Scan walks the volume and returns all candidates found. An unreadable
// subtree is logged and skipped; a single bad subtree never aborts the
// walk. Only an unusable root fails the scan as a whole.
func (s *Scanner) Scan(ctx context.Context) ([]Candidate, error) {
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: volume root %s is not a readable directory", types.ErrScan, s.root)
	}

	var candidates []Candidate
	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.Error().Err(err).Str("path", path).Msg("unreadable subtree skipped")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Name() != s.metadataFileName {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			s.log.Error().Err(err).Str("path", path).Msg("cannot relativize candidate path")
			return nil
		}
		candidates = append(candidates, Candidate{
			ProductDir:      filepath.Dir(rel),
			MetadataPath:    rel,
			AbsMetadataPath: path,
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	s.mu.Lock()
	s.lastScan = time.Now()
	s.mu.Unlock()

	s.log.Debug().Int("candidates", len(candidates)).Msg("volume scan complete")
	return candidates, nil
}

// Resolve maps a storage-relative path to an absolute path under the
// volume root. Paths that escape the root, through .. segments or
// otherwise, are rejected; request bodies and stored documents both
// pass through here before anything touches the filesystem.
func (s *Scanner) Resolve(rel string) (string, error) {
	abs := filepath.Join(s.root, rel)
	within, err := filepath.Rel(s.root, abs)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes the volume root", types.ErrValidation, rel)
	}
	return abs, nil
}

// CheckDir performs the single-directory check used by path-based
// ingestion: does relDir contain the metadata file?
func (s *Scanner) CheckDir(relDir string) (Candidate, error) {
	relDir = filepath.Clean(relDir)
	absDir, err := s.Resolve(relDir)
	if err != nil {
		return Candidate{}, err
	}
	abs := filepath.Join(absDir, s.metadataFileName)
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return Candidate{}, fmt.Errorf("%w: no %s under %s", types.ErrNotFound, s.metadataFileName, relDir)
	}
	return Candidate{
		ProductDir:      relDir,
		MetadataPath:    filepath.Join(relDir, s.metadataFileName),
		AbsMetadataPath: abs,
	}, nil
}

// LoadDetails computes size and latest modification time for each
// candidate concurrently. Unreadable entries are logged and contribute
// zero; detail loading never fails a cycle.
func (s *Scanner) LoadDetails(ctx context.Context, candidates []Candidate) map[string]Details {
	out := make(map[string]Details, len(candidates))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, cand := range candidates {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			det := s.loadDetails(filepath.Join(s.root, cand.ProductDir))
			mu.Lock()
			out[cand.ProductDir] = det
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Scanner) loadDetails(absDir string) Details {
	var det Details
	err := filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.log.Error().Err(err).Str("path", path).Msg("could not stat product entry")
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		det.SizeOnDisk += info.Size()
		if info.ModTime().After(det.LatestModified) {
			det.LatestModified = info.ModTime()
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("dir", absDir).Msg("could not load product details")
	}
	return det
}

// Status reports the scanner's view of the volume.
func (s *Scanner) Status() types.VolumeStatus {
	info, err := os.Stat(s.root)
	s.mu.Lock()
	last := s.lastScan
	s.mu.Unlock()
	return types.VolumeStatus{
		RootDirectory:    s.root,
		Available:        err == nil && info.IsDir(),
		MetadataFileName: s.metadataFileName,
		LastScan:         last,
	}
}

// Root returns the absolute volume root.
func (s *Scanner) Root() string { return s.root }
