package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/pathglob"
)

// DirSource reads documents from a local directory tree.
type DirSource struct {
	root   string
	filter *pathglob.Set
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string, include, exclude []string) (*DirSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.ConfigError("invalid source directory", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.ConfigError("source directory not found: "+dir, err)
	}
	if !info.IsDir() {
		return nil, errors.ConfigError("source is not a directory: "+dir, nil)
	}
	filter, err := pathglob.NewSet(include, exclude)
	if err != nil {
		return nil, errors.ConfigError("invalid source glob", err)
	}
	return &DirSource{root: abs, filter: filter}, nil
}

// Name returns "dir:<absolute path>".
func (s *DirSource) Name() string {
	return "dir:" + s.root
}

// Root returns the absolute root directory.
func (s *DirSource) Root() string {
	return s.root
}

// List walks the tree and hashes every selected file. Hidden directories are
// skipped.
func (s *DirSource) List(ctx context.Context) ([]Listing, error) {
	var out []Listing
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != s.root && len(d.Name()) > 1 && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !s.filter.Match(rel) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, Listing{Path: rel, Hash: hashBytes(content), Size: int64(len(content))})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(errors.ErrCodeInvalidInput, "cannot list "+s.root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Read returns the file content and modification time.
func (s *DirSource) Read(ctx context.Context, l Listing) ([]byte, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}
	full := filepath.Join(s.root, filepath.FromSlash(l.Path))
	info, err := os.Stat(full)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, errors.NotFound(l.Path, err)
		}
		return nil, time.Time{}, errors.New(errors.ErrCodeInvalidInput, "cannot stat "+l.Path, err)
	}
	content, err := os.ReadFile(full)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, errors.NotFound(l.Path, err)
		}
		return nil, time.Time{}, errors.New(errors.ErrCodeInvalidInput, "cannot read "+l.Path, err)
	}
	return content, info.ModTime(), nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
