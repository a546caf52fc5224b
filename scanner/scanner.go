package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
)

// ErrRootAccess is returned when the scan root is missing, unreadable or not a directory.
var ErrRootAccess = xerrors.New("unable to access scan root")

var defaultExtensions = []string{".json", ".json.gz"}

type options struct {
	fs         afero.Fs
	extensions []string
}

type option func(*options)

func WithFs(fs afero.Fs) option {
	return func(opts *options) {
		opts.fs = fs
	}
}

// WithExtensions replaces the list of eligible file suffixes. Matching is case-insensitive.
func WithExtensions(exts []string) option {
	return func(opts *options) {
		opts.extensions = exts
	}
}

type Scanner struct {
	*options
}

func NewScanner(opts ...option) Scanner {
	o := &options{
		fs:         afero.NewOsFs(),
		extensions: defaultExtensions,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.extensions = lo.Uniq(lo.Map(o.extensions, func(ext string, _ int) string {
		return strings.ToLower(ext)
	}))
	return Scanner{
		options: o,
	}
}

// Scan returns every eligible file below root. Directories are visited with an explicit
// stack, so nesting depth is bounded only by memory. Symlinks below root are not followed.
// The result is sorted.
func (s Scanner) Scan(ctx context.Context, root string) ([]string, error) {
	info, err := s.fs.Stat(root)
	if err != nil {
		return nil, xerrors.Errorf("%s: %v: %w", root, err, ErrRootAccess)
	}
	if !info.IsDir() {
		return nil, xerrors.Errorf("%s is not a directory: %w", root, ErrRootAccess)
	}

	var files []string
	stack := []string{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := afero.ReadDir(s.fs, dir)
		if err != nil {
			if dir == root {
				return nil, xerrors.Errorf("%s: %v: %w", root, err, ErrRootAccess)
			}
			return nil, xerrors.Errorf("unable to read directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			switch {
			case entry.Mode()&os.ModeSymlink != 0:
				continue
			case entry.IsDir():
				stack = append(stack, path)
			case entry.Mode().IsRegular() && s.eligible(entry.Name()):
				files = append(files, path)
			}
		}
	}

	slices.Sort(files)
	return files, nil
}

func (s Scanner) eligible(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range s.extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
