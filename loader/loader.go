package loader

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-list-ingest/utils"
)

// ReadError reports a file that could not be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("unable to read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

var (
	errEmpty       = xerrors.New("empty document")
	errInvalidUTF8 = xerrors.New("invalid UTF-8")
)

// DecodeError reports a file whose content is not valid JSON.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unable to parse json %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type options struct {
	fs afero.Fs
}

type option func(*options)

func WithFs(fs afero.Fs) option {
	return func(opts *options) {
		opts.fs = fs
	}
}

type Loader struct {
	fs utils.Fs
}

func NewLoader(opts ...option) Loader {
	o := &options{
		fs: afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return Loader{fs: utils.NewFs(o.fs)}
}

// Load reads one document. The result is a tree of map[string]any, []any and scalars.
// Loaders are stateless and safe for concurrent use.
func (l Loader) Load(path string) (any, error) {
	b, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}

	switch {
	case len(bytes.TrimSpace(b)) == 0:
		return nil, &DecodeError{Path: path, Err: errEmpty}
	case !utf8.Valid(b):
		return nil, &DecodeError{Path: path, Err: errInvalidUTF8}
	}

	doc, err := oj.Parse(b)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	return doc, nil
}
