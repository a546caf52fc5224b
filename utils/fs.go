package utils

import (
	"encoding/json"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

type Fs struct {
	AppFs afero.Fs
}

func NewFs(appFs afero.Fs) Fs {
	return Fs{AppFs: appFs}
}

// ReadFile returns the content of filePath, decompressing it when the name ends with ".gz".
func (fs Fs) ReadFile(filePath string) ([]byte, error) {
	f, err := fs.AppFs.Open(filePath)
	if err != nil {
		return nil, xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(filePath), ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, xerrors.Errorf("unable to open gzip stream: %w", err)
		}
		defer gr.Close()
		r = gr
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, xerrors.Errorf("failed to read a file: %w", err)
	}
	return b, nil
}

func (fs Fs) WriteJSON(filePath string, data interface{}) error {
	if err := fs.AppFs.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return xerrors.Errorf("unable to create a directory: %w", err)
	}

	f, err := fs.AppFs.Create(filePath)
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err = f.Write(b); err != nil {
		return xerrors.Errorf("failed to save a file: %w", err)
	}
	return nil
}
