package scanner_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-list-ingest/scanner"
)

func TestScanner_Scan(t *testing.T) {
	tests := []struct {
		name       string
		files      []string
		dirs       []string
		extensions []string
		root       string
		want       []string
		wantErr    error
	}{
		{
			name: "nested tree",
			files: []string{
				"/cves/2023/1xxx/CVE-2023-1000.json",
				"/cves/2023/1xxx/CVE-2023-1001.json",
				"/cves/2024/0xxx/CVE-2024-0001.json.gz",
				"/cves/README.md",
				"/cves/delta.json.bak",
				"/cves/recent.JSON",
			},
			root: "/cves",
			want: []string{
				"/cves/2023/1xxx/CVE-2023-1000.json",
				"/cves/2023/1xxx/CVE-2023-1001.json",
				"/cves/2024/0xxx/CVE-2024-0001.json.gz",
				"/cves/recent.JSON",
			},
		},
		{
			name:       "custom extensions",
			files:      []string{"/cves/a.json", "/cves/b.yaml"},
			extensions: []string{".YAML"},
			root:       "/cves",
			want:       []string{"/cves/b.yaml"},
		},
		{
			name: "empty directories",
			dirs: []string{"/cves/2023/1xxx", "/cves/2024"},
			root: "/cves",
		},
		{
			name:    "missing root",
			root:    "/nowhere",
			wantErr: scanner.ErrRootAccess,
		},
		{
			name:    "root is a file",
			files:   []string{"/cves/a.json"},
			root:    "/cves/a.json",
			wantErr: scanner.ErrRootAccess,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			for _, d := range tt.dirs {
				require.NoError(t, fs.MkdirAll(d, 0o755))
			}
			for _, f := range tt.files {
				require.NoError(t, afero.WriteFile(fs, f, []byte("{}"), 0o644))
			}

			s := scanner.NewScanner(scanner.WithFs(fs))
			if tt.extensions != nil {
				s = scanner.NewScanner(scanner.WithFs(fs), scanner.WithExtensions(tt.extensions))
			}

			got, err := s.Scan(context.Background(), tt.root)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScanner_ScanDeepTree(t *testing.T) {
	fs := afero.NewMemMapFs()
	parts := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		parts = append(parts, fmt.Sprintf("d%d", i))
	}
	deep := "/" + strings.Join(parts, "/")
	require.NoError(t, afero.WriteFile(fs, deep+"/CVE-2020-0001.json", []byte("{}"), 0o644))

	got, err := scanner.NewScanner(scanner.WithFs(fs)).Scan(context.Background(), "/d0")
	require.NoError(t, err)
	assert.Equal(t, []string{deep + "/CVE-2020-0001.json"}, got)
}

func TestScanner_ScanSkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "real", "CVE-2021-0001.json"), []byte("{}"), 0o644))
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got, err := scanner.NewScanner().Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "real", "CVE-2021-0001.json")}, got)
}

func TestScanner_ScanCanceled(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cves/a.json", []byte("{}"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := scanner.NewScanner(scanner.WithFs(fs)).Scan(ctx, "/cves")
	assert.ErrorIs(t, err, context.Canceled)
}
