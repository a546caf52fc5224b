package utils

import (
	"bytes"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMemFS struct {
	afero.Fs
	create func(string) (afero.File, error)
}

func (ffs fakeMemFS) Create(name string) (afero.File, error) {
	if ffs.create != nil {
		return ffs.create(name)
	}
	return ffs.Fs.Create(name)
}

func TestFs_WriteJSON(t *testing.T) {
	testCases := []struct {
		name          string
		memfs         Fs
		inputData     interface{}
		expectedError error
	}{
		{
			name:      "happy path",
			memfs:     NewFs(fakeMemFS{Fs: afero.NewMemMapFs()}),
			inputData: `{}`,
		},
		{
			name: "sad path: fs.AppFs.Create returns an error",
			memfs: NewFs(fakeMemFS{
				Fs: afero.NewMemMapFs(),
				create: func(s string) (file afero.File, e error) {
					return nil, errors.New("cannot create file")
				},
			}),
			expectedError: errors.New("unable to open a file: cannot create file"),
		},
		{
			name:          "sad path: bad json input data",
			memfs:         NewFs(fakeMemFS{Fs: afero.NewMemMapFs()}),
			inputData:     math.NaN(),
			expectedError: errors.New("failed to marshal JSON: json: unsupported value: NaN"),
		},
	}

	for _, tc := range testCases {
		err := tc.memfs.WriteJSON("foo/bar.json", tc.inputData)
		switch {
		case tc.expectedError != nil:
			assert.Equal(t, tc.expectedError.Error(), err.Error(), tc.name)
		default:
			assert.NoError(t, err, tc.name)
		}
	}
}

func TestFs_ReadFile(t *testing.T) {
	appFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(appFs, "/data/plain.json", []byte(`{"a":1}`), 0o644))

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(`{"b":2}`))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, afero.WriteFile(appFs, "/data/packed.json.gz", buf.Bytes(), 0o644))
	require.NoError(t, afero.WriteFile(appFs, "/data/broken.json.gz", []byte("not gzip"), 0o644))

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr string
	}{
		{
			name: "plain file",
			path: "/data/plain.json",
			want: `{"a":1}`,
		},
		{
			name: "gzip file",
			path: "/data/packed.json.gz",
			want: `{"b":2}`,
		},
		{
			name:    "broken gzip",
			path:    "/data/broken.json.gz",
			wantErr: "unable to open gzip stream",
		},
		{
			name:    "missing file",
			path:    "/data/missing.json",
			wantErr: "unable to open a file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewFs(appFs).ReadFile(tt.path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestLookupEnvInt(t *testing.T) {
	t.Setenv("VULN_LIST_INGEST_TEST_INT", "42")
	got, err := LookupEnvInt("VULN_LIST_INGEST_TEST_INT", 1)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = LookupEnvInt("VULN_LIST_INGEST_TEST_UNSET", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	t.Setenv("VULN_LIST_INGEST_TEST_INT", "many")
	_, err = LookupEnvInt("VULN_LIST_INGEST_TEST_INT", 1)
	assert.ErrorContains(t, err, "invalid VULN_LIST_INGEST_TEST_INT")
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	ok, err := Exists(dir)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(dir + string(os.PathSeparator) + "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
