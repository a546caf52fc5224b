package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/vuln-list-ingest/pipeline"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		check   func(t *testing.T, dir string, batchSize, concurrency int, policy string, progress bool)
		wantErr string
	}{
		{
			name: "defaults",
			check: func(t *testing.T, dir string, batchSize, concurrency int, policy string, progress bool) {
				assert.Equal(t, 1000, batchSize)
				assert.Equal(t, 10, concurrency)
				assert.Equal(t, "fail-fast", policy)
				assert.True(t, progress)
			},
		},
		{
			name: "flags win over env",
			args: []string{"--dir", "/from/flag", "--batch-size", "50", "--policy", "skip", "--progress=false"},
			env: map[string]string{
				"VULN_LIST_INGEST_DIR":                    "/from/env",
				"VULN_LIST_INGEST_MAX_CONCURRENT_BATCHES": "2",
			},
			check: func(t *testing.T, dir string, batchSize, concurrency int, policy string, progress bool) {
				assert.Equal(t, "/from/flag", dir)
				assert.Equal(t, 50, batchSize)
				assert.Equal(t, 2, concurrency)
				assert.Equal(t, "skip", policy)
				assert.False(t, progress)
			},
		},
		{
			name:    "invalid batch size",
			args:    []string{"--batch-size", "0"},
			wantErr: "batch_size must be positive",
		},
		{
			name:    "unknown policy",
			args:    []string{"--policy", "retry"},
			wantErr: "unknown failure policy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))

			var f flags
			fl := cmd.Flags()
			f.config, _ = fl.GetString("config")
			f.dir, _ = fl.GetString("dir")
			f.policy, _ = fl.GetString("policy")
			f.batchSize, _ = fl.GetInt("batch-size")
			f.progress, _ = fl.GetBool("progress")

			c, err := loadConfig(cmd, f)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, c.Dir, c.BatchSize, c.MaxConcurrentBatches, c.FailurePolicy, c.Progress)
		})
	}
}

func TestEnsureParentDir(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{name: "plain path", dsn: filepath.Join(root, "a", "cve.db"), want: filepath.Join(root, "a")},
		{name: "uri with query", dsn: "file:" + filepath.Join(root, "b", "cve.db") + "?_pragma=foreign_keys(1)", want: filepath.Join(root, "b")},
		{name: "existing dir", dsn: filepath.Join(root, "cve.db"), want: root},
		{name: "memory", dsn: ":memory:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ensureParentDir(tt.dsn))
			if tt.want == "" {
				return
			}
			fi, err := os.Stat(tt.want)
			require.NoError(t, err)
			assert.True(t, fi.IsDir())
		})
	}
}

func TestWriteSummary(t *testing.T) {
	fs := afero.NewMemMapFs()
	summary := pipeline.Summary{
		Files:            3,
		Batches:          2,
		CommittedBatches: 1,
		FailedBatches:    1,
		SkippedFiles:     []string{"/cves/CVE-2.json"},
		Records:          1,
		References:       2,
		RecordReferences: 2,
	}
	require.NoError(t, writeSummary(fs, "/out/summary.json", summary))

	b, err := afero.ReadFile(fs, "/out/summary.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"files": 3,
		"batches": 2,
		"committedBatches": 1,
		"failedBatches": 1,
		"skippedFiles": ["/cves/CVE-2.json"],
		"records": 1,
		"problemTypes": 0,
		"affectedProducts": 0,
		"productVersions": 0,
		"references": 2,
		"recordReferences": 2
	}`, string(b))
}
