package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/chfs/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("CHFS_TEST_CLICKHOUSE_URL", "http://clickhouse:8123")

	path := writeConfig(t, `
name: churn
clickhouse:
  url: ${CHFS_TEST_CLICKHOUSE_URL}
redis:
  url: redis://redis:6379/0
pipeline:
  dropExisting: false
  ratios:
    train: 0.8
    validate: 0.2
scheduler:
  schedule: "@every 6h"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://clickhouse:8123", cfg.ClickHouse.URL)
	assert.Equal(t, 30*time.Second, cfg.ClickHouse.QueryTimeout)
	assert.False(t, cfg.Pipeline.DropExisting, "explicit false must override the default")
	assert.True(t, cfg.Pipeline.DropOnline)
	assert.InDelta(t, 0.8, cfg.Pipeline.Ratios.Train, 1e-9)
	assert.InDelta(t, 0.0, cfg.Pipeline.Ratios.TestShare(), 1e-9)
	assert.Equal(t, "@every 6h", cfg.Scheduler.Schedule)
	assert.Equal(t, "churn_label_table", cfg.Pipeline.LabelTable)
}

func TestLoadConfig_Minimal(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
clickhouse:
  url: http://clickhouse:8123
redis:
  url: redis://redis:6379/0
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "default", cfg.ClickHouse.Database)
	assert.Equal(t, "admin", cfg.ClickHouse.AdminDatabase)
	assert.Equal(t, 5*time.Minute, cfg.ClickHouse.InsertTimeout)
	assert.Equal(t, "churn", cfg.Name)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "pipeline: [not, a, map]"))
	require.Error(t, err)
}

func TestParseAssignments(t *testing.T) {
	values, err := parseAssignments([]string{"monthly_charges_in=80", "tenure_in=10"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"monthly_charges_in": "80", "tenure_in": "10"}, values)

	_, err = parseAssignments([]string{"tenure_in"})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = parseAssignments([]string{"=10"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPrintRunSummary(t *testing.T) {
	finished := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)

	var out bytes.Buffer
	printRunSummary(&out, &pipeline.RunSummary{
		ID:         "run-1",
		Status:     pipeline.StatusSucceeded,
		StartedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
		Stages:     []string{pipeline.StageRead, pipeline.StageLabels},
		Rows:       map[string]int{pipeline.StageRead: 10, pipeline.StageLabels: 10},
		Splits:     map[string]int{"train": 7, "validate": 2, "test": 1},
	})

	text := out.String()
	assert.Contains(t, text, "run-1")
	assert.Contains(t, text, "5s")
	assert.Regexp(t, `read\s+10`, text)
	assert.Regexp(t, `train\s+7`, text)
}

func TestPrintBuild(t *testing.T) {
	build := BuildInfo{Release: "v1.2.3", GitCommit: "abc123", GoVersion: "go1.24.0", Platform: "linux/amd64"}

	var text bytes.Buffer
	require.NoError(t, printBuild(&text, build, false))
	assert.Contains(t, text.String(), "Version: v1.2.3")
	assert.Contains(t, text.String(), "OS/Arch: linux/amd64")

	var raw bytes.Buffer
	require.NoError(t, printBuild(&raw, build, true))
	assert.JSONEq(t, `{"release":"v1.2.3","gitCommit":"abc123","goVersion":"go1.24.0","platform":"linux/amd64"}`, raw.String())

	assert.Equal(t, "chfs v1.2.3 (abc123)", build.String())
}
