package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zephyr-ci/zephyr/internal/logger"
)

func TestValidateRunOptionsRejectsMissingConfig(t *testing.T) {
	err := validateRunOptions(runOptions{ConfigPath: "", Pipeline: "ci"})
	require.Error(t, err)
}

func TestValidateRunOptionsRejectsNonexistentConfig(t *testing.T) {
	err := validateRunOptions(runOptions{ConfigPath: "/nonexistent/zephyr.yaml", Pipeline: "ci"})
	require.Error(t, err)
}

func TestValidateRunOptionsRejectsMissingPipeline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zephyr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project:\n  id: p\n  name: p\n"), 0o644))

	err := validateRunOptions(runOptions{ConfigPath: path, Pipeline: ""})
	require.Error(t, err)
}

func writeRunConfig(t *testing.T, command string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "zephyr.yaml")
	doc := `
project:
  id: demo
  name: demo
pipelines:
  - name: ci
    triggers: ["push"]
    jobs:
      - name: build
        runner:
          image: ignored
          local: true
        steps:
          - id: run
            type: run
            command: "` + command + `"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestRunPipelineSucceedsForPassingJob(t *testing.T) {
	path := writeRunConfig(t, "true")
	log := logger.NewNop()

	err := runPipeline(context.Background(), log, runOptions{ConfigPath: path, Pipeline: "ci"})
	require.NoError(t, err)
}

func TestRunPipelineReturnsErrorForFailingJob(t *testing.T) {
	path := writeRunConfig(t, "false")
	log := logger.NewNop()

	err := runPipeline(context.Background(), log, runOptions{ConfigPath: path, Pipeline: "ci"})
	require.Error(t, err)
}
