package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDoc = `
project:
  id: proj-1
  name: demo
pipelines:
  - name: ci
    triggers: ["push"]
    jobs:
      - name: build
        runner:
          image: ubuntu-22.04
        steps:
          - id: compile
            type: run
            command: "make build"
      - name: test
        runner:
          image: ubuntu-22.04
        depends_on: ["build"]
        steps:
          - id: run-tests
            type: run
            command: "make test"
`

func writeTempDoc(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseDocumentValid(t *testing.T) {
	t.Parallel()
	path := writeTempDoc(t, sampleDoc)

	doc, err := ParseDocument(path)
	require.NoError(t, err)
	require.Equal(t, "demo", doc.Project.Name)
	require.Len(t, doc.Pipelines, 1)
	require.Equal(t, "ci", doc.Pipelines[0].Name)
	require.Len(t, doc.Pipelines[0].Jobs, 2)
	require.Equal(t, []string{"build"}, doc.Pipelines[0].Jobs[1].DependsOn)
}

func TestParseDocumentMissingFile(t *testing.T) {
	t.Parallel()
	_, err := ParseDocument(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseDocumentRequiresJobs(t *testing.T) {
	t.Parallel()
	path := writeTempDoc(t, `
project:
  id: p
  name: p
pipelines:
  - name: ci
    triggers: ["push"]
    jobs: []
`)
	_, err := ParseDocument(path)
	require.Error(t, err)
}

func TestStepValidateRequiresCommandForRun(t *testing.T) {
	t.Parallel()
	s := StepDefinition{ID: "x", Type: StepRun}
	require.Error(t, s.Validate())
}

func TestStepValidateRequiresRuntimeForSetup(t *testing.T) {
	t.Parallel()
	s := StepDefinition{ID: "x", Type: StepSetup}
	require.Error(t, s.Validate())
}

func TestStepValidateCheckoutHasNoExtraRequirement(t *testing.T) {
	t.Parallel()
	s := StepDefinition{ID: "x", Type: StepCheckout}
	require.NoError(t, s.Validate())
}
