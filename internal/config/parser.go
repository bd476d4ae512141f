package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	streamyerrors "github.com/zephyr-ci/zephyr/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseDocument loads a pipeline configuration file from disk and performs
// struct-level validation (required fields, formats). Cross-pipeline
// validation (duplicate job names, dangling depends_on, matrix key
// collisions) is the planner's validatePipeline operation, run separately
// per selected pipeline.
func ParseDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, streamyerrors.NewParseError(path, 0, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, streamyerrors.NewParseError(path, extractLine(err), err)
	}
	doc.Project.ConfigPath = path

	if err := validatorInstance().Struct(&doc); err != nil {
		return nil, streamyerrors.NewValidationError("document", err.Error(), err)
	}

	for _, p := range doc.Pipelines {
		for _, j := range p.Jobs {
			for _, s := range j.Steps {
				if err := s.Validate(); err != nil {
					return nil, err
				}
			}
		}
	}

	return &doc, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}
	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}
	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
