package config

import (
	"fmt"
	"log/slog"
	"os"

	"inspectbot/internal/domain"

	"gopkg.in/yaml.v3"
)

// FlowsFile is the YAML file defining the integration-flow menu offered
// at the FLOW step, plus deployment-specific status synonyms.
type FlowsFile struct {
	IntegrationFlows []string          `yaml:"integrationFlows"`
	StatusSynonyms   map[string]string `yaml:"statusSynonyms,omitempty"` // word -> success | failure | all
}

// LoadFlows reads the flows file. A missing path yields the built-in
// defaults rather than an error, so deployments without a menu still work.
func LoadFlows(path string, logger *slog.Logger) ([]string, map[string]domain.StatusFilter, error) {
	if path == "" {
		return nil, nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("flows file does not exist, using defaults", "path", path)
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read flows file: %w", err)
	}

	var f FlowsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse flows file %s: %w", path, err)
	}

	synonyms := make(map[string]domain.StatusFilter, len(f.StatusSynonyms))
	for word, status := range f.StatusSynonyms {
		switch status {
		case "success":
			synonyms[word] = domain.StatusSuccess
		case "failure":
			synonyms[word] = domain.StatusFailure
		case "all":
			synonyms[word] = domain.StatusAll
		default:
			logger.Warn("unknown status in flows file, skipping synonym", "word", word, "status", status)
		}
	}

	logger.Info("loaded flows file", "path", path, "flows", len(f.IntegrationFlows), "synonyms", len(synonyms))
	return f.IntegrationFlows, synonyms, nil
}
