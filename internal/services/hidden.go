package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
)

// HiddenRule maps a harvest source (matched as a case-insensitive
// substring) to the hidden collection its records belong in.
type HiddenRule struct {
	Match      string `yaml:"match"`
	Collection string `yaml:"collection"`
}

// HiddenCollections decides which hidden collection replaces the
// default "Literature" collection for records arriving from sources
// that must not be publicly visible yet. Rule order matters; the first
// match wins.
type HiddenCollections struct {
	rules []HiddenRule
	log   *logger.Logger
}

func NewHiddenCollections(rules []HiddenRule, baseLog *logger.Logger) *HiddenCollections {
	return &HiddenCollections{
		rules: rules,
		log:   baseLog.With("service", "HiddenCollections"),
	}
}

// LoadHiddenCollections reads the rule table from a YAML file.
func LoadHiddenCollections(path string, baseLog *logger.Logger) (*HiddenCollections, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hidden collections config: %w", err)
	}
	var doc struct {
		Rules []HiddenRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("hidden collections config: %w", err)
	}
	return NewHiddenCollections(doc.Rules, baseLog), nil
}

// CollectionFor returns the hidden collection for a harvest source, or
// "" when the source publishes normally.
func (h *HiddenCollections) CollectionFor(source string) string {
	if h == nil || source == "" {
		return ""
	}
	lowered := strings.ToLower(source)
	for _, rule := range h.rules {
		if rule.Match != "" && strings.Contains(lowered, strings.ToLower(rule.Match)) {
			return rule.Collection
		}
	}
	return ""
}
