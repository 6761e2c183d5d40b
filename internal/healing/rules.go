package healing

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sentinelstack/sentinel-heal/internal/models"
)

// rulePack is the YAML shape of a rules file.
type rulePack struct {
	Actions []models.SelfHealingAction `yaml:"actions"`
}

// rule pairs a configured action with its compiled condition.
type rule struct {
	action models.SelfHealingAction
	cond   *condition
}

// loadRules reads and compiles a rule pack. An empty path or a missing
// file yields no rules; the engine then runs with nothing to do, which
// is a supported configuration.
func loadRules(path string) ([]*rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rules: %w", err)
	}

	var pack rulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}

	seen := make(map[string]bool, len(pack.Actions))
	rules := make([]*rule, 0, len(pack.Actions))
	for i, action := range pack.Actions {
		if action.ID == "" {
			return nil, fmt.Errorf("rules %s: action %d has no id", path, i)
		}
		if seen[action.ID] {
			return nil, fmt.Errorf("rules %s: duplicate action id %q", path, action.ID)
		}
		seen[action.ID] = true
		if action.CooldownMinutes < 0 {
			return nil, fmt.Errorf("rules %s: action %q has negative cooldown", path, action.ID)
		}
		cond, err := parseCondition(action.Condition)
		if err != nil {
			return nil, fmt.Errorf("rules %s: action %q: %w", path, action.ID, err)
		}
		rules = append(rules, &rule{action: action, cond: cond})
	}

	// Lower Priority value means the rule is considered first. Ties keep
	// a stable id order so evaluation is deterministic.
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].action.Priority == rules[j].action.Priority {
			return rules[i].action.ID < rules[j].action.ID
		}
		return rules[i].action.Priority < rules[j].action.Priority
	})
	return rules, nil
}
