package transform

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/railsense/railwatch/internal/model"
)

//go:embed impact_policy.yaml
var defaultPolicyYAML []byte

// ImpactRule maps a duration threshold to an impact level. A rule with
// AboveMinutes zero acts as the catch-all for its type.
type ImpactRule struct {
	AboveMinutes float64 `yaml:"above_minutes"`
	Level        int     `yaml:"level"`
}

// ImpactPolicy derives the 1-5 impact level from (type, duration). The
// policy ships as an embedded YAML document and can be overridden from a
// file, so severity tuning does not require a rebuild.
type ImpactPolicy struct {
	// DefaultLevel applies when no other rule matches.
	DefaultLevel int `yaml:"default_level"`
	// TypeLevels assigns a fixed level to a type regardless of duration.
	TypeLevels map[string]int `yaml:"type_levels"`
	// SubstringLevels assigns a fixed level when the type contains the key
	// (catches upstream variants like "cancellations").
	SubstringLevels map[string]int `yaml:"substring_levels"`
	// Thresholds holds per-type duration rules, evaluated in order; the
	// first rule whose threshold the duration exceeds wins.
	Thresholds map[string][]ImpactRule `yaml:"thresholds"`
}

// DefaultImpactPolicy returns the embedded policy. It panics only if the
// bundled document is broken, which is a build defect.
func DefaultImpactPolicy() ImpactPolicy {
	var p ImpactPolicy
	if err := yaml.Unmarshal(defaultPolicyYAML, &p); err != nil {
		panic("transform: embedded impact policy is invalid: " + err.Error())
	}
	return p
}

// LoadImpactPolicy reads a policy override from a YAML file.
func LoadImpactPolicy(path string) (ImpactPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImpactPolicy{}, eris.Wrap(err, "transform: read impact policy")
	}
	var p ImpactPolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return ImpactPolicy{}, eris.Wrap(err, "transform: parse impact policy")
	}
	if p.DefaultLevel < 1 || p.DefaultLevel > 5 {
		return ImpactPolicy{}, eris.Errorf("transform: default_level %d out of range 1-5", p.DefaultLevel)
	}
	return p, nil
}

// Level computes the impact level for a normalized type and duration in
// minutes. The result is deterministic in (typ, durationMinutes) and always
// clamped to [1, 5].
func (p ImpactPolicy) Level(typ model.DisruptionType, durationMinutes float64) int {
	t := string(typ)

	if lvl, ok := p.TypeLevels[t]; ok {
		return clampLevel(lvl)
	}

	// Sorted iteration keeps substring matching deterministic if two keys
	// ever match the same type.
	keys := make([]string, 0, len(p.SubstringLevels))
	for k := range p.SubstringLevels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(strings.ToLower(t), k) {
			return clampLevel(p.SubstringLevels[k])
		}
	}

	for _, rule := range p.Thresholds[t] {
		if rule.AboveMinutes <= 0 || durationMinutes > rule.AboveMinutes {
			return clampLevel(rule.Level)
		}
	}

	return clampLevel(p.DefaultLevel)
}

func clampLevel(lvl int) int {
	if lvl < 1 {
		return 1
	}
	if lvl > 5 {
		return 5
	}
	return lvl
}
