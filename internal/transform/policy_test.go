package transform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/railsense/railwatch/internal/model"
)

func TestImpactPolicy_Level(t *testing.T) {
	p := DefaultImpactPolicy()

	cases := []struct {
		typ      model.DisruptionType
		duration float64
		want     int
	}{
		{model.TypeCalamity, 0, 5},
		{model.TypeCalamity, 600, 5},
		{model.TypeCancellation, 10, 5},
		{model.TypeMaintenance, 241, 4},
		{model.TypeMaintenance, 240, 3},
		{model.TypeMaintenance, 0, 3},
		{model.TypeDisruption, 121, 4},
		{model.TypeDisruption, 120, 3},
		{model.TypeDisruption, 61, 3},
		{model.TypeDisruption, 60, 2},
		{model.TypeDisruption, 0, 2},
		{model.DisruptionType("unknown"), 999, 2},
	}

	for _, tc := range cases {
		got := p.Level(tc.typ, tc.duration)
		assert.Equal(t, tc.want, got, "type=%s duration=%.0f", tc.typ, tc.duration)
	}
}

func TestImpactPolicy_Deterministic(t *testing.T) {
	p := DefaultImpactPolicy()
	for range 50 {
		assert.Equal(t, 4, p.Level(model.TypeDisruption, 150))
	}
}

func TestImpactPolicy_Clamped(t *testing.T) {
	p := ImpactPolicy{
		DefaultLevel: 9,
		TypeLevels:   map[string]int{"calamity": 0},
	}
	assert.Equal(t, 5, p.Level(model.DisruptionType("anything"), 0))
	assert.Equal(t, 1, p.Level(model.TypeCalamity, 0))
}

func TestLoadImpactPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_level: 1
type_levels:
  calamity: 5
thresholds:
  disruption:
    - above_minutes: 30
      level: 4
`), 0o644))

	p, err := LoadImpactPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Level(model.TypeCalamity, 0))
	assert.Equal(t, 4, p.Level(model.TypeDisruption, 31))
	assert.Equal(t, 1, p.Level(model.TypeDisruption, 10))
}

func TestLoadImpactPolicy_RejectsBadDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`default_level: 0`), 0o644))

	_, err := LoadImpactPolicy(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestLoadImpactPolicy_MissingFile(t *testing.T) {
	_, err := LoadImpactPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
