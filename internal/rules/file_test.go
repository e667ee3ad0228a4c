package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ensemble/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	content := `
conversations:
  - trigger: beatles
    responds: [leadbelly, hendrix]
    probability: 0.7
    delay: 2s
    type: harmony
    description: melody reaches back
  - trigger: tesla
    responds: [pranksters]
    probability: 1.5
    delay: -500ms
    type: chaos
layers:
  - source: particles
    target: lighting
    when:
      on: source
      field: intensity
      op: gt
      value: 0.8
    effect:
      property: intensity
      modifier: 1.2
      duration: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	conversations, layers, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	require.Len(t, layers, 1)

	first := conversations[0]
	assert.Equal(t, "beatles", first.Trigger)
	assert.Equal(t, []string{"leadbelly", "hendrix"}, first.Responds)
	assert.Equal(t, 0.7, first.Probability)
	assert.Equal(t, 2*time.Second, first.Delay)
	assert.Equal(t, types.InteractionHarmony, first.Type)

	// Out-of-range probability and negative delay pass through untouched
	second := conversations[1]
	assert.Equal(t, 1.5, second.Probability)
	assert.Equal(t, -500*time.Millisecond, second.Delay)

	layer := layers[0]
	assert.Equal(t, "particles", layer.Source)
	assert.Equal(t, "lighting", layer.Target)
	assert.Equal(t, Condition{On: "source", Field: "intensity", Op: OpGreater, Value: 0.8}, layer.When)
	assert.Equal(t, types.Effect{Property: "intensity", Modifier: 1.2, Duration: 2 * time.Second}, layer.Effect)
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, _, err := LoadFile(filepath.Join(dir, "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("conversations: [oops"), 0644))
		_, _, err := LoadFile(path)
		assert.Error(t, err)
	})

	t.Run("missing trigger", func(t *testing.T) {
		path := filepath.Join(dir, "notrigger.yaml")
		require.NoError(t, os.WriteFile(path, []byte("conversations:\n  - responds: [x]\n"), 0644))
		_, _, err := LoadFile(path)
		assert.ErrorContains(t, err, "trigger required")
	})

	t.Run("bad delay", func(t *testing.T) {
		path := filepath.Join(dir, "baddelay.yaml")
		require.NoError(t, os.WriteFile(path, []byte("conversations:\n  - trigger: a\n    delay: soon\n"), 0644))
		_, _, err := LoadFile(path)
		assert.ErrorContains(t, err, "bad duration")
	})

	t.Run("missing layer endpoints", func(t *testing.T) {
		path := filepath.Join(dir, "nolayer.yaml")
		require.NoError(t, os.WriteFile(path, []byte("layers:\n  - source: particles\n"), 0644))
		_, _, err := LoadFile(path)
		assert.ErrorContains(t, err, "source and target required")
	})
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "rules.yaml")

	wantConv := DefaultConversationRules()
	wantLayers := DefaultLayerRules()
	require.NoError(t, SaveFile(path, wantConv, wantLayers))

	gotConv, gotLayers, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, wantConv, gotConv)
	assert.Equal(t, wantLayers, gotLayers)
}

func TestLoadFileEmptyDelayDefaultsToZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conversations:\n  - trigger: a\n    responds: [b]\n"), 0644))

	conversations, _, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, time.Duration(0), conversations[0].Delay)
}
