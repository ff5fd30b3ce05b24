package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cynic-protocol/cynic-node/pkg/config"
	"github.com/cynic-protocol/cynic-node/pkg/dimension"
)

const validYAML = `
environment: devnet
version: "1"
genesis:
  timing_base_millis: 100
  axioms: ["PHI", "VERIFY", "CULTURE", "BURN"]
  feature_buckets: 16
  meta_dimensions:
    - name: CONFIDENCE_CEILING
      axiom: PHI
      weight: 1.618033988749895
      thresholds: {accept: 80, transform: 50, reject: 20}
    - name: DOUBT_FLOOR
      axiom: PHI
      weight: 1
      thresholds: {accept: 80, transform: 50, reject: 20}
operator:
  data_dir: ${DATA_DIR:-./data}
peers:
  listen_addr: "0.0.0.0:9000"
  max_peers: 50
consensus:
  worker_pool_size: 4
storage:
  root: ./state
api:
  listen_addr: "0.0.0.0:8080"
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesGenesisBundle(t *testing.T) {
	cfg, err := config.Load(writeTemp(t, validYAML))
	require.NoError(t, err)
	require.Equal(t, 100.0, cfg.Genesis.TimingBaseMillis)
	require.Len(t, cfg.Genesis.MetaDimensions, 2)
	require.NoError(t, cfg.Validate())
}

func TestLoadSubstitutesEnvVarDefault(t *testing.T) {
	cfg, err := config.Load(writeTemp(t, validYAML))
	require.NoError(t, err)
	require.Equal(t, "./data", cfg.Operator.DataDir)
}

func TestLoadSubstitutesEnvVarOverride(t *testing.T) {
	t.Setenv("DATA_DIR", "/var/lib/cynic")
	cfg, err := config.Load(writeTemp(t, validYAML))
	require.NoError(t, err)
	require.Equal(t, "/var/lib/cynic", cfg.Operator.DataDir)
}

func TestValidateRejectsMissingTimingBase(t *testing.T) {
	cfg, err := config.Load(writeTemp(t, `
genesis:
  axioms: ["PHI", "VERIFY", "CULTURE", "BURN"]
  feature_buckets: 16
  meta_dimensions:
    - {name: CONFIDENCE_CEILING, axiom: PHI, weight: 1, thresholds: {accept: 1, transform: 1, reject: 1}}
operator: {data_dir: ./data}
consensus: {worker_pool_size: 1}
storage: {root: ./state}
`))
	require.NoError(t, err)
	err = cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "timing_base_millis")
}

func TestValidateRejectsWrongAxiomCount(t *testing.T) {
	cfg, err := config.Load(writeTemp(t, `
genesis:
  timing_base_millis: 100
  axioms: ["PHI", "VERIFY"]
  feature_buckets: 16
  meta_dimensions:
    - {name: CONFIDENCE_CEILING, axiom: PHI, weight: 1, thresholds: {accept: 1, transform: 1, reject: 1}}
operator: {data_dir: ./data}
consensus: {worker_pool_size: 1}
storage: {root: ./state}
`))
	require.NoError(t, err)
	require.ErrorContains(t, cfg.Validate(), "genesis.axioms")
}

func TestMetaDimensionsBuildsRegistryReadyDimensions(t *testing.T) {
	cfg, err := config.Load(writeTemp(t, validYAML))
	require.NoError(t, err)

	noop := func(item []byte, ctx map[string]any) (float64, error) { return 50, nil }
	dims, err := cfg.MetaDimensions(map[string]dimension.Evaluator{
		"CONFIDENCE_CEILING": noop,
		"DOUBT_FLOOR":        noop,
	})
	require.NoError(t, err)
	require.Len(t, dims, 2)
	for _, d := range dims {
		require.True(t, d.Meta)
	}
}

func TestMetaDimensionsErrorsOnUnboundEvaluator(t *testing.T) {
	cfg, err := config.Load(writeTemp(t, validYAML))
	require.NoError(t, err)

	_, err = cfg.MetaDimensions(map[string]dimension.Evaluator{})
	require.Error(t, err)
}
