// Copyright 2025 Cynic Protocol
//
// Node Configuration
//
// This package loads a node's genesis + deployment configuration from
// a single YAML file, following pkg/config/anchor_config.go's
// AnchorConfig pattern: a nested settings tree, ${VAR_NAME} environment
// substitution before unmarshal, and a Validate pass that runs after
// Load rather than being folded into unmarshaling itself.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cynic-protocol/cynic-node/pkg/cynicerr"
	"github.com/cynic-protocol/cynic-node/pkg/dimension"
)

// NodeConfig is the genesis + deployment configuration for one node.
// The Genesis section must be byte-identical across every node on the
// network (§9: "published once, identically, to every node"); the
// remaining sections are per-deployment.
type NodeConfig struct {
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	Genesis   GenesisSettings   `yaml:"genesis"`
	Operator  OperatorSettings  `yaml:"operator"`
	Peers     PeerSettings      `yaml:"peers"`
	Consensus ConsensusSettings `yaml:"consensus"`
	Storage   StorageSettings   `yaml:"storage"`
	API       APISettings       `yaml:"api"`
	Metrics   MetricsSettings   `yaml:"metrics"`
	Logging   LoggingSettings   `yaml:"logging"`
}

// GenesisSettings fixes the network-wide constants §9 requires to be
// "published as part of genesis": the timing base, the four axioms,
// the META dimensions every judgment runs, and the feature-vector
// bucketing scheme.
//
// TimingBaseMillis has no compiled-in default (§9 Open Question,
// resolved): a genesis.yaml that omits it is a Configuration-class
// fatal error at startup, never a silent fallback to some built-in
// base that could let two deployments disagree about SLOT length.
type GenesisSettings struct {
	TimingBaseMillis float64               `yaml:"timing_base_millis"`
	Axioms           []string              `yaml:"axioms"`
	MetaDimensions   []MetaDimensionConfig `yaml:"meta_dimensions"`
	FeatureBuckets   int                   `yaml:"feature_buckets"`
}

// MetaDimensionConfig describes one of the always-on META dimensions
// (CONFIDENCE_CEILING, DOUBT_FLOOR) fixed at genesis. The Evaluator
// itself is never configuration — only its name, axiom, weight and
// thresholds are; the node wires the actual scoring function in code
// by dimension name at startup.
type MetaDimensionConfig struct {
	Name       string            `yaml:"name"`
	Axiom      string            `yaml:"axiom"`
	Weight     float64           `yaml:"weight"`
	Thresholds ThresholdSettings `yaml:"thresholds"`
}

type ThresholdSettings struct {
	Accept    float64 `yaml:"accept"`
	Transform float64 `yaml:"transform"`
	Reject    float64 `yaml:"reject"`
}

func (t ThresholdSettings) toDimension() dimension.Thresholds {
	return dimension.Thresholds{Accept: t.Accept, Transform: t.Transform, Reject: t.Reject}
}

// OperatorSettings locates this node's own identity and persisted
// state on disk.
type OperatorSettings struct {
	PrivateKeyPath string `yaml:"private_key_path"`
	DataDir        string `yaml:"data_dir"`
}

// PeerSettings seeds the gossip PeerSet (§4.C7) at startup.
type PeerSettings struct {
	ListenAddr string   `yaml:"listen_addr"`
	Seeds      []string `yaml:"seeds"`
	MaxPeers   int      `yaml:"max_peers"`
}

// ConsensusSettings tunes the φ-BFT engine (§4.C8) knobs that are
// deployment-local, not genesis-fixed. The quorum size is not among
// them: cmd/cynicd passes the fixed protocol constant F(5) to the engine.
type ConsensusSettings struct {
	EpochLengthSlots  uint64 `yaml:"epoch_length_slots"`
	InboundQueueDepth int    `yaml:"inbound_queue_depth"`
	WorkerPoolSize    int    `yaml:"worker_pool_size"`
}

// StorageSettings points at the persisted state root (§6) and,
// optionally, the Postgres secondary index (pkg/storage/pgindex).
type StorageSettings struct {
	Root                 string `yaml:"root"`
	KVBackend            string `yaml:"kv_backend"` // e.g. "goleveldb", "memdb"
	PostgresDSN          string `yaml:"postgres_dsn"`
	PostgresMaxOpenConns int    `yaml:"postgres_max_open_conns"`
}

type APISettings struct {
	ListenAddr string `yaml:"listen_addr"`
}

type MetricsSettings struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration for YAML unmarshaling, carried from the
// teacher's config package unchanged: genesis/node YAML expresses
// durations as strings ("30s"), never bare nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR} / ${VAR:-default} with environment
// variable values before the YAML is parsed, exactly as the teacher's
// anchor config loader does — configuration files are checked into
// version control, secrets are not.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads and parses a genesis/node configuration file at path,
// substituting ${VAR} environment references first. It does not
// validate — call Validate separately so callers can decide whether a
// partially-populated config (e.g. in a test) is acceptable.
func Load(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cynicerr.Wrapf(err, cynicerr.Configuration, "config: read %s", path)
	}

	expanded := substituteEnvVars(string(data))

	var cfg NodeConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, cynicerr.Wrapf(err, cynicerr.Configuration, "config: parse %s", path)
	}
	return &cfg, nil
}

// Validate checks that every field required to start a node safely is
// present. It is intentionally strict about the genesis section in
// particular: genesis values are the one thing every operator on the
// network must agree on bit-for-bit, so there are no silent defaults
// to fall back to.
func (c *NodeConfig) Validate() error {
	var errs []string

	if c.Genesis.TimingBaseMillis <= 0 {
		errs = append(errs, "genesis.timing_base_millis is required and must be positive")
	}
	if len(c.Genesis.Axioms) != len(dimension.Axioms) {
		errs = append(errs, fmt.Sprintf("genesis.axioms must list exactly %d axioms", len(dimension.Axioms)))
	} else {
		seen := make(map[string]bool, len(c.Genesis.Axioms))
		for _, a := range c.Genesis.Axioms {
			if !dimension.Axiom(a).Valid() {
				errs = append(errs, fmt.Sprintf("genesis.axioms: %q is not a recognized axiom", a))
			}
			seen[a] = true
		}
		if len(seen) != len(dimension.Axioms) {
			errs = append(errs, "genesis.axioms must not repeat an axiom")
		}
	}
	if len(c.Genesis.MetaDimensions) == 0 {
		errs = append(errs, "genesis.meta_dimensions must list at least the CONFIDENCE_CEILING and DOUBT_FLOOR dimensions")
	}
	for _, md := range c.Genesis.MetaDimensions {
		if md.Name == "" {
			errs = append(errs, "genesis.meta_dimensions: name must not be empty")
		}
		if !dimension.Axiom(md.Axiom).Valid() {
			errs = append(errs, fmt.Sprintf("genesis.meta_dimensions[%s]: invalid axiom %q", md.Name, md.Axiom))
		}
		if md.Weight <= 0 {
			errs = append(errs, fmt.Sprintf("genesis.meta_dimensions[%s]: weight must be positive", md.Name))
		}
	}
	if c.Genesis.FeatureBuckets <= 0 {
		errs = append(errs, "genesis.feature_buckets must be positive")
	}

	if c.Operator.DataDir == "" {
		errs = append(errs, "operator.data_dir is required")
	}

	if c.Consensus.WorkerPoolSize <= 0 {
		errs = append(errs, "consensus.worker_pool_size must be positive")
	}

	if c.Storage.Root == "" {
		errs = append(errs, "storage.root is required")
	}
	if c.Storage.PostgresDSN != "" && c.Storage.PostgresMaxOpenConns <= 0 {
		errs = append(errs, "storage.postgres_max_open_conns must be positive when storage.postgres_dsn is set")
	}

	if len(errs) > 0 {
		return cynicerr.Newf(cynicerr.Configuration, "config: validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// MetaDimensions builds the §3 META dimensions this genesis bundle
// declares, ready for dimension.Registry.RegisterSeed. evaluators maps
// dimension name to the evaluator function the node binds in code —
// configuration never carries executable scoring logic (§4.C5: "pure
// functions", not data).
func (c *NodeConfig) MetaDimensions(evaluators map[string]dimension.Evaluator) ([]*dimension.Dimension, error) {
	out := make([]*dimension.Dimension, 0, len(c.Genesis.MetaDimensions))
	for _, md := range c.Genesis.MetaDimensions {
		eval, ok := evaluators[md.Name]
		if !ok {
			return nil, cynicerr.Newf(cynicerr.Configuration, "config: no evaluator bound for META dimension %q", md.Name)
		}
		out = append(out, &dimension.Dimension{
			Name:       md.Name,
			Axiom:      dimension.Axiom(md.Axiom),
			Weight:     md.Weight,
			Thresholds: md.Thresholds.toDimension(),
			Evaluator:  eval,
			Meta:       true,
		})
	}
	return out, nil
}
