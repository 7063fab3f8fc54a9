// Package config loads HERMES's YAML configuration into a Config struct
// mirroring the Chunk/Embed/Index/Search/General sections of the external
// interface, with environment variable overrides for container deployments.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected at a root path.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config is HERMES's full runtime configuration.
type Config struct {
	Chunk      ChunkConfig      `yaml:"chunk" json:"chunk"`
	Embed      EmbedConfig      `yaml:"embed" json:"embed"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	General    GeneralConfig    `yaml:"general" json:"general"`
	Submodules SubmoduleConfig  `yaml:"submodules" json:"submodules"`
}

// ChunkConfig configures the chunker.
type ChunkConfig struct {
	MaxChars     int `yaml:"max_chars" json:"max_chars"`
	OverlapLines int `yaml:"overlap_lines" json:"overlap_lines"`
	MinChars     int `yaml:"min_chars" json:"min_chars"`
}

// EmbedConfig configures the bi-encoder, cross-encoder and query cache.
type EmbedConfig struct {
	Provider             string `yaml:"provider" json:"provider"`
	BiencoderModel       string `yaml:"biencoder_model" json:"biencoder_model"`
	BiencoderBatchSize   int    `yaml:"biencoder_batch_size" json:"biencoder_batch_size"`
	BiencoderMaxLength   int    `yaml:"biencoder_max_length" json:"biencoder_max_length"`
	CrossencoderModel    string `yaml:"crossencoder_model" json:"crossencoder_model"`
	CrossencoderBatchSize int   `yaml:"crossencoder_batch_size" json:"crossencoder_batch_size"`
	CrossencoderMaxLength int   `yaml:"crossencoder_max_length" json:"crossencoder_max_length"`
	QueryCacheSize       int    `yaml:"query_cache_size" json:"query_cache_size"`
}

// IndexConfig configures the dense index backend.
type IndexConfig struct {
	FaissUseIVF   bool `yaml:"faiss_use_ivf" json:"faiss_use_ivf"`
	FaissNprobe   int  `yaml:"faiss_nprobe" json:"faiss_nprobe"`
	FaissIVFNlist int  `yaml:"faiss_ivf_nlist" json:"faiss_ivf_nlist"`
}

// SearchConfig configures the search pipeline's retrieval and rerank stages.
type SearchConfig struct {
	RetrievalMode       string  `yaml:"retrieval_mode" json:"retrieval_mode"`
	TopKRetrieve        int     `yaml:"top_k_retrieve" json:"top_k_retrieve"`
	TopKRerank          int     `yaml:"top_k_rerank" json:"top_k_rerank"`
	MaxRerankCandidates int     `yaml:"max_rerank_candidates" json:"max_rerank_candidates"`
	RerankTimeoutSeconds float64 `yaml:"rerank_timeout_seconds" json:"rerank_timeout_seconds"`
	RRFK                int     `yaml:"rrf_k" json:"rrf_k"`
}

// GeneralConfig configures process-wide concerns: artifact location and logging.
type GeneralConfig struct {
	ArtifactsDir string `yaml:"artifacts_dir" json:"artifacts_dir"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
	LogJSON      bool   `yaml:"log_json" json:"log_json"`
}

// SubmoduleConfig configures git submodule discovery for the scanner.
type SubmoduleConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Recursive bool     `yaml:"recursive" json:"recursive"`
	Include   []string `yaml:"include" json:"include"`
	Exclude   []string `yaml:"exclude" json:"exclude"`
}

// RerankTimeout returns the configured rerank deadline as a time.Duration.
func (c SearchConfig) RerankTimeout() time.Duration {
	return time.Duration(c.RerankTimeoutSeconds * float64(time.Second))
}

// Default returns the package's stated defaults.
func Default() *Config {
	return &Config{
		Chunk: ChunkConfig{
			MaxChars:     1500,
			OverlapLines: 3,
			MinChars:     50,
		},
		Embed: EmbedConfig{
			BiencoderBatchSize:    64,
			BiencoderMaxLength:    512,
			CrossencoderBatchSize: 16,
			CrossencoderMaxLength: 512,
			QueryCacheSize:        1024,
		},
		Index: IndexConfig{
			FaissUseIVF:   false,
			FaissNprobe:   8,
			FaissIVFNlist: 100,
		},
		Search: SearchConfig{
			RetrievalMode:        "hybrid",
			TopKRetrieve:         100,
			TopKRerank:           10,
			MaxRerankCandidates:  50,
			RerankTimeoutSeconds: 10.0,
			RRFK:                 60,
		},
		General: GeneralConfig{
			ArtifactsDir: ".hermes/artifacts",
			LogLevel:     "INFO",
			LogJSON:      false,
		},
		Submodules: SubmoduleConfig{
			Recursive: true,
		},
	}
}

// Load reads hermes.yaml (or hermes.yml) from dir, merges it over the
// defaults, applies HERMES_* environment overrides, and validates the
// result. A missing config file is not an error — defaults alone are valid.
func Load(dir string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{"hermes.yaml", "hermes.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path over c with KnownFields(true), so a typo'd or
// unrecognized key fails the load instead of silently being ignored.
// Unknown configuration keys are rejected, not tolerated.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies HERMES_* environment variable overrides, the
// highest-precedence configuration source, for container deployments.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HERMES_RETRIEVAL_MODE"); v != "" {
		c.Search.RetrievalMode = v
	}
	if v := os.Getenv("HERMES_TOP_K_RETRIEVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.TopKRetrieve = n
		}
	}
	if v := os.Getenv("HERMES_TOP_K_RERANK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.TopKRerank = n
		}
	}
	if v := os.Getenv("HERMES_RERANK_TIMEOUT_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Search.RerankTimeoutSeconds = f
		}
	}
	if v := os.Getenv("HERMES_RRF_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.RRFK = n
		}
	}
	if v := os.Getenv("HERMES_BIENCODER_MODEL"); v != "" {
		c.Embed.BiencoderModel = v
	}
	if v := os.Getenv("HERMES_CROSSENCODER_MODEL"); v != "" {
		c.Embed.CrossencoderModel = v
	}
	if v := os.Getenv("HERMES_ARTIFACTS_DIR"); v != "" {
		c.General.ArtifactsDir = v
	}
	if v := os.Getenv("HERMES_LOG_LEVEL"); v != "" {
		c.General.LogLevel = v
	}
	if v := os.Getenv("HERMES_LOG_JSON"); v != "" {
		c.General.LogJSON = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("HERMES_FAISS_USE_IVF"); v != "" {
		c.Index.FaissUseIVF = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate rejects configurations the pipeline and orchestrator could not
// run with.
func (c *Config) Validate() error {
	mode := strings.ToLower(c.Search.RetrievalMode)
	if mode != "dense" && mode != "sparse" && mode != "hybrid" {
		return fmt.Errorf("search.retrieval_mode must be 'dense', 'sparse', or 'hybrid', got %q", c.Search.RetrievalMode)
	}
	if c.Search.TopKRetrieve <= 0 {
		return fmt.Errorf("search.top_k_retrieve must be positive, got %d", c.Search.TopKRetrieve)
	}
	if c.Search.TopKRerank <= 0 {
		return fmt.Errorf("search.top_k_rerank must be positive, got %d", c.Search.TopKRerank)
	}
	if c.Search.RerankTimeoutSeconds <= 0 {
		return fmt.Errorf("search.rerank_timeout_seconds must be positive, got %f", c.Search.RerankTimeoutSeconds)
	}
	if c.Search.RRFK < 0 {
		return fmt.Errorf("search.rrf_k must be non-negative, got %d", c.Search.RRFK)
	}
	if c.Chunk.MaxChars <= c.Chunk.MinChars {
		return fmt.Errorf("chunk.max_chars (%d) must exceed chunk.min_chars (%d)", c.Chunk.MaxChars, c.Chunk.MinChars)
	}
	validLevels := map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}
	if !validLevels[strings.ToUpper(c.General.LogLevel)] {
		return fmt.Errorf("general.log_level must be DEBUG, INFO, WARN, or ERROR, got %q", c.General.LogLevel)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file, for example to
// materialize a starting hermes.yaml for a new repository. Any file already
// at path is backed up first.
func (c *Config) WriteYAML(path string) error {
	if _, err := Backup(path); err != nil {
		return fmt.Errorf("failed to back up existing config: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DetectProjectType detects the project type based on marker files. The
// CLI and the index build do not call it.
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}
	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}
	if fileExists(filepath.Join(dir, "pyproject.toml")) || fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}
	return ProjectTypeUnknown
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (p ProjectType) String() string { return string(p) }
