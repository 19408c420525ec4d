package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orderlens/orderlens-backend/internal/grade"
	"github.com/orderlens/orderlens-backend/internal/pipeline"
	"github.com/orderlens/orderlens-backend/internal/platform/envutil"
	"github.com/orderlens/orderlens-backend/internal/splitter"
	"github.com/orderlens/orderlens-backend/internal/voiceid"
)

// Config collects every pipeline knob. Values come from the environment;
// a YAML file named by ORDERLENS_CONFIG overrides individual fields, which
// keeps per-store tuning out of the deployment env.
type Config struct {
	LogMode     string  `yaml:"log_mode"`
	MaxMemoryGB float64 `yaml:"max_memory_gb"`

	Splitter splitter.Config `yaml:"splitter"`
	Grader   grade.Config    `yaml:"grader"`
	Voice    voiceid.Config  `yaml:"voice"`
	Pipeline pipeline.Config `yaml:"pipeline"`
}

func LoadConfig() (Config, error) {
	cfg := Config{
		LogMode:     envutil.String("LOG_MODE", "prod"),
		MaxMemoryGB: envutil.Float("MAX_MEMORY_GB", 7.5),
		Splitter: splitter.Config{
			TargetChunkSec:   envutil.Float("SPLIT_TARGET_CHUNK_SEC", 1200),
			OverlapSec:       envutil.Float("SPLIT_OVERLAP_SEC", 5),
			MaxSizeBytes:     envutil.Int64("SPLIT_MAX_SIZE_BYTES", 512<<20),
			MaxDurationSec:   envutil.Float("SPLIT_MAX_DURATION_SEC", 1500),
			SilenceWindowSec: envutil.Float("SPLIT_SILENCE_WINDOW_SEC", 7),
			SilenceEpsilon:   envutil.Float("SPLIT_SILENCE_EPSILON", 0),
		},
		Grader: grade.Config{
			InputTokenRate:  envutil.Float("GRADER_INPUT_TOKEN_RATE", 0.00001),
			OutputTokenRate: envutil.Float("GRADER_OUTPUT_TOKEN_RATE", 0.00004),
		},
		Voice: voiceid.Config{
			MatchThreshold: envutil.Float("VOICE_MATCH_THRESHOLD", 0.2),
			TargetConcatMs: envutil.Int("VOICE_TARGET_CONCAT_MS", 8000),
			MaxConcatUtts:  envutil.Int("VOICE_MAX_CONCAT_UTTS", 6),
			MinUtteranceMs: envutil.Int("VOICE_MIN_UTTERANCE_MS", 1000),
			Parallelism:    envutil.Int("VOICE_PARALLELISM", 5),
		},
		Pipeline: pipeline.Config{
			ChunkParallelism:     envutil.Int("PIPELINE_CHUNK_PARALLELISM", 5),
			GradeParallelism:     envutil.Int("PIPELINE_GRADE_PARALLELISM", 5),
			MinCompletedFraction: envutil.Float("PIPELINE_MIN_COMPLETED_FRACTION", 0),
			MaxJobDurationSec:    envutil.Int("PIPELINE_MAX_JOB_DURATION_SEC", 21600),
		},
	}

	if path := envutil.String("ORDERLENS_CONFIG", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	return cfg, nil
}
