package config

import "time"

// SessionConfig configures the tiered session memory (internal/sessions).
type SessionConfig struct {
	HotTier                 HotTierConfig        `yaml:"hot_tier"`
	ColdTier                DatabaseConfig       `yaml:"cold_tier"`
	AutoCheckpointThreshold int                  `yaml:"auto_checkpoint_threshold"`
	ContextPruning          ContextPruningConfig `yaml:"context_pruning"`
}

// HotTierConfig controls the in-process session cache.
type HotTierConfig struct {
	MaxMessages int           `yaml:"max_messages"`
	TTL         time.Duration `yaml:"ttl"`
}

// ContextPruningConfig controls in-memory tool result pruning for the ReAct
// orchestrator's working context, independent of the tiered memory's own
// trimming (see internal/agent/context.PruneContextMessages).
type ContextPruningConfig struct {
	Mode                 string                  `yaml:"mode"`
	TTL                  *time.Duration          `yaml:"ttl"`
	KeepLastAssistants   *int                    `yaml:"keep_last_assistants"`
	SoftTrimRatio        *float64                `yaml:"soft_trim_ratio"`
	HardClearRatio       *float64                `yaml:"hard_clear_ratio"`
	MinPrunableToolChars *int                    `yaml:"min_prunable_tool_chars"`
	Tools                ContextPruningToolMatch `yaml:"tools"`
	SoftTrim             ContextPruningSoftTrim  `yaml:"soft_trim"`
	HardClear            ContextPruningHardClear `yaml:"hard_clear"`
}

// ContextPruningToolMatch selects which tool results can be trimmed.
type ContextPruningToolMatch struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// ContextPruningSoftTrim configures soft trimming of tool result content.
type ContextPruningSoftTrim struct {
	MaxChars  *int `yaml:"max_chars"`
	HeadChars *int `yaml:"head_chars"`
	TailChars *int `yaml:"tail_chars"`
}

// ContextPruningHardClear configures hard clearing of tool result content.
type ContextPruningHardClear struct {
	Enabled     *bool  `yaml:"enabled"`
	Placeholder string `yaml:"placeholder"`
}
