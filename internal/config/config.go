package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Engine   Engine   `yaml:"engine" json:"engine"`
	Tracing  Tracing  `yaml:"tracing" json:"tracing"`
	Registry Registry `yaml:"registry" json:"registry"`
}

type Registry struct {
	// ChannelFiles lists YAML channel definition files registered with the
	// event registry at startup.
	ChannelFiles []string `yaml:"channelFiles" json:"channelFiles" env:"REGISTRY_CHANNEL_FILES"`
}

type Engine struct {
	// Name is used for OTEL as an application identifier.
	Name string `yaml:"name" json:"name" env:"ENGINE_NAME" env-default:"zencmmn"`

	// MaxEvaluationPasses bounds listener-triggered re-entrant evaluation
	// of one command. Runaway listener logic fails loudly instead of
	// hanging the command.
	MaxEvaluationPasses int `yaml:"maxEvaluationPasses" json:"maxEvaluationPasses" env:"ENGINE_MAX_EVALUATION_PASSES" env-default:"100"`

	// ExpressionLanguage selects the condition expression runtime,
	// "feel" or "javascript".
	ExpressionLanguage string `yaml:"expressionLanguage" json:"expressionLanguage" env:"ENGINE_EXPRESSION_LANGUAGE" env-default:"feel"`

	ScriptPool ScriptPool `yaml:"scriptPool" json:"scriptPool"`
}

type ScriptPool struct {
	MinSize int `yaml:"minSize" json:"minSize" env:"SCRIPT_POOL_MIN_SIZE" env-default:"1"`
	MaxSize int `yaml:"maxSize" json:"maxSize" env:"SCRIPT_POOL_MAX_SIZE" env-default:"8"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"TRACING_ENDPOINT"`
}

func InitConfig() (Config, error) {
	c := Config{}
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			return c, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		confFile = wd + string(os.PathSeparator) + "zencmmn.yaml"
	}

	if _, err := os.Stat(confFile); errors.Is(err, os.ErrNotExist) {
		// no config file, environment and defaults only
		if err := cleanenv.ReadEnv(&c); err != nil {
			return c, fmt.Errorf("failed to read configuration from environment: %w", err)
		}
		return c, nil
	}

	if err := cleanenv.ReadConfig(confFile, &c); err != nil {
		return c, fmt.Errorf("failed to read configuration file %s: %w", confFile, err)
	}
	return c, nil
}
