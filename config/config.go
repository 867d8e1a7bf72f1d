package config

import (
	"errors"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/dagornc/DagBot/internal/models"
)

// GlobalConfig mirrors global.yaml: built-in providers plus request defaults.
type GlobalConfig struct {
	App struct {
		Name string `yaml:"name"`
		Port string `yaml:"port"`
	} `yaml:"app"`

	Providers map[string]models.Provider `yaml:"llm_providers"`

	Defaults Defaults `yaml:"defaults"`
}

type Defaults struct {
	Temperature      float64 `yaml:"temperature"`
	TopP             float64 `yaml:"top_p"`
	MaxTokens        int     `yaml:"max_tokens"`
	PresencePenalty  float64 `yaml:"presence_penalty"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
}

var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnv replaces ${VAR} placeholders with environment values, leaving a
// MISSING_ marker for unset variables so broken credentials are visible.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "MISSING_" + name
	})
}

// Load reads and resolves the global configuration file. Path comes from
// CONFIG_PATH, defaulting to global.yaml next to the binary.
func Load() (*GlobalConfig, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "global.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal([]byte(expandEnv(string(raw))), &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Providers) == 0 {
		return nil, errors.New("no llm_providers configured in " + path)
	}

	for name, p := range cfg.Providers {
		p.Name = name
		if p.DisplayName == "" {
			p.DisplayName = name
		}
		if p.AccessMethod == "" {
			p.AccessMethod = models.AccessOpenAICompatible
		}
		if p.Icon == "" {
			p.Icon = "settings"
		}
		cfg.Providers[name] = p
	}

	if cfg.Defaults.Temperature == 0 {
		cfg.Defaults.Temperature = 0.7
	}
	if cfg.Defaults.TopP == 0 {
		cfg.Defaults.TopP = 1.0
	}
	if cfg.Defaults.MaxTokens == 0 {
		cfg.Defaults.MaxTokens = 4096
	}
	return &cfg, nil
}
