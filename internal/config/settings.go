package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings is the process configuration, read from the environment.
type Settings struct {
	ListenAddr  string        `env:"FLOWCI_ADDR" envDefault:":8080"`
	DataDir     string        `env:"FLOWCI_DATA_DIR" envDefault:"./flowci-data"`
	UseDocker   bool          `env:"FLOWCI_USE_DOCKER"`
	StepTimeout time.Duration `env:"FLOWCI_STEP_TIMEOUT" envDefault:"10m"`
	RepoURL     string        `env:"FLOWCI_REPO_URL"`
}

func LoadSettings() (*Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
