package authz

import (
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config captures all inputs necessary to initialize the Casbin enforcer.
// Inline model/policy text wins over paths; paths let operators override the
// compiled-in defaults without a rebuild.
type Config struct {
	ModelText    string
	PolicyText   string
	ModelPath    string
	PolicyPath   string
	FlagMode     Mode
	Logger       *logrus.Logger
	FlagProvider FlagProvider
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ModelText) == "" && c.ModelPath == "" {
		return configError("missing model")
	}
	if strings.TrimSpace(c.PolicyText) == "" && c.PolicyPath == "" {
		return configError("missing policy")
	}
	return nil
}

func (c Config) normalized() Config {
	if c.ModelPath != "" {
		c.ModelPath = filepath.Clean(c.ModelPath)
	}
	if c.PolicyPath != "" {
		c.PolicyPath = filepath.Clean(c.PolicyPath)
	}
	c.FlagMode = sanitizeMode(c.FlagMode)
	return c
}
