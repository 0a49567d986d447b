package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/sirupsen/logrus"
)

// Service provides helpers for enforcing authorization decisions.
type Service struct {
	cfg          Config
	enforcer     *casbin.Enforcer
	logger       *logrus.Entry
	flagProvider FlagProvider
}

// NewService constructs a Service with the provided config.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalized()

	var logger *logrus.Entry
	if cfg.Logger != nil {
		logger = cfg.Logger.WithField("component", "authz")
	} else {
		logger = logrus.WithField("component", "authz")
	}

	m, err := loadModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("authz: failed to load model: %w", err)
	}
	enf, err := casbin.NewEnforcer(m, policyAdapter(cfg))
	if err != nil {
		return nil, fmt.Errorf("authz: failed to initialize enforcer: %w", err)
	}
	if err := enf.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("authz: failed to load policies: %w", err)
	}

	provider := cfg.FlagProvider
	if provider == nil {
		provider = StaticMode(cfg.FlagMode)
	}

	return &Service{
		cfg:          cfg,
		enforcer:     enf,
		logger:       logger,
		flagProvider: provider,
	}, nil
}

func loadModel(cfg Config) (model.Model, error) {
	if cfg.ModelText != "" {
		return model.NewModelFromString(cfg.ModelText)
	}
	return model.NewModelFromFile(cfg.ModelPath)
}

func policyAdapter(cfg Config) persist.Adapter {
	if cfg.PolicyText != "" {
		return stringadapter.NewAdapter(cfg.PolicyText)
	}
	return fileadapter.NewAdapter(cfg.PolicyPath)
}

// Mode reports the current enforcement mode.
func (s *Service) Mode() Mode {
	return s.flagProvider.Mode()
}

// Authorize returns an error if the request is denied.
func (s *Service) Authorize(ctx context.Context, req Request) error {
	mode := s.flagProvider.Mode()
	if mode == ModeDisabled {
		return nil
	}

	start := time.Now()
	allowed, err := s.Check(ctx, req)
	if err != nil {
		return err
	}
	recordDecision(mode, allowed, time.Since(start))
	if allowed {
		return nil
	}

	fields := logrus.Fields{
		"subject": req.Subject,
		"object":  req.Object,
		"action":  req.Action,
		"mode":    mode,
	}
	if mode == ModeShadow {
		s.logger.WithContext(ctx).WithFields(fields).Warn("authz shadow deny")
		return nil
	}
	s.logger.WithContext(ctx).WithFields(fields).Warn("authz denied request")
	return forbiddenError(req)
}

// Check evaluates a request without returning an authorization error.
func (s *Service) Check(ctx context.Context, req Request) (bool, error) {
	res, err := s.enforcer.Enforce(req.Subject, req.Object, req.Action)
	if err != nil {
		return false, fmt.Errorf("authz: enforce failed: %w", err)
	}
	return res, nil
}
