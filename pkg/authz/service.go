package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/sirupsen/logrus"
)

// Service evaluates role-based requests against a casbin model and CSV policy.
type Service struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
	flags    FlagProvider
	logger   *logrus.Entry
}

func NewService(opts Options) (*Service, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewEnforcer(opts.ModelPath, fileadapter.NewAdapter(opts.PolicyPath))
	if err != nil {
		return nil, fmt.Errorf("authz: load model %s: %w", opts.ModelPath, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		enforcer: enforcer,
		flags:    opts.Flags,
		logger:   logger.WithField("component", "authz"),
	}, nil
}

func (s *Service) Mode() Mode {
	return s.flags.Mode()
}

// Authorize returns ErrForbidden when the policy denies req in enforce mode.
func (s *Service) Authorize(ctx context.Context, req Request) error {
	mode := s.flags.Mode()
	if mode == ModeDisabled {
		return nil
	}

	start := time.Now()
	allowed, err := s.Allowed(req)
	if err != nil {
		return err
	}
	observeDecision(mode, req, allowed, time.Since(start))
	if allowed {
		return nil
	}

	log := s.logger.WithContext(ctx).WithFields(req.fields()).WithField("mode", mode)
	if mode == ModeShadow {
		log.Warn("authz: shadow deny")
		return nil
	}
	log.Warn("authz: denied")
	return forbidden(req)
}

// Allowed evaluates req regardless of mode.
func (s *Service) Allowed(req Request) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ok, err := s.enforcer.Enforce(req.subject(), req.domain(), string(req.Object), req.action(), map[string]any{
		"actor_id": req.ActorID.String(),
	})
	if err != nil {
		return false, fmt.Errorf("authz: enforce: %w", err)
	}
	return ok, nil
}

// ReloadPolicy re-reads the policy file. In-flight checks finish against the old policy.
func (s *Service) ReloadPolicy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("authz: reload policy: %w", err)
	}
	s.logger.WithContext(ctx).Info("authz: policy reloaded")
	return nil
}
