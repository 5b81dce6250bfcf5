package service

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/fleetpulse/fleetpulse/internal/logging"
	"github.com/fleetpulse/fleetpulse/internal/models"
	"github.com/fleetpulse/fleetpulse/internal/repository"
)

var ErrInvalidPolicy = errors.New("invalid policy")

//go:embed seed_policies.yaml
var seedPoliciesYAML []byte

type seedPolicyFile struct {
	Policies []struct {
		Name            string          `yaml:"name"`
		Metric          string          `yaml:"metric"`
		Operator        string          `yaml:"operator"`
		Threshold       float64         `yaml:"threshold"`
		DurationMinutes int             `yaml:"duration_minutes"`
		Priority        models.Priority `yaml:"priority"`
	} `yaml:"policies"`
}

var validMetrics = map[string]bool{
	models.MetricCPU:     true,
	models.MetricRAM:     true,
	models.MetricDisk:    true,
	models.MetricNetwork: true,
	models.MetricOffline: true,
	models.MetricCrash:   true,
}

var validOperators = map[string]bool{
	">": true, ">=": true, "<": true, "<=": true, "=": true, "!=": true,
}

var validPriorities = map[models.Priority]bool{
	models.PriorityLow: true, models.PriorityMedium: true, models.PriorityHigh: true,
}

// PolicyService owns alert policy CRUD and the default policy seed.
type PolicyService struct {
	repo   repository.Repository
	logger *logging.Logger
}

func NewPolicyService(repo repository.Repository, logger *logging.Logger) *PolicyService {
	return &PolicyService{repo: repo, logger: logger}
}

// SeedDefaults installs the built-in policies when none exist yet, so a
// fresh install alerts out of the box. An operator who deletes them all
// later will get them back on restart; disabling is the supported way to
// opt out.
func (s *PolicyService) SeedDefaults(ctx context.Context) error {
	count, err := s.repo.CountPolicies(ctx)
	if err != nil {
		return fmt.Errorf("count policies: %w", err)
	}
	if count > 0 {
		return nil
	}

	var file seedPolicyFile
	if err := yaml.Unmarshal(seedPoliciesYAML, &file); err != nil {
		return fmt.Errorf("parse seed policies: %w", err)
	}

	for _, seed := range file.Policies {
		p := &models.AlertPolicy{
			ID:             uuid.New().String(),
			Name:           seed.Name,
			Metric:         seed.Metric,
			Operator:       seed.Operator,
			Threshold:      seed.Threshold,
			SustainMinutes: seed.DurationMinutes,
			Priority:       seed.Priority,
			Enabled:        true,
		}
		if err := s.repo.CreatePolicy(ctx, p); err != nil {
			return fmt.Errorf("seed policy %q: %w", seed.Name, err)
		}
		s.logger.Info("seeded alert policy", "name", seed.Name, logging.PolicyID(p.ID))
	}
	return nil
}

func (s *PolicyService) List(ctx context.Context) ([]models.AlertPolicy, error) {
	return s.repo.ListPolicies(ctx)
}

func (s *PolicyService) Create(ctx context.Context, req models.PolicyRequest) (*models.AlertPolicy, error) {
	p, err := policyFromRequest(req)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.New().String()
	if err := s.repo.CreatePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	s.logger.Info("policy created", "name", p.Name, logging.PolicyID(p.ID))
	return p, nil
}

func (s *PolicyService) Update(ctx context.Context, id string, req models.PolicyRequest) (*models.AlertPolicy, error) {
	existing, err := s.repo.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}

	p, err := policyFromRequest(req)
	if err != nil {
		return nil, err
	}
	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	if err := s.repo.UpdatePolicy(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("policy updated", "name", p.Name, logging.PolicyID(p.ID))
	return p, nil
}

func (s *PolicyService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeletePolicy(ctx, id); err != nil {
		return err
	}
	s.logger.Info("policy deleted", logging.PolicyID(id))
	return nil
}

func (s *PolicyService) ListActiveAlerts(ctx context.Context) ([]models.ActiveAlert, error) {
	return s.repo.ListActiveAlerts(ctx)
}

func policyFromRequest(req models.PolicyRequest) (*models.AlertPolicy, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	if !validMetrics[req.Metric] {
		return nil, fmt.Errorf("%w: unknown metric %q", ErrInvalidPolicy, req.Metric)
	}
	if !validOperators[req.Operator] {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidPolicy, req.Operator)
	}
	if req.Threshold == nil {
		return nil, fmt.Errorf("%w: threshold is required", ErrInvalidPolicy)
	}
	if req.SustainMinutes < 0 {
		return nil, fmt.Errorf("%w: duration must not be negative", ErrInvalidPolicy)
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !validPriorities[priority] {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidPolicy, priority)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	return &models.AlertPolicy{
		Name:           req.Name,
		Metric:         req.Metric,
		Operator:       req.Operator,
		Threshold:      *req.Threshold,
		SustainMinutes: req.SustainMinutes,
		Priority:       priority,
		Enabled:        enabled,
	}, nil
}
