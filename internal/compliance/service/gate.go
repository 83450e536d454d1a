package service

import (
	"context"

	"github.com/adverant/nexus-compliance/internal/compliance/models"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
)

// IsEnabled answers the gate question for a module, or for one of its
// features when feature is non-empty. The answer is the strict conjunction of
// master switch, module flag, and (if asked) feature flag; a feature absent
// from the config counts as off. First contact with a tenant materializes
// the default config, so a fresh tenant gates the same as one that read its
// config explicitly.
func (s *Service) IsEnabled(ctx context.Context, tenantID id.TenantID, module models.ModuleName, feature string) (bool, error) {
	if err := requireTenantID(tenantID); err != nil {
		return false, err
	}
	if !models.KnownModule(module) {
		return false, dErrors.Newf(dErrors.CodeBadRequest, "unknown module %q", module)
	}

	cfg, err := s.GetConfig(ctx, tenantID)
	if err != nil {
		return false, err
	}

	enabled := cfg.IsEnabled(module, feature)
	s.metrics.IncGateCheck(enabled)
	return enabled, nil
}
