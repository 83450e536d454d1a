package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/adverant/nexus-compliance/internal/compliance/models"
	"github.com/adverant/nexus-compliance/internal/compliance/store"
	"github.com/adverant/nexus-compliance/internal/platform/outbox"
	id "github.com/adverant/nexus-compliance/pkg/domain"
	dErrors "github.com/adverant/nexus-compliance/pkg/domain-errors"
	"github.com/adverant/nexus-compliance/pkg/testutil"
)

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemory
	outbox  *outbox.InMemoryStore
	service *Service
	ctx     context.Context
	userID  id.UserID
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.outbox = outbox.NewInMemoryStore()
	s.service = New(s.store, store.NewInMemoryTxRunner(), WithOutbox(s.outbox))
	s.userID = id.NewUserID()
	s.ctx = testutil.Context(s.userID)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) strPtr(v string) *string { return &v }

func (s *ServiceSuite) TestGetConfig() {
	tenantID := id.NewTenantID()

	s.Run("first read creates the default config with a CREATE entry", func() {
		cfg, err := s.service.GetConfig(s.ctx, tenantID)
		s.Require().NoError(err)
		s.True(cfg.MasterEnabled)
		s.True(cfg.IsEnabled(models.ModuleGDPR, "dataErasure"))
		s.False(cfg.IsEnabled(models.ModuleSOC2, ""))

		trail, err := s.service.GetAuditLog(s.ctx, tenantID, models.AuditQuery{})
		s.Require().NoError(err)
		s.Require().Len(trail, 1)
		s.Equal(models.AuditActionCreate, trail[0].Action)
		s.Nil(trail[0].PrevState)
		s.Equal(s.userID, trail[0].ActorID)
	})

	s.Run("subsequent reads do not append audit entries", func() {
		_, err := s.service.GetConfig(s.ctx, tenantID)
		s.Require().NoError(err)

		trail, err := s.service.GetAuditLog(s.ctx, tenantID, models.AuditQuery{})
		s.Require().NoError(err)
		s.Len(trail, 1)
	})

	s.Run("rejects nil tenant", func() {
		_, err := s.service.GetConfig(s.ctx, id.TenantID{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestToggleMaster() {
	tenantID := id.NewTenantID()

	s.Run("auto-creates then toggles, producing two audit entries", func() {
		cfg, err := s.service.ToggleMaster(s.ctx, tenantID, ToggleMasterRequest{
			Enabled: false,
			Reason:  "incident response freeze",
		})
		s.Require().NoError(err)
		s.False(cfg.MasterEnabled)

		trail, err := s.service.GetAuditLog(s.ctx, tenantID, models.AuditQuery{})
		s.Require().NoError(err)
		s.Require().Len(trail, 2)
		s.Equal(models.AuditActionToggleMaster, trail[0].Action)
		s.Equal(models.AuditActionCreate, trail[1].Action)
		s.Require().NotNil(trail[0].OldValue)
		s.True(*trail[0].OldValue)
		s.Require().NotNil(trail[0].NewValue)
		s.False(*trail[0].NewValue)
	})

	s.Run("idempotent re-toggle still appends an entry", func() {
		_, err := s.service.ToggleMaster(s.ctx, tenantID, ToggleMasterRequest{
			Enabled: false,
			Reason:  "repeated freeze request",
		})
		s.Require().NoError(err)

		trail, err := s.service.GetAuditLog(s.ctx, tenantID, models.AuditQuery{})
		s.Require().NoError(err)
		s.Require().Len(trail, 3)
		s.False(*trail[0].OldValue)
		s.False(*trail[0].NewValue)
	})

	s.Run("rejects short reason", func() {
		_, err := s.service.ToggleMaster(s.ctx, tenantID, ToggleMasterRequest{Enabled: true, Reason: "because"})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestToggleModule() {
	s.Run("requires an existing config", func() {
		_, err := s.service.ToggleModule(s.ctx, id.NewTenantID(), ToggleModuleRequest{
			Module:  models.ModuleGDPR,
			Enabled: false,
			Reason:  "disable during migration",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("toggles a module flag and records the delta", func() {
		tenantID := id.NewTenantID()
		_, err := s.service.GetConfig(s.ctx, tenantID)
		s.Require().NoError(err)

		cfg, err := s.service.ToggleModule(s.ctx, tenantID, ToggleModuleRequest{
			Module:  models.ModuleSOC2,
			Enabled: true,
			Reason:  "customer requested soc2 readiness",
		})
		s.Require().NoError(err)
		s.True(cfg.Modules[models.ModuleSOC2].Enabled)

		action := models.AuditActionToggleModule
		trail, err := s.service.GetAuditLog(s.ctx, tenantID, models.AuditQuery{Action: &action})
		s.Require().NoError(err)
		s.Require().Len(trail, 1)
		s.Require().NotNil(trail[0].Module)
		s.Equal(models.ModuleSOC2, *trail[0].Module)
		s.Nil(trail[0].Feature)
	})

	s.Run("toggles a feature flag as TOGGLE_FEATURE", func() {
		tenantID := id.NewTenantID()
		_, err := s.service.GetConfig(s.ctx, tenantID)
		s.Require().NoError(err)

		cfg, err := s.service.ToggleModule(s.ctx, tenantID, ToggleModuleRequest{
			Module:  models.ModuleGDPR,
			Feature: s.strPtr("dataErasure"),
			Enabled: false,
			Reason:  "erasure pipeline maintenance",
		})
		s.Require().NoError(err)
		s.False(cfg.Modules[models.ModuleGDPR].Features["dataErasure"])
		s.True(cfg.Modules[models.ModuleGDPR].Enabled)

		action := models.AuditActionToggleFeature
		trail, err := s.service.GetAuditLog(s.ctx, tenantID, models.AuditQuery{Action: &action})
		s.Require().NoError(err)
		s.Require().Len(trail, 1)
		s.Equal("dataErasure", *trail[0].Feature)
	})

	s.Run("rejects unknown module", func() {
		tenantID := id.NewTenantID()
		_, err := s.service.ToggleModule(s.ctx, tenantID, ToggleModuleRequest{
			Module:  "pci",
			Enabled: true,
			Reason:  "trying an unknown module",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects unknown feature with invalid_feature", func() {
		tenantID := id.NewTenantID()
		_, err := s.service.GetConfig(s.ctx, tenantID)
		s.Require().NoError(err)

		_, err = s.service.ToggleModule(s.ctx, tenantID, ToggleModuleRequest{
			Module:  models.ModuleGDPR,
			Feature: s.strPtr("timeTravel"),
			Enabled: true,
			Reason:  "feature does not exist",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidFeature))

		// Nothing stored, nothing audited.
		trail, err := s.service.GetAuditLog(s.ctx, tenantID, models.AuditQuery{})
		s.Require().NoError(err)
		s.Len(trail, 1)
	})
}

func (s *ServiceSuite) TestTenantIsolation() {
	t1, t2 := id.NewTenantID(), id.NewTenantID()
	_, err := s.service.GetConfig(s.ctx, t1)
	s.Require().NoError(err)
	_, err = s.service.GetConfig(s.ctx, t2)
	s.Require().NoError(err)

	_, err = s.service.ToggleMaster(s.ctx, t1, ToggleMasterRequest{
		Enabled: false,
		Reason:  "tenant one freeze only",
	})
	s.Require().NoError(err)

	cfg2, err := s.service.GetConfig(s.ctx, t2)
	s.Require().NoError(err)
	s.True(cfg2.MasterEnabled)

	trail2, err := s.service.GetAuditLog(s.ctx, t2, models.AuditQuery{})
	s.Require().NoError(err)
	s.Len(trail2, 1)
}

func (s *ServiceSuite) TestAuditChainVerifies() {
	tenantID := id.NewTenantID()
	_, err := s.service.GetConfig(s.ctx, tenantID)
	s.Require().NoError(err)

	_, err = s.service.ToggleModule(s.ctx, tenantID, ToggleModuleRequest{
		Module:  models.ModuleGDPR,
		Feature: s.strPtr("dataErasure"),
		Enabled: false,
		Reason:  "erasure pipeline maintenance",
	})
	s.Require().NoError(err)
	_, err = s.service.ToggleMaster(s.ctx, tenantID, ToggleMasterRequest{
		Enabled: false,
		Reason:  "incident response freeze",
	})
	s.Require().NoError(err)

	chain := s.store.ChainFor(tenantID)
	s.Require().Len(chain, 3)
	s.Equal(-1, models.VerifyChain(chain))
	s.Empty(chain[0].PrevHash)
	s.Equal(chain[0].EntryHash, chain[1].PrevHash)
	s.Equal(chain[1].EntryHash, chain[2].PrevHash)
}

func (s *ServiceSuite) TestOutboxMirrorsAudit() {
	tenantID := id.NewTenantID()
	_, err := s.service.GetConfig(s.ctx, tenantID)
	s.Require().NoError(err)
	_, err = s.service.ToggleMaster(s.ctx, tenantID, ToggleMasterRequest{
		Enabled: false,
		Reason:  "incident response freeze",
	})
	s.Require().NoError(err)

	entries := s.outbox.All()
	s.Require().Len(entries, 2)
	s.Equal(EventConfigCreated, entries[0].EventType)
	s.Equal(EventConfigToggled, entries[1].EventType)
	s.Equal(tenantID, entries[0].TenantID)
}

func (s *ServiceSuite) TestProvenanceCaptured() {
	tenantID := id.NewTenantID()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ctx := testutil.ContextAt(s.userID, now)

	_, err := s.service.ToggleMaster(ctx, tenantID, ToggleMasterRequest{
		Enabled: false,
		Reason:  "incident response freeze",
	})
	s.Require().NoError(err)

	trail, err := s.service.GetAuditLog(ctx, tenantID, models.AuditQuery{})
	s.Require().NoError(err)
	s.Require().Len(trail, 2)
	s.Equal("203.0.113.7", trail[0].Provenance.IPAddress)
	s.Equal("test-request", trail[0].Provenance.RequestID)
	s.True(trail[0].CreatedAt.Equal(now))
}
