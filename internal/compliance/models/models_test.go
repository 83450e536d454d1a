package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "github.com/adverant/nexus-compliance/pkg/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(id.NewTenantID(), time.Now())

	assert.True(t, cfg.MasterEnabled)
	assert.Len(t, cfg.Modules, len(AllModules()))

	t.Run("security and privacy modules are on", func(t *testing.T) {
		for _, m := range []ModuleName{ModuleGDPR, ModuleAIAct, ModuleNIS2, ModuleISO27001} {
			assert.True(t, cfg.Modules[m].Enabled, "module %s", m)
		}
	})

	t.Run("soc2 and hipaa are off", func(t *testing.T) {
		assert.False(t, cfg.Modules[ModuleSOC2].Enabled)
		assert.False(t, cfg.Modules[ModuleHIPAA].Enabled)
	})

	t.Run("every module carries its full feature key set", func(t *testing.T) {
		for _, m := range AllModules() {
			assert.Len(t, cfg.Modules[m].Features, len(ModuleFeatures(m)), "module %s", m)
		}
	})
}

func TestIsEnabled_Hierarchy(t *testing.T) {
	cfg := DefaultConfig(id.NewTenantID(), time.Now())

	assert.True(t, cfg.IsEnabled(ModuleGDPR, ""))
	assert.True(t, cfg.IsEnabled(ModuleGDPR, "dataErasure"))

	t.Run("master off gates everything", func(t *testing.T) {
		c := cfg.Clone()
		c.MasterEnabled = false
		for _, m := range AllModules() {
			assert.False(t, c.IsEnabled(m, ""), "module %s", m)
			for _, f := range ModuleFeatures(m) {
				assert.False(t, c.IsEnabled(m, f), "feature %s.%s", m, f)
			}
		}
	})

	t.Run("module off gates its features", func(t *testing.T) {
		c := cfg.Clone()
		mc := c.Modules[ModuleGDPR]
		mc.Enabled = false
		c.Modules[ModuleGDPR] = mc
		assert.False(t, c.IsEnabled(ModuleGDPR, ""))
		assert.False(t, c.IsEnabled(ModuleGDPR, "dataErasure"))
	})

	t.Run("absent feature reads as false", func(t *testing.T) {
		assert.False(t, cfg.IsEnabled(ModuleGDPR, "noSuchFeature"))
	})
}

func TestModuleMap_JSONRoundTrip(t *testing.T) {
	cfg := DefaultConfig(id.NewTenantID(), time.Now())

	raw, err := json.Marshal(cfg.Modules)
	require.NoError(t, err)

	var decoded map[ModuleName]ModuleConfig
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, cfg.Modules, decoded)
}

func TestAuditChain(t *testing.T) {
	tenantID := id.NewTenantID()
	cfg := DefaultConfig(tenantID, time.Now())

	mkEntry := func(action AuditAction, prevHash string) ConfigAudit {
		e := ConfigAudit{
			ID:        id.NewAuditID(),
			ConfigID:  cfg.ID,
			TenantID:  tenantID,
			Action:    action,
			ActorID:   id.NewUserID(),
			Reason:    "routine configuration change",
			NewState:  cfg.Snapshot(),
			CreatedAt: time.Now(),
		}
		require.NoError(t, e.ComputeEntryHash(prevHash))
		return e
	}

	e1 := mkEntry(AuditActionCreate, "")
	e2 := mkEntry(AuditActionToggleMaster, e1.EntryHash)
	e3 := mkEntry(AuditActionToggleModule, e2.EntryHash)
	chain := []ConfigAudit{e1, e2, e3}

	assert.Equal(t, -1, VerifyChain(chain))

	t.Run("tampered reason breaks verification", func(t *testing.T) {
		tampered := append([]ConfigAudit{}, chain...)
		tampered[1].Reason = "rewritten history"
		assert.Equal(t, 1, VerifyChain(tampered))
	})

	t.Run("deleted entry breaks the link", func(t *testing.T) {
		gapped := []ConfigAudit{e1, e3}
		assert.Equal(t, 1, VerifyChain(gapped))
	})
}
