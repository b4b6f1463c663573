package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_LoadsFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test.yaml")
	body := `
env: prod
billing:
  tax_percentage: 13
access:
  door_permission_id: door-24-7
  groups_by_role_level:
    3: [members]
    4: [after-hours, members]
`
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))
	t.Setenv("APP_CONFIG_FILE", file)

	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, EnvProd, cfg.Env)
	require.Equal(t, 13.0, cfg.Billing.TaxPercentage)
	require.Equal(t, 24*time.Hour, cfg.Billing.Interval)
	require.Equal(t, DBDriverPostgres, cfg.Database.Driver)
	require.Equal(t, "door-24-7", cfg.Access.DoorPermissionID)
	require.Equal(t, []string{"members"}, cfg.Access.DesiredGroups(3))
	require.Equal(t, []string{"members", "after-hours"}, cfg.Access.DesiredGroups(4))
	require.Equal(t, []string{"members", "after-hours"}, cfg.Access.ManagedGroups())
}

func TestBrivoConfig_Configured(t *testing.T) {
	require.False(t, BrivoConfig{}.Configured())
	require.False(t, BrivoConfig{BaseURL: "x", APIKey: "k", ClientID: "c", ClientSecret: "s"}.Configured())
	require.True(t, BrivoConfig{Enabled: true, BaseURL: "x", APIKey: "k", ClientID: "c", ClientSecret: "s"}.Configured())
}
