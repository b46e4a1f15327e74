package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vdstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
store_path: /var/lib/vdstore/records.db
registry_path: /var/lib/vdstore/queries.db
rows_max: 500
site_url: https://data.example.org
pid_prefix: "21.T11148"
async_hash: true
hash_retry_delay: 2s
packages:
  sales:
    title: Sales 2024
    author: Jane Roe
    resource_name: sales.csv
    extras:
      license: CC-BY-4.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/vdstore/records.db", cfg.StorePath)
	assert.Equal(t, "/var/lib/vdstore/queries.db", cfg.RegistryPath)
	assert.Equal(t, 500, cfg.RowsMax)
	assert.Equal(t, "https://data.example.org", cfg.SiteURL)
	assert.Equal(t, "21.T11148", cfg.PIDPrefix)
	assert.True(t, cfg.AsyncHash)
	assert.Equal(t, 2*time.Second, cfg.HashRetryDelay)
	assert.Equal(t, DefaultHashMaxAttempts, cfg.HashMaxAttempts, "unset keys keep defaults")

	require.Contains(t, cfg.Packages, "sales")
	assert.Equal(t, Package{
		Title:        "Sales 2024",
		Author:       "Jane Roe",
		ResourceName: "sales.csv",
		Extras:       map[string]string{"license": "CC-BY-4.0"},
	}, cfg.Packages["sales"])
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "rows_max: 500\n")
	t.Setenv("VDSTORE_ROWS_MAX", "25")
	t.Setenv("VDSTORE_SITE_URL", "https://env.example.org")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.RowsMax)
	assert.Equal(t, "https://env.example.org", cfg.SiteURL)
}

func TestLoad_SearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vdstore.yaml"), []byte("pid_prefix: cwd\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cwd", cfg.PIDPrefix)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeConfig(t, "rows_max: [\n"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeConfig(t, "rows_max: 0\n"))
	assert.ErrorContains(t, err, "rows_max must be positive")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.StorePath = ""
	cfg.HashMaxAttempts = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store_path is required")
	assert.Contains(t, err.Error(), "hash_max_attempts must be positive")
}
