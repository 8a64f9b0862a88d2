package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance-ledger/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Second, cfg.RelayInterval)
	assert.Equal(t, 5*time.Minute, cfg.RequestSkew)
	assert.Equal(t, domain.DeriveAddress("owner"), cfg.Deployment.Owner)
	assert.Equal(t, cfg.Deployment.Owner, cfg.Deployment.FeeRecipient, "fee recipient defaults to the owner")
	assert.Equal(t, uint64(1), cfg.Deployment.Rate)

	start, end := cfg.Deployment.Window()
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.True(t, end.After(start))
}

// productionDeployment returns a deployment block whose identities are not
// the development defaults.
func productionDeployment() string {
	var b strings.Builder
	b.WriteString("deployment:\n")
	for _, label := range developmentLabels {
		fmt.Fprintf(&b, "  %s: %s\n", label, domain.DeriveAddress("ops-"+label))
	}
	return b.String()
}

func TestLoad_File(t *testing.T) {
	validator := domain.DeriveAddress("ops-validator")
	path := writeConfig(t, `
environment: production
log_level: warn
storage: postgres
postgres_dsn: postgres://ledger@localhost/ledger
relay_interval: 250ms
request_skew: 30s
tracing: true
`+productionDeployment()+`  transfer_fee: 10
  initial_supply: 1000000
  rate: 25
  start_time: "2026-06-01T00:00:00Z"
  end_time: "2026-07-01T00:00:00Z"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, 250*time.Millisecond, cfg.RelayInterval)
	assert.Equal(t, 30*time.Second, cfg.RequestSkew)
	assert.True(t, cfg.Tracing)
	assert.Equal(t, validator, cfg.Deployment.Validator)
	assert.Equal(t, uint64(10), cfg.Deployment.TransferFee)
	assert.Equal(t, uint64(1000000), cfg.Deployment.InitialSupply)
	assert.Equal(t, uint64(25), cfg.Deployment.Rate)
	assert.Equal(t, domain.DeriveAddress("ops-owner"), cfg.Deployment.FeeRecipient, "fee recipient defaults to the owner")
}

func TestLoad_DevelopmentIdentities(t *testing.T) {
	treasury := domain.DeriveAddress("treasury")

	for _, env := range []string{"production", "staging"} {
		t.Run(env+" defaults", func(t *testing.T) {
			_, err := Load(writeConfig(t, "environment: "+env+"\n"))
			assert.ErrorIs(t, err, ErrDevelopmentIdentity)
		})
	}

	t.Run("one default left", func(t *testing.T) {
		t.Setenv("LEDGER_DEPLOYMENT_WALLET", domain.DeriveAddress("wallet").String())
		_, err := Load(writeConfig(t, "environment: production\n"+productionDeployment()))
		require.ErrorIs(t, err, ErrDevelopmentIdentity)
		assert.Contains(t, err.Error(), "wallet")
	})

	t.Run("role reuses another development identity", func(t *testing.T) {
		t.Setenv("LEDGER_DEPLOYMENT_FEE_RECIPIENT", domain.DeriveAddress("owner").String())
		_, err := Load(writeConfig(t, "environment: staging\n"+productionDeployment()))
		assert.ErrorIs(t, err, ErrDevelopmentIdentity)
	})

	t.Run("custom identities", func(t *testing.T) {
		t.Setenv("LEDGER_DEPLOYMENT_FEE_RECIPIENT", treasury.String())
		cfg, err := Load(writeConfig(t, "environment: production\n"+productionDeployment()))
		require.NoError(t, err)
		assert.Equal(t, treasury, cfg.Deployment.FeeRecipient)
	})

	for _, env := range []string{"development", "local"} {
		t.Run(env+" defaults", func(t *testing.T) {
			_, err := Load(writeConfig(t, "environment: "+env+"\n"))
			assert.NoError(t, err)
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	recipient := domain.DeriveAddress("treasury")
	t.Setenv("LEDGER_HTTP_ADDR", ":18080")
	t.Setenv("LEDGER_REDIS_ADDR", "localhost:6379")
	t.Setenv("LEDGER_DEPLOYMENT_FEE_RECIPIENT", recipient.String())
	t.Setenv("LEDGER_DEPLOYMENT_TRANSFER_FEE", "7")

	cfg, err := Load(writeConfig(t, "http_addr: \":9999\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":18080", cfg.HTTPAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, recipient, cfg.Deployment.FeeRecipient)
	assert.Equal(t, uint64(7), cfg.Deployment.TransferFee)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "environment", content: "environment: prod\n", wantErr: ErrInvalidEnvironment},
		{name: "storage", content: "storage: sqlite\n", wantErr: ErrInvalidStorage},
		{name: "postgres without dsn", content: "storage: postgres\n", wantErr: ErrMissingPostgresDSN},
		{name: "relay interval", content: "relay_interval: 0s\n", wantErr: ErrInvalidRelayInterval},
		{name: "request skew", content: "request_skew: 0s\n", wantErr: ErrInvalidRequestSkew},
		{name: "owner", content: "deployment:\n  owner: nope\n", wantErr: domain.ErrInvalidAddress},
		{name: "rate", content: "deployment:\n  rate: 0\n", wantErr: domain.ErrZeroAmount},
		{name: "window", content: "deployment:\n  start_time: '2026-02-01T00:00:00Z'\n  end_time: '2026-01-01T00:00:00Z'\n", wantErr: ErrInvalidDeployment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
