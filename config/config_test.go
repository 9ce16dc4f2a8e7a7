package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
roles:
  admin: admin
  operator: keeper
oracle:
  kind: http
  http_url: http://localhost:9000/price
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, p.Interval)
	assert.Equal(t, 30*time.Second, p.Buffer)
	assert.Equal(t, "1000000000000000", p.MinBetAmount.Dec())
	assert.Equal(t, uint64(1000), p.TreasuryFeeBps)
	assert.Equal(t, 300*time.Second, p.OracleUpdateAllowance)

	assert.True(t, cfg.KeeperEnabled())
	assert.True(t, *cfg.Keeper.AutoRecover)
	assert.Equal(t, "keeper", cfg.Keeper.Caller)
	assert.Equal(t, time.Second, cfg.PollInterval())
	assert.Equal(t, 15*time.Second, cfg.LockTTL())
	assert.Equal(t, 10*time.Second, cfg.OracleTimeout())
	assert.Equal(t, int32(8), cfg.Oracle.Decimals)
	assert.Equal(t, "polypredict.db", cfg.Storage.DSN)
	assert.Equal(t, "polypredict", cfg.Redis.Prefix)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParse_ExplicitZeroFee(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
prediction:
  treasury_fee_bps: 0
keeper:
  enabled: false
`))
	require.NoError(t, err)

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.Zero(t, p.TreasuryFeeBps)
	assert.False(t, cfg.KeeperEnabled())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"oracle desconocido", "oracle:\n  kind: pyth\n"},
		{"chainlink sin rpc", "oracle:\n  kind: chainlink\n  feed_address: 0x01\n"},
		{"http sin url", "oracle:\n  kind: http\n"},
		{"buffer >= interval", minimalYAML + "prediction:\n  interval_seconds: 30\n  buffer_seconds: 30\n"},
		{"fee excesiva", minimalYAML + "prediction:\n  treasury_fee_bps: 1500\n"},
		{"min bet no numérico", minimalYAML + "prediction:\n  min_bet_amount: lots\n"},
		{"yaml roto", "oracle: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("ORACLE_RPC_URL", "https://bsc.example/rpc")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASSWORD", "pw")
	t.Setenv("HTTP_API_KEY", "k")
	t.Setenv("PREDICTOR_OPERATOR", "ops")
	t.Setenv("KEEPER_ENABLED", "false")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://bsc.example/rpc", cfg.Oracle.RPCURL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "pw", cfg.Redis.Password)
	assert.Equal(t, "k", cfg.HTTP.APIKey)
	assert.Equal(t, "ops", cfg.Roles.Operator)
	assert.Equal(t, "ops", cfg.Keeper.Caller)
	assert.False(t, cfg.KeeperEnabled())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.Roles.Admin)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExampleConfigParses(t *testing.T) {
	data, err := os.ReadFile("config.example.yaml")
	require.NoError(t, err)

	// rpc_url vacío en el ejemplo: llega por ORACLE_RPC_URL.
	t.Setenv("ORACLE_RPC_URL", "https://bsc.example/rpc")
	cfg, err := Parse(data)
	require.NoError(t, err)

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.Equal(t, uint64(300), p.TreasuryFeeBps)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}
