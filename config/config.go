package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del predictor.
type Config struct {
	Prediction PredictionConfig `yaml:"prediction"`
	Roles      RolesConfig      `yaml:"roles"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Keeper     KeeperConfig     `yaml:"keeper"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

// PredictionConfig son los parámetros con los que se siembra un ledger vacío.
// Con estado ya persistido mandan los guardados.
type PredictionConfig struct {
	IntervalSeconds              int     `yaml:"interval_seconds"`
	BufferSeconds                int     `yaml:"buffer_seconds"`
	MinBetAmount                 string  `yaml:"min_bet_amount"` // unidades base, decimal
	TreasuryFeeBps               *uint64 `yaml:"treasury_fee_bps"`
	OracleUpdateAllowanceSeconds int     `yaml:"oracle_update_allowance_seconds"`
}

// RolesConfig identifica al admin y al operador.
type RolesConfig struct {
	Admin    string `yaml:"admin"`
	Operator string `yaml:"operator"`
}

// OracleConfig elige la fuente de precios.
type OracleConfig struct {
	Kind           string `yaml:"kind"` // chainlink | http
	RPCURL         string `yaml:"rpc_url"`
	FeedAddress    string `yaml:"feed_address"`
	HTTPURL        string `yaml:"http_url"`
	Decimals       int32  `yaml:"decimals"` // solo http; chainlink lo lee del contrato
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// KeeperConfig controla el loop que empuja las rondas.
type KeeperConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	Caller         string `yaml:"caller"` // por defecto, roles.operator
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	AutoRecover    *bool  `yaml:"auto_recover"`
	LockKey        string `yaml:"lock_key"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// RedisConfig es opcional: sin addr no hay bus de eventos ni lock distribuido.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
	TLS        bool   `yaml:"tls"`
	Prefix     string `yaml:"prefix"`
}

// HTTPConfig controla la API JSON. Sin addr no se levanta.
type HTTPConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"` // vacío: rutas admin deshabilitadas
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse interpreta un documento YAML ya leído.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Params construye los parámetros del motor.
func (c *Config) Params() (domain.Params, error) {
	minBet, err := domain.ParseAmount(c.Prediction.MinBetAmount)
	if err != nil {
		return domain.Params{}, fmt.Errorf("config.Params: min_bet_amount: %w", err)
	}
	p := domain.Params{
		Interval:              seconds(c.Prediction.IntervalSeconds),
		Buffer:                seconds(c.Prediction.BufferSeconds),
		MinBetAmount:          minBet,
		TreasuryFeeBps:        *c.Prediction.TreasuryFeeBps,
		OracleUpdateAllowance: seconds(c.Prediction.OracleUpdateAllowanceSeconds),
	}
	if err := p.Validate(); err != nil {
		return domain.Params{}, fmt.Errorf("config.Params: %w", err)
	}
	return p, nil
}

// KeeperEnabled indica si este proceso corre el keeper.
func (c *Config) KeeperEnabled() bool {
	return *c.Keeper.Enabled
}

// PollInterval devuelve el intervalo del keeper como time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Keeper.PollIntervalMs) * time.Millisecond
}

// LockTTL devuelve la duración del lock del keeper.
func (c *Config) LockTTL() time.Duration {
	return seconds(c.Keeper.LockTTLSeconds)
}

// OracleTimeout devuelve el timeout de cada consulta al oráculo.
func (c *Config) OracleTimeout() time.Duration {
	return seconds(c.Oracle.TimeoutSeconds)
}

func (c *Config) validate() error {
	switch c.Oracle.Kind {
	case "chainlink":
		if c.Oracle.RPCURL == "" || c.Oracle.FeedAddress == "" {
			return fmt.Errorf("config: oracle chainlink requires rpc_url and feed_address")
		}
	case "http":
		if c.Oracle.HTTPURL == "" {
			return fmt.Errorf("config: oracle http requires http_url")
		}
	default:
		return fmt.Errorf("config: unknown oracle kind %q (chainlink|http)", c.Oracle.Kind)
	}
	if _, err := c.Params(); err != nil {
		return err
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("ORACLE_RPC_URL"); v != "" {
		cfg.Oracle.RPCURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HTTP_API_KEY"); v != "" {
		cfg.HTTP.APIKey = v
	}
	if v := os.Getenv("PREDICTOR_ADMIN"); v != "" {
		cfg.Roles.Admin = v
	}
	if v := os.Getenv("PREDICTOR_OPERATOR"); v != "" {
		cfg.Roles.Operator = v
	}
	if v := os.Getenv("KEEPER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Keeper.Enabled = &b
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Los de predicción salen de domain.DefaultParams.
func setDefaults(cfg *Config) {
	d := domain.DefaultParams()

	if cfg.Prediction.IntervalSeconds <= 0 {
		cfg.Prediction.IntervalSeconds = int(d.Interval / time.Second)
	}
	if cfg.Prediction.BufferSeconds <= 0 {
		cfg.Prediction.BufferSeconds = int(d.Buffer / time.Second)
	}
	if cfg.Prediction.MinBetAmount == "" {
		cfg.Prediction.MinBetAmount = d.MinBetAmount.Dec()
	}
	if cfg.Prediction.TreasuryFeeBps == nil {
		fee := d.TreasuryFeeBps
		cfg.Prediction.TreasuryFeeBps = &fee
	}
	if cfg.Prediction.OracleUpdateAllowanceSeconds <= 0 {
		cfg.Prediction.OracleUpdateAllowanceSeconds = int(d.OracleUpdateAllowance / time.Second)
	}

	if cfg.Oracle.Kind == "" {
		cfg.Oracle.Kind = "chainlink"
	}
	if cfg.Oracle.Decimals <= 0 {
		cfg.Oracle.Decimals = 8
	}
	if cfg.Oracle.TimeoutSeconds <= 0 {
		cfg.Oracle.TimeoutSeconds = 10
	}

	if cfg.Keeper.Enabled == nil {
		on := true
		cfg.Keeper.Enabled = &on
	}
	if cfg.Keeper.AutoRecover == nil {
		on := true
		cfg.Keeper.AutoRecover = &on
	}
	if cfg.Keeper.Caller == "" {
		cfg.Keeper.Caller = cfg.Roles.Operator
	}
	if cfg.Keeper.PollIntervalMs <= 0 {
		cfg.Keeper.PollIntervalMs = 1000
	}
	if cfg.Keeper.LockKey == "" {
		cfg.Keeper.LockKey = "polypredict:keeper"
	}
	if cfg.Keeper.LockTTLSeconds <= 0 {
		cfg.Keeper.LockTTLSeconds = 15
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polypredict.db"
	}
	if cfg.Redis.PoolSize <= 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "polypredict"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
