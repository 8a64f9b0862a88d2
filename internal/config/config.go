// Package config loads ledgerd configuration from a YAML file and LEDGER_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/logging"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

var (
	ErrInvalidEnvironment   = errors.New("environment must be one of production, staging, development, local")
	ErrInvalidStorage       = errors.New("storage must be 'memory' or 'postgres'")
	ErrMissingPostgresDSN   = errors.New("postgres_dsn is required when storage is 'postgres'")
	ErrInvalidRelayInterval = errors.New("relay_interval must be positive")
	ErrInvalidRequestSkew   = errors.New("request_skew must be positive")
	ErrInvalidDeployment    = errors.New("invalid deployment")
	ErrDevelopmentIdentity  = errors.New("development identity used outside development")
)

// developmentLabels name the identities configured by default. Their private
// keys are derivable by anyone with domain.DeriveKey.
var developmentLabels = []string{"token", "sale", "whitelist", "owner", "validator", "wallet"}

// Config is the complete ledgerd configuration.
type Config struct {
	Environment   string        `mapstructure:"environment"`
	LogLevel      string        `mapstructure:"log_level"`
	HTTPAddr      string        `mapstructure:"http_addr"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	Storage       string        `mapstructure:"storage"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	ClickHouseDSN string        `mapstructure:"clickhouse_dsn"` // empty disables the event archive
	RedisAddr     string        `mapstructure:"redis_addr"`     // empty keeps the whitelist in memory
	AMQPURL       string        `mapstructure:"amqp_url"`       // empty disables broker fan-out
	RelayInterval time.Duration `mapstructure:"relay_interval"`
	RequestSkew   time.Duration `mapstructure:"request_skew"` // accepted age of signed API requests
	Tracing       bool          `mapstructure:"tracing"`
	Deployment    Deployment    `mapstructure:"deployment"`
}

// Deployment describes the instances ledgerd serves and the genesis written when
// they are not deployed yet.
type Deployment struct {
	Token     domain.Address `mapstructure:"token"`
	Sale      domain.Address `mapstructure:"sale"`
	Whitelist domain.Address `mapstructure:"whitelist"`

	Owner         domain.Address `mapstructure:"owner"`
	Validator     domain.Address `mapstructure:"validator"`
	FeeRecipient  domain.Address `mapstructure:"fee_recipient"`
	TransferFee   uint64         `mapstructure:"transfer_fee"`
	InitialSupply uint64         `mapstructure:"initial_supply"`

	Wallet    domain.Address `mapstructure:"wallet"`
	Rate      uint64         `mapstructure:"rate"`
	StartTime string         `mapstructure:"start_time"` // RFC 3339
	EndTime   string         `mapstructure:"end_time"`   // RFC 3339

	start, end time.Time
}

// Window returns the parsed sale window.
func (d Deployment) Window() (start, end time.Time) {
	return d.start, d.end
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(logging.EnvironmentDevelopment))
	v.SetDefault("log_level", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("storage", StorageMemory)
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("clickhouse_dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("amqp_url", "")
	v.SetDefault("relay_interval", "1s")
	v.SetDefault("request_skew", "5m")
	v.SetDefault("tracing", false)

	// Development identities; keys are derivable with domain.DeriveKey(label).
	for _, label := range developmentLabels {
		v.SetDefault("deployment."+label, domain.DeriveAddress(label).String())
	}
	v.SetDefault("deployment.fee_recipient", "")
	v.SetDefault("deployment.transfer_fee", 0)
	v.SetDefault("deployment.initial_supply", 0)
	v.SetDefault("deployment.rate", 1)
	v.SetDefault("deployment.start_time", "2026-01-01T00:00:00Z")
	v.SetDefault("deployment.end_time", "2027-01-01T00:00:00Z")
}

// Load reads the config file at path, if any, and applies LEDGER_* environment
// overrides. Nested keys use underscores, e.g. LEDGER_DEPLOYMENT_OWNER.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch logging.Environment(c.Environment) {
	case logging.EnvironmentProduction, logging.EnvironmentStaging,
		logging.EnvironmentDevelopment, logging.EnvironmentLocal:
	default:
		return ErrInvalidEnvironment
	}

	c.Storage = strings.TrimSpace(strings.ToLower(c.Storage))
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return ErrMissingPostgresDSN
		}
	default:
		return ErrInvalidStorage
	}

	if c.RelayInterval <= 0 {
		return ErrInvalidRelayInterval
	}
	if c.RequestSkew <= 0 {
		return ErrInvalidRequestSkew
	}
	if err := c.Deployment.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDeployment, err)
	}
	if !logging.Environment(c.Environment).IsDevelopment() {
		if err := c.Deployment.rejectDevelopmentIdentities(); err != nil {
			return err
		}
	}
	return nil
}

// rejectDevelopmentIdentities fails if any deployment address is one of the
// derivable development identities.
func (d *Deployment) rejectDevelopmentIdentities() error {
	derived := make(map[domain.Address]string, len(developmentLabels))
	for _, label := range developmentLabels {
		derived[domain.DeriveAddress(label)] = label
	}
	for _, a := range d.addresses() {
		if label, ok := derived[*a.addr]; ok {
			return fmt.Errorf("%w: %s is the %q development identity", ErrDevelopmentIdentity, a.name, label)
		}
	}
	return nil
}

type namedAddress struct {
	name string
	addr *domain.Address
}

func (d *Deployment) addresses() []namedAddress {
	return []namedAddress{
		{"token", &d.Token},
		{"sale", &d.Sale},
		{"whitelist", &d.Whitelist},
		{"owner", &d.Owner},
		{"validator", &d.Validator},
		{"fee_recipient", &d.FeeRecipient},
		{"wallet", &d.Wallet},
	}
}

func (d *Deployment) validate() error {
	if d.FeeRecipient == "" {
		d.FeeRecipient = d.Owner
	}

	for _, a := range d.addresses() {
		parsed, err := domain.ParseAddress(string(*a.addr))
		if err != nil {
			return fmt.Errorf("%s: %w", a.name, err)
		}
		*a.addr = parsed
	}

	if d.Rate == 0 {
		return fmt.Errorf("rate: %w", domain.ErrZeroAmount)
	}
	var err error
	if d.start, err = time.Parse(time.RFC3339, d.StartTime); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if d.end, err = time.Parse(time.RFC3339, d.EndTime); err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	if !d.end.After(d.start) {
		return fmt.Errorf("end_time %s is not after start_time %s", d.EndTime, d.StartTime)
	}
	return nil
}
