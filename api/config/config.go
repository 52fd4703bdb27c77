package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendInfluxQL = "influxql"
	BackendSDK      = "sdk"
)

// DatabaseServer is the time-series database the API reads from.
type DatabaseServer struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	SSL       bool   `yaml:"ssl"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Backend   string `yaml:"backend"`
	Token     string `yaml:"token"`
	VerifySSL bool   `yaml:"verify_ssl"`
}

// URL renders the server as http[s]://host[:port]. Ports 80 and 443 are left out.
func (d DatabaseServer) URL() string {
	scheme := "http"
	if d.SSL {
		scheme = "https"
	}
	host := d.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	if d.Port == 80 || d.Port == 443 {
		return scheme + "://" + host
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, d.Port)
}

type API struct {
	Title         string `yaml:"title"`
	Description   string `yaml:"description"`
	DefaultPeriod int    `yaml:"default_period"`
	DefaultLimit  int    `yaml:"default_limit"`
}

type PolicyServer struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

type Postgres struct {
	URL string `yaml:"url"`
}

// Params is the full application configuration.
type Params struct {
	Debug             bool           `yaml:"debug"`
	DB                DatabaseServer `yaml:"db"`
	API               API            `yaml:"api"`
	ListenAddress     string         `yaml:"listen_address"`
	ListenPort        int            `yaml:"listen_port"`
	MetricsAddr       string         `yaml:"metrics_address"`
	PolicyServer      PolicyServer   `yaml:"policy_server"`
	Postgres          Postgres       `yaml:"postgres"`
	CORSOrigins       []string       `yaml:"cors_origins"`
	SentryDSN         string         `yaml:"sentry_dsn"`
	SentryEnvironment string         `yaml:"sentry_environment"`
}

// ListenAddr returns the API listener address.
func (p *Params) ListenAddr() string {
	return net.JoinHostPort(p.ListenAddress, strconv.Itoa(p.ListenPort))
}

func (p *Params) Validate() error {
	if p.DB.Host == "" {
		return errors.New("db.host is required")
	}
	if p.PolicyServer.Host == "" {
		return errors.New("policy_server.host is required")
	}
	if p.Postgres.URL == "" {
		return errors.New("postgres.url is required")
	}
	if p.DB.Port == 0 {
		p.DB.Port = 8086
	}
	if p.DB.Database == "" {
		p.DB.Database = "telegraf"
	}
	switch p.DB.Backend {
	case "":
		p.DB.Backend = BackendInfluxQL
	case BackendInfluxQL, BackendSDK:
	default:
		return fmt.Errorf("db.backend must be %q or %q, got %q", BackendInfluxQL, BackendSDK, p.DB.Backend)
	}
	if p.API.Title == "" {
		p.API.Title = "Stats API"
	}
	if p.API.Description == "" {
		p.API.Description = "IX Statistics"
	}
	if p.API.DefaultPeriod <= 0 {
		p.API.DefaultPeriod = 8
	}
	if p.API.DefaultLimit <= 0 {
		p.API.DefaultLimit = 100
	}
	if p.ListenAddress == "" {
		p.ListenAddress = "::1"
	}
	if net.ParseIP(p.ListenAddress) == nil {
		return fmt.Errorf("listen_address %q is not an IP address", p.ListenAddress)
	}
	if p.ListenPort == 0 {
		p.ListenPort = 8001
	}
	if p.PolicyServer.Port == 0 {
		p.PolicyServer.Port = 4801
	}
	if p.PolicyServer.Timeout <= 0 {
		p.PolicyServer.Timeout = 2 * time.Minute
	}
	if len(p.CORSOrigins) == 0 {
		p.CORSOrigins = []string{"*"}
	}
	if p.SentryEnvironment == "" {
		p.SentryEnvironment = "development"
	}
	return nil
}

// Load reads the YAML file at path, applies environment overrides and validates the result.
// An empty path skips the file.
func Load(path string) (*Params, error) {
	var p Params
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := p.applyEnv(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &p, nil
}

func (p *Params) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString(&p.DB.Host, "STATS_DB_HOST")
	setString(&p.DB.Database, "STATS_DB_DATABASE")
	setString(&p.DB.Username, "STATS_DB_USERNAME")
	setString(&p.DB.Password, "STATS_DB_PASSWORD")
	setString(&p.DB.Token, "STATS_DB_TOKEN")
	setString(&p.DB.Backend, "STATS_DB_BACKEND")
	setString(&p.Postgres.URL, "STATS_POSTGRES_URL")
	setString(&p.PolicyServer.Host, "STATS_POLICY_SERVER_HOST")
	setString(&p.ListenAddress, "STATS_LISTEN_ADDRESS")
	setString(&p.MetricsAddr, "STATS_METRICS_ADDRESS")
	setString(&p.SentryDSN, "SENTRY_DSN")
	setString(&p.SentryEnvironment, "SENTRY_ENVIRONMENT")
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		p.CORSOrigins = strings.Split(origins, ",")
	}
	if os.Getenv("STATS_DEBUG") == "true" {
		p.Debug = true
	}
	if err := setInt(&p.DB.Port, "STATS_DB_PORT"); err != nil {
		return err
	}
	if err := setInt(&p.ListenPort, "STATS_LISTEN_PORT"); err != nil {
		return err
	}
	return setInt(&p.PolicyServer.Port, "STATS_POLICY_SERVER_PORT")
}
