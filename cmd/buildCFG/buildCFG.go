package buildCFG

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"guestlist/internal/admission"
	"guestlist/internal/mailer"
	"guestlist/internal/rabbit"
)

const (
	DriverPostgres = "postgres"
	DriverKVDB     = "kvdb"
)

type ServerConfig struct {
	Port            string
	Mode            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

type StorageConfig struct {
	Driver        string
	KVPath        string
	MigrationsDir string
}

type AdminConfig struct {
	Accounts map[string]string
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	sc := ServerConfig{
		Port:            cfg.GetString("server.port"),
		Mode:            cfg.GetString("server.mode"),
		CORSOrigins:     splitList(cfg.GetString("server.cors_origins")),
		ShutdownTimeout: cfg.GetDuration("server.shutdown_timeout"),
	}
	if sc.Port == "" {
		sc.Port = "8080"
		log.Warn().Msg("server.port is not set, using 8080")
	}
	if sc.ShutdownTimeout <= 0 {
		sc.ShutdownTimeout = 10 * time.Second
	}
	return sc
}

func BuildStorageConfig(cfg *config.Config, log *zerolog.Logger) (StorageConfig, error) {
	sc := StorageConfig{
		Driver:        strings.ToLower(cfg.GetString("storage.driver")),
		KVPath:        cfg.GetString("storage.kv_path"),
		MigrationsDir: cfg.GetString("storage.migrations_dir"),
	}
	switch sc.Driver {
	case "":
		sc.Driver = DriverPostgres
	case DriverPostgres, DriverKVDB:
	default:
		return sc, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
	if sc.Driver == DriverKVDB && sc.KVPath == "" {
		sc.KVPath = "guestlist.db"
	}
	if sc.MigrationsDir == "" {
		sc.MigrationsDir = "migrations/postgres"
	}
	log.Info().Str("driver", sc.Driver).Msg("storage configured")
	return sc, nil
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	master := cfg.GetString("postgres.master_dsn")
	if master == "" {
		return "", nil, nil, errors.New("postgres.master_dsn is required")
	}
	slaves := splitList(cfg.GetString("postgres.slave_dsns"))

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("postgres.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("postgres.max_idle_conns"),
		ConnMaxLifetime: cfg.GetDuration("postgres.conn_max_lifetime"),
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 5
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}
	log.Info().Int("replicas", len(slaves)).Int("max_open_conns", opts.MaxOpenConns).Msg("postgres configured")
	return master, slaves, opts, nil
}

// BuildRabbitConfig returns ok=false when no broker is configured.
func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (rabbit.Options, bool) {
	opts := rabbit.Options{
		URL:      cfg.GetString("rabbitmq.url"),
		Exchange: cfg.GetString("rabbitmq.exchange"),
		Queue:    cfg.GetString("rabbitmq.queue"),
		Delayed:  cfg.GetBool("rabbitmq.delayed"),
	}
	if opts.URL == "" {
		log.Warn().Msg("rabbitmq.url is not set, notifications are sent in-process")
		return opts, false
	}
	if opts.Exchange == "" {
		opts.Exchange = "guestlist.notifications"
	}
	if opts.Queue == "" {
		opts.Queue = "guestlist.notifications"
	}
	return opts, true
}

func BuildSMTPConfig(cfg *config.Config) mailer.SMTPConfig {
	return mailer.SMTPConfig{
		Host:     cfg.GetString("smtp.host"),
		Port:     cfg.GetString("smtp.port"),
		Username: cfg.GetString("smtp.username"),
		Password: cfg.GetString("smtp.password"),
		FromName: cfg.GetString("smtp.from_name"),
	}
}

func BuildAdmissionConfig(cfg *config.Config, log *zerolog.Logger) admission.Config {
	ac := admission.Config{
		Capacity:         cfg.GetInt("admission.capacity"),
		RequireWhitelist: !cfg.GetBool("admission.open_registration"),
	}
	if ac.Capacity <= 0 {
		ac.Capacity = admission.DefaultCapacity
	}
	log.Info().Int("capacity", ac.Capacity).Bool("whitelist", ac.RequireWhitelist).Msg("admission configured")
	return ac
}

func BuildAdminConfig(cfg *config.Config, log *zerolog.Logger) AdminConfig {
	user, pass := cfg.GetString("admin.username"), cfg.GetString("admin.password")
	if user == "" || pass == "" {
		log.Warn().Msg("admin credentials are not set, admin routes are disabled")
		return AdminConfig{}
	}
	return AdminConfig{Accounts: map[string]string{user: pass}}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
