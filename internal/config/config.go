// Package config loads simulator configuration from YAML, an optional .env
// file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/airline-simulator/core"
	"github.com/signalsfoundry/airline-simulator/internal/logging"
	"github.com/signalsfoundry/airline-simulator/internal/observability"
	"github.com/signalsfoundry/airline-simulator/model"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// SimulationConfig controls the tick loop.
type SimulationConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	TimeMultiplier float64       `yaml:"time_multiplier"`
	RestInterval   time.Duration `yaml:"rest_interval"`
	// StartTime is the initial simulated time. Zero means "now".
	StartTime     time.Time `yaml:"start_time"`
	PathCacheSize int       `yaml:"path_cache_size"`
}

// EconomicsConfig carries the cost tables plus the opening cash balance.
type EconomicsConfig struct {
	core.CostTables `yaml:",inline"`
	CashBalance     float64 `yaml:"cash_balance"`
}

// AssignmentSeed is an assignment created at startup when the store holds
// none for that aircraft.
type AssignmentSeed struct {
	AircraftID       string  `yaml:"aircraft_id"`
	RouteID          string  `yaml:"route_id"`
	FrequencyPerWeek int     `yaml:"frequency_per_week"`
	FareEconomy      float64 `yaml:"fare_economy"`
	FareBusiness     float64 `yaml:"fare_business"`
}

// ServerConfig holds listen addresses. An empty address disables the server.
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	Driver    string `yaml:"driver"` // memory | postgres
	DSN       string `yaml:"dsn"`
	QueueSize int    `yaml:"queue_size"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Logger converts to the logging package's config.
func (l LoggingConfig) Logger() logging.Config {
	return logging.Config{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}

// Config is the full process configuration.
type Config struct {
	Simulation    SimulationConfig            `yaml:"simulation"`
	Economics     EconomicsConfig             `yaml:"economics"`
	AircraftTypes []model.AircraftType        `yaml:"aircraft_types"`
	AirportsCSV   string                      `yaml:"airports_csv"`
	Airports      []model.Airport             `yaml:"airports"`
	Routes        []model.Route               `yaml:"routes"`
	Fleet         []model.Aircraft            `yaml:"fleet"`
	Assignments   []AssignmentSeed            `yaml:"assignments"`
	Server        ServerConfig                `yaml:"server"`
	Storage       StorageConfig               `yaml:"storage"`
	Logging       LoggingConfig               `yaml:"logging"`
	Tracing       observability.TracingConfig `yaml:"tracing"`
}

// Default returns a configuration that runs with no file at all.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{
			TickInterval:   time.Second,
			TimeMultiplier: 1,
			RestInterval:   core.DefaultRestInterval,
			PathCacheSize:  256,
		},
		Economics: EconomicsConfig{CostTables: core.DefaultCostTables()},
		Server: ServerConfig{
			HTTPAddr:    ":8080",
			GRPCAddr:    ":50051",
			MetricsAddr: ":9090",
		},
		Storage: StorageConfig{Driver: "memory", QueueSize: 256},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: observability.TracingConfig{ServiceName: "airline-sim", Exporter: "stdout", SampleRatio: 1},
	}
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored; existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays SIM_*, LOG_* and SIM_TRACING_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("SIM_HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	if v := os.Getenv("SIM_GRPC_ADDR"); v != "" {
		c.Server.GRPCAddr = v
	}
	if v := os.Getenv("SIM_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("SIM_DATABASE_DSN"); v != "" {
		c.Storage.DSN = v
		c.Storage.Driver = "postgres"
	}
	if v := os.Getenv("SIM_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("SIM_TIME_MULTIPLIER"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: SIM_TIME_MULTIPLIER=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Simulation.TimeMultiplier = m
	}
	if v := os.Getenv("SIM_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: SIM_TICK_INTERVAL=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Simulation.TickInterval = d
	}

	lc := logging.ConfigFromEnv(c.Logging.Logger())
	c.Logging.Level, c.Logging.Format, c.Logging.File, c.Logging.MaxSizeMB = lc.Level, lc.Format, lc.File, lc.MaxSizeMB

	c.Tracing = observability.TracingConfigFromEnv(c.Tracing)
	return nil
}

// Validate rejects configurations the simulator cannot run with.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Simulation.TickInterval <= 0 {
		bad("simulation.tick_interval must be positive")
	}
	if m := c.Simulation.TimeMultiplier; m < 1 || m > 20 {
		bad("simulation.time_multiplier %v not in [1,20]", m)
	}
	if c.Simulation.RestInterval < 0 {
		bad("simulation.rest_interval must not be negative")
	}
	e := c.Economics
	if e.LoadFactor <= 0 || e.LoadFactor > 1 {
		bad("economics.load_factor %v not in (0,1]", e.LoadFactor)
	}
	for name, v := range map[string]float64{
		"fuel_price_per_gallon":     e.FuelPricePerGallon,
		"crew_cost_per_hour":        e.CrewCostPerHour,
		"maintenance_rate":          e.MaintenanceRate,
		"airport_fee_per_departure": e.AirportFeePerDeparture,
		"ground_time_hours":         e.GroundTimeHours,
		"lease_rate":                e.LeaseRate,
		"loan_annual_rate":          e.LoanAnnualRate,
	} {
		if v < 0 {
			bad("economics.%s must not be negative", name)
		}
	}
	seen := make(map[string]bool)
	for _, t := range c.AircraftTypes {
		if t.ID == "" {
			bad("aircraft_types entry without id")
			continue
		}
		if seen[t.ID] {
			bad("aircraft type %q defined twice", t.ID)
		}
		seen[t.ID] = true
		if t.CruiseSpeedKts <= 0 {
			bad("aircraft type %q needs a positive cruise_speed_kts", t.ID)
		}
	}
	for _, a := range c.Fleet {
		if !seen[a.TypeID] {
			bad("aircraft %q references unknown type %q", a.ID, a.TypeID)
		}
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			bad("storage.dsn is required for the postgres driver")
		}
	default:
		bad("storage.driver %q is not memory or postgres", c.Storage.Driver)
	}
	return errors.Join(errs...)
}

// CostTables returns the economics tables with the aircraft types attached.
func (c Config) CostTables() core.CostTables {
	t := c.Economics.CostTables
	t.AircraftTypes = make(map[string]model.AircraftType, len(c.AircraftTypes))
	for _, at := range c.AircraftTypes {
		t.AircraftTypes[at.ID] = at
	}
	return t
}
