package config

import "errors"

// ErrDSNRequired is returned when the database DSN is not configured.
var ErrDSNRequired = errors.New("HARMONY_DB_DSN is required")

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Driver selects the SQL dialect. Only "postgres" is wired today; the
	// field stays separate from DSN so a second dialect can be added the
	// way the teacher's connection layer switches on one, without
	// touching every caller of DatabaseConfig.
	Driver string `env:"HARMONY_DB_DRIVER" default:"postgres"`

	// DSN is the Data Source Name (connection string) for the database.
	DSN string `env:"HARMONY_DB_DSN"`

	// Connection pool settings (zero = infrastructure auto-scales by CPU).
	MaxOpenConns    int `env:"HARMONY_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int `env:"HARMONY_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime int `env:"HARMONY_DB_CONN_MAX_LIFETIME_SEC"`
	ConnMaxIdleTime int `env:"HARMONY_DB_CONN_MAX_IDLE_TIME_SEC"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.DSN == "" {
		return ErrDSNRequired
	}
	switch c.Driver {
	case "postgres":
	default:
		return errors.New("HARMONY_DB_DRIVER must be 'postgres'")
	}
	return nil
}
