package storage

import "time"

// Option configures either repository implementation; options that do not
// apply to a given backend are ignored by it.
type Option interface {
	applyMemory(*Storage)
	applyPostgres(*PostgresConfig)
}

type optionAdapter struct {
	memory func(*Storage)
	pg     func(*PostgresConfig)
}

func (o optionAdapter) applyMemory(store *Storage) {
	if o.memory != nil && store != nil {
		o.memory(store)
	}
}

func (o optionAdapter) applyPostgres(cfg *PostgresConfig) {
	if o.pg != nil && cfg != nil {
		o.pg(cfg)
	}
}

func postgresOnlyOption(pg func(*PostgresConfig)) Option {
	return optionAdapter{pg: pg}
}

// WithPersistOverride intercepts memory-store persistence; tests use it to
// simulate write failures.
func WithPersistOverride(persist func(dataset) error) Option {
	return optionAdapter{memory: func(s *Storage) {
		s.persistOverride = persist
	}}
}

// WithPostgresPoolLimits bounds the connection pool.
func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns > 0 {
			cfg.MinConnections = minConns
		}
	})
}

// WithPostgresConnLifetimes bounds how long pooled connections live and idle.
func WithPostgresConnLifetimes(maxLifetime, maxIdle time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if maxLifetime > 0 {
			cfg.MaxConnLifetime = maxLifetime
		}
		if maxIdle > 0 {
			cfg.MaxConnIdleTime = maxIdle
		}
	})
}

// WithPostgresHealthInterval sets the pool health check period.
func WithPostgresHealthInterval(interval time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if interval > 0 {
			cfg.HealthCheckInterval = interval
		}
	})
}

// WithPostgresAcquireTimeout bounds connection establishment.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	})
}

// WithPostgresAppName sets the application_name reported to Postgres.
func WithPostgresAppName(name string) Option {
	return postgresOnlyOption(func(cfg *PostgresConfig) {
		cfg.ApplicationName = name
	})
}
