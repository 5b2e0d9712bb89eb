package cli

import "time"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Schedule sources
const (
	SourceStatic = "static"
	SourceFile   = "file"
	SourceRedis  = "redis"
)

// appConfig holds the settings that choose how the binary is assembled.
// Component settings live in their own packages (queue.Config, pg.Config, ...).
type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Name     string `env:"APP_NAME" envDefault:"bgjobs"`
	LogLevel string `env:"LOG_LEVEL"`

	StoreDriver     string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath      string `env:"SQLITE_PATH" envDefault:"bgjobs.db"`
	MongoCollection string `env:"MONGODB_COLLECTION" envDefault:"bgjobs_jobs"`

	ScheduleSource       string        `env:"SCHEDULE_SOURCE" envDefault:"static"`
	ScheduleRate         string        `env:"SCHEDULE_RATE"`
	ScheduleFile         string        `env:"SCHEDULE_FILE" envDefault:"schedule.yaml"`
	SchedulePollInterval time.Duration `env:"SCHEDULE_POLL_INTERVAL" envDefault:"10s"`
	ScheduleRedisKey     string        `env:"SCHEDULE_REDIS_KEY" envDefault:"bgjobs:schedule"`
	ScheduleRedisChannel string        `env:"SCHEDULE_REDIS_CHANNEL"`

	LocalWorker        bool          `env:"LOCAL_WORKER" envDefault:"false"`
	ShellPath          string        `env:"SHELL_PATH" envDefault:"/bin/sh"`
	ShellOutputLimit   int           `env:"SHELL_OUTPUT_LIMIT" envDefault:"65536"`
	ShellTimeout       time.Duration `env:"SHELL_DEFAULT_TIMEOUT" envDefault:"10m"`
}
