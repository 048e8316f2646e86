package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sistem/judge/internal/logger"
	"github.com/sistem/judge/internal/validator"
)

type PostgresConfig struct {
	User               string        `validate:"required"`
	Password           string        `validate:"required"`
	Host               string        `validate:"required"`
	Database           string        `validate:"required"`
	MaxIdleConnections int           `validate:"required" mapstructure:"max_idle_connections"`
	MaxOpenConnections int           `validate:"required" mapstructure:"max_open_connections"`
	ConnectionTTL      time.Duration `validate:"required" mapstructure:"connection_ttl"`
	Port               int16         `validate:"required"`
}

type SlogConfig struct {
	Level int `mapstructure:"level"`
}

type GormLogConfig struct {
	Level        int  `mapstructure:"level"`
	TraceQueries bool `mapstructure:"trace_queries"`
}

type LoggingConfig struct {
	Gorm GormLogConfig `mapstructure:"gorm"`
	App  SlogConfig    `mapstructure:"app"`
}

type JudgeConfig struct {
	// How often the scheduler looks for pending submissions
	TickInterval time.Duration `mapstructure:"tick_interval"   validate:"required,gt=0"`
	// Wall clock budget for one compiler invocation
	CompileTimeout time.Duration `mapstructure:"compile_timeout" validate:"required,gt=0"`
	// Wall clock budget for one checker invocation
	CheckerTimeout time.Duration `mapstructure:"checker_timeout" validate:"required,gt=0"`
	// How long a claim on a submission is honoured before another host may take it over
	ClaimLease time.Duration `mapstructure:"claim_lease"     validate:"required,gt=0"`
	// Concurrent submissions per scheduler process
	Workers int `mapstructure:"workers"         validate:"required,gte=1"`
	// Isolation runner, invoked as `<binary> <ms> <kib> <stdin> <stdout> cmd...`
	SandboxBinary string `mapstructure:"sandbox_binary"  validate:"required"`
	// Working directory for sandboxed runs, used only when it exists
	SandboxDir string `mapstructure:"sandbox_dir"`
	// Compiled submissions and checkers live here
	StorageDir string `mapstructure:"storage_dir"     validate:"required"`
	// Scratch sources and run files
	TempDir string `mapstructure:"temp_dir"        validate:"required"`
	// Searched after PATH when looking for compilers
	PathExtra []string `mapstructure:"path_extra"`
	// Pick up submissions left COMPILING or CHECKING by a crashed worker
	ResumeChecking bool `mapstructure:"resume_checking"`
	// Optional compiler detection table overriding the built-in one
	DetectTable string `mapstructure:"detect_table"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type S3ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"          validate:"required_if=Enabled true"`
	AccessKeyID     string `mapstructure:"access_key_id"     validate:"required_if=Enabled true"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_if=Enabled true"`
	BucketName      string `mapstructure:"bucket_name"       validate:"required_if=Enabled true"`
	SSLEnabled      bool   `mapstructure:"ssl_enabled"`
}

// See judge.yaml for an example config
type Config struct {
	Postgres             *PostgresConfig  `mapstructure:"postgres"               validate:"required"`
	Logging              *LoggingConfig   `mapstructure:"logging"                validate:"required"`
	Judge                *JudgeConfig     `mapstructure:"judge"                  validate:"required"`
	Redis                *RedisConfig     `mapstructure:"redis"`
	S3Archive            *S3ArchiveConfig `mapstructure:"s3_archive"`
	GracefulShutdownSecs int64            `mapstructure:"graceful_shutdown_secs"`
}

const (
	AppLogLevel                string = "logging.app.level"
	EnvPrefix                  string = "judge"
	GormLogLevel               string = "logging.gorm.level"
	GormTraceQueries           string = "logging.gorm.trace_queries"
	GracefulShutdownSecs       string = "graceful_shutdown_secs"
	JudgeTickInterval          string = "judge.tick_interval"
	JudgeCompileTimeout        string = "judge.compile_timeout"
	JudgeCheckerTimeout        string = "judge.checker_timeout"
	JudgeClaimLease            string = "judge.claim_lease"
	JudgeWorkers               string = "judge.workers"
	JudgeSandboxBinary         string = "judge.sandbox_binary"
	JudgeSandboxDir            string = "judge.sandbox_dir"
	JudgeStorageDir            string = "judge.storage_dir"
	JudgeTempDir               string = "judge.temp_dir"
	JudgeResumeChecking        string = "judge.resume_checking"
	PostgresDatabase           string = "postgres.database"
	PostgresHost               string = "postgres.host"
	PostgresPassword           string = "postgres.password"
	PostgresPort               string = "postgres.port"
	PostgresUser               string = "postgres.user"
	PostgresMaxIdleConnections string = "postgres.max_idle_connections"
	PostgresMaxOpenConnections string = "postgres.max_open_connections"
	PostgresConnectonTTL       string = "postgres.connection_ttl"
	RedisAddress               string = "redis.address"
	RedisChannel               string = "redis.channel"
	S3ArchiveEnabled           string = "s3_archive.enabled"
	S3SSLEnabled               string = "s3_archive.ssl_enabled"
	S3AccessKeyID              string = "s3_archive.access_key_id"
	S3SecretAccessKey          string = "s3_archive.secret_access_key" // #nosec
)

var configReady = false
var config Config

// Loads the config from /etc/judge/judge.yaml or ./judge.yaml, overridden by JUDGE_* env vars.
// An explicit path replaces the search.
func GetConfig(path string) (*Config, error) {
	if configReady {
		logger.Logger.Debug("returning already-loaded config")
		return &config, nil
	}
	logger.Logger.Info("loading config")

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("judge")
		v.AddConfigPath("/etc/judge/")
		v.AddConfigPath(".")
	}

	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.AutomaticEnv()

	// workaround for https://github.com/spf13/viper/issues/761
	// bind env vars explicitly so they unmarshal into the nested struct
	for _, key := range []string{PostgresPassword, PostgresUser, S3AccessKeyID, S3SecretAccessKey, RedisAddress} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	setDefaults(v)

	err := v.ReadInConfig()
	if err != nil {
		// ignore config file not found to allow pure env config
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		configReady = false
		return nil, err
	}

	valid := validator.Create()
	if err = valid.Validate(&config); err != nil {
		configReady = false
		return nil, err
	}

	configReady = true
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(PostgresHost, "localhost")
	v.SetDefault(PostgresPort, 5432)
	v.SetDefault(PostgresMaxIdleConnections, 2)
	v.SetDefault(PostgresMaxOpenConnections, 10)
	v.SetDefault(PostgresConnectonTTL, 10*time.Minute)
	v.SetDefault(GormLogLevel, int(slog.LevelWarn))
	v.SetDefault(GormTraceQueries, false)
	v.SetDefault(AppLogLevel, int(slog.LevelInfo))

	v.SetDefault(JudgeTickInterval, time.Second)
	v.SetDefault(JudgeCompileTimeout, 30*time.Second)
	v.SetDefault(JudgeCheckerTimeout, 10*time.Second)
	v.SetDefault(JudgeClaimLease, 10*time.Minute)
	v.SetDefault(JudgeWorkers, 1)
	v.SetDefault(JudgeSandboxBinary, "runsbox")
	v.SetDefault(JudgeSandboxDir, "/SANDBOX")
	v.SetDefault(JudgeStorageDir, "/var/lib/judge")
	v.SetDefault(JudgeTempDir, os.TempDir())
	v.SetDefault(JudgeResumeChecking, true)

	v.SetDefault(RedisChannel, "judge:submissions")
	v.SetDefault(S3ArchiveEnabled, false)
	v.SetDefault(S3SSLEnabled, true)

	v.SetDefault(GracefulShutdownSecs, 30)
}

// Forces the next [GetConfig] to reload, used by tests
func Reset() {
	configReady = false
	config = Config{}
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s",
		url.QueryEscape(c.Postgres.User),
		url.QueryEscape(c.Postgres.Password),
		c.Postgres.Host, c.Postgres.Port,
		url.QueryEscape(c.Postgres.Database),
	)
}
