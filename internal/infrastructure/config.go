package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix env prefix for viper
const EnvPrefix = "PLAYER"

// sync modes
const (
	SyncModeDatabase = "database"
	SyncModeHTTP     = "http"
)

// AppConfig App option object
type AppConfig struct {
	AppID          string        `mapstructure:"app_id" json:"app_id" yaml:"app_id" validate:"required"`            // Application ID
	Host           string        `mapstructure:"host" json:"host" yaml:"host"`                                      // bind host address
	Port           int           `mapstructure:"port" json:"port" yaml:"port"`                                      // bind listen port
	Env            string        `mapstructure:"env" json:"env" yaml:"env" validate:"oneof=development production"` // runtime environment
	Locale         string        `mapstructure:"locale" json:"locale" yaml:"locale" validate:"oneof=en zh"`         // validation message locale
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"`
	Database       struct {
		Driver   string `mapstructure:"driver" json:"driver" yaml:"driver" validate:"oneof=mysql postgres"`
		Host     string `mapstructure:"host" json:"host" yaml:"host" validate:"required"`                            // server host
		MaxConn  int32  `mapstructure:"maxconn" json:"maxconn" yaml:"maxconn" validate:"min=1"`                      // maximum opening connections number
		Password string `mapstructure:"password" json:"-" yaml:"password" validate:"required"`                       // db password
		Port     int    `mapstructure:"port" json:"port" yaml:"port"`                                                // server port
		Protocol string `mapstructure:"protocol" json:"protocol" yaml:"protocol" validate:"omitempty,oneof=tcp udp"` // connection protocol, eg.tcp
		Query    string `mapstructure:"query" json:"query" yaml:"query"`                                             // DSN query parameter
		Schema   string `mapstructure:"schema" json:"schema" yaml:"schema" validate:"required"`                      // use schema
		User     string `mapstructure:"username" json:"username" yaml:"username" validate:"required"`                // db username
	} `mapstructure:"database" json:"database" yaml:"database"`
	Logging struct {
		FilePath string `mapstructure:"file_path" json:"file_path" yaml:"file_path"`                            // log file path
		Level    string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"` // global logging level
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
	Security struct {
		IDLength  int    `mapstructure:"id_length" json:"id_length" yaml:"id_length" validate:"min=8"` // length of generated session ids
		JWTMethod string `mapstructure:"jwt_method" json:"jwt_method" yaml:"jwt_method" validate:"oneof=HS256 HS512"`
		JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"jwt_secret" validate:"required"`
		TokenName string `mapstructure:"token_name" json:"token_name" yaml:"token_name" validate:"required"` // cookie fallback for the bearer token
	} `mapstructure:"security" json:"security" yaml:"security"`
	KVStore struct {
		Host         string        `mapstructure:"host" json:"host" yaml:"host"` // bind host address
		Port         int           `mapstructure:"port" json:"port" yaml:"port"` // bind listen port
		Password     string        `mapstructure:"password" json:"-" yaml:"password"`
		OutboxPrefix string        `mapstructure:"outbox_prefix" json:"outbox_prefix" yaml:"outbox_prefix" validate:"required"`
		OutboxTTL    time.Duration `mapstructure:"outbox_ttl" json:"outbox_ttl" yaml:"outbox_ttl"`
		CourseTTL    time.Duration `mapstructure:"course_ttl" json:"course_ttl" yaml:"course_ttl"` // catalog cache lifetime
	} `mapstructure:"kv" json:"kv" yaml:"kv"`
	Sync struct {
		Mode              string        `mapstructure:"mode" json:"mode" yaml:"mode" validate:"oneof=database http"`
		BackendURL        string        `mapstructure:"backend_url" json:"backend_url" yaml:"backend_url" validate:"required_if=Mode http"`
		BackendToken      string        `mapstructure:"backend_token" json:"-" yaml:"backend_token"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval" yaml:"heartbeat_interval"`
		SyncInterval      time.Duration `mapstructure:"sync_interval" json:"sync_interval" yaml:"sync_interval"`
		RequestTimeout    time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"`
		WarnAfterFailures int           `mapstructure:"warn_after_failures" json:"warn_after_failures" yaml:"warn_after_failures" validate:"min=1"`
		BatchSize         int           `mapstructure:"batch_size" json:"batch_size" yaml:"batch_size" validate:"min=1"`
	} `mapstructure:"sync" json:"sync" yaml:"sync"`
	Scorm struct {
		SuspendDataLimit int `mapstructure:"suspend_data_limit" json:"suspend_data_limit" yaml:"suspend_data_limit" validate:"min=0"` // 0 keeps the dialect limit
	} `mapstructure:"scorm" json:"scorm" yaml:"scorm"`
	Xapi struct {
		ActivityBase string `mapstructure:"activity_base" json:"activity_base" yaml:"activity_base" validate:"required"`
	} `mapstructure:"xapi" json:"xapi" yaml:"xapi"`
	Grading struct {
		URL string `mapstructure:"url" json:"url" yaml:"url" validate:"omitempty,url"`
	} `mapstructure:"grading" json:"grading" yaml:"grading"`
	DevOP struct {
		APM bool `mapstructure:"apm" json:"apm" yaml:"apm"`
	} `mapstructure:"devop" json:"devop" yaml:"devop"`
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("course-playback", pflag.ContinueOnError)

	// app
	fs.String("env_file", ".env", "dotenv file loaded before reading the environment, ignored when missing")
	fs.String("host", "", "binding address")
	fs.String("app_id", "", "application identifier (required)")
	fs.String("env", "development", "runtime environment, can be 'development' or 'production'")
	fs.String("locale", "en", "validation message locale, 'en' or 'zh'")
	fs.Int("port", 8081, "listening port")
	fs.Duration("request_timeout", 30*time.Second, "abort requests running longer than this")

	// database
	fs.String("database.driver", "mysql", "database driver to use, 'mysql' or 'postgres'")
	fs.String("database.host", "127.0.0.1", "database host")
	fs.Int("database.port", 3306, "database server port")
	fs.String("database.protocol", "", "connection protocol(if mysql is used, this flag must be set), eg.tcp")
	fs.String("database.username", "", "database username (required)")
	fs.String("database.password", "", "database password (required)")
	fs.String("database.schema", "", "database schema (required)")
	fs.String("database.query", "", `additional DSN query parameters('?' is auto prefixed), if you work with mysql and wish to
work with time.Time, you may specify "parseTime=true"`)
	fs.Int32("database.maxconn", 50, "max connection count")

	// logging
	fs.String("logging.level", "info", "logging level")
	fs.String("logging.file_path", "", "log to file")

	// security
	fs.Int("security.id_length", 12, "length of generated session ids")
	fs.String("security.jwt_method", "HS256", "hash algorithm used to verify learner tokens")
	fs.String("security.jwt_secret", "", "JWT secret shared with the LMS (required)")
	fs.String("security.token_name", "player_token", "cookie holding the token when no Authorization header is sent")

	// kv storage
	fs.String("kv.host", "127.0.0.1", "kv host")
	fs.Int("kv.port", 6379, "kv server port")
	fs.String("kv.password", "", "kv server password")
	fs.String("kv.outbox_prefix", "player:outbox:", "key prefix of durable sync outboxes")
	fs.Duration("kv.outbox_ttl", 7*24*time.Hour, "lifetime of an untouched outbox")
	fs.Duration("kv.course_ttl", 10*time.Minute, "course catalog cache lifetime")

	// sync
	fs.String("sync.mode", SyncModeDatabase, "where progress goes, 'database' (this process) or 'http' (remote LMS)")
	fs.String("sync.backend_url", "", "LMS base url, required in http mode")
	fs.String("sync.backend_token", "", "bearer token for the LMS")
	fs.Duration("sync.heartbeat_interval", 10*time.Second, "progress heartbeat while media plays")
	fs.Duration("sync.sync_interval", 15*time.Second, "periodic flush interval")
	fs.Duration("sync.request_timeout", 10*time.Second, "timeout of a single flush")
	fs.Int("sync.warn_after_failures", 5, "consecutive failed flushes before warning the learner")
	fs.Int("sync.batch_size", 50, "max items sent per flush request")

	// scorm
	fs.Int("scorm.suspend_data_limit", 0, "override the suspend_data limit of the SCORM dialect, 0 keeps 4096 (1.2) / 64000 (2004)")

	// xapi
	fs.String("xapi.activity_base", "urn:course-playback", "IRI prefix of xAPI activity ids")

	// grading
	fs.String("grading.url", "", "quiz grading service base url, defaults to the LMS in http mode")

	// DevOp
	fs.Bool("devop.apm", false, "enable apm metrics")
	return fs
}

// InitConfig init app config from flags, dotenv file and environment
func InitConfig(args []string) (*AppConfig, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	envFile, _ := fs.GetString("env_file")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config = new(AppConfig)
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LogConfig dump the effective config at debug level, secrets are not serialized
func LogConfig(logger *zap.Logger, config *AppConfig) {
	if ce := logger.Check(zap.DebugLevel, "app config"); ce != nil {
		if raw, err := json.Marshal(config); err == nil {
			ce.Write(zap.ByteString("config", raw))
		}
	}
}

func validateConfig(config *AppConfig) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("mapstructure")
		if name == "-" || name == "" {
			return ""
		}
		return name
	})
	err := validate.Struct(config)
	if err == nil {
		return nil
	}
	if _, ok := err.(*validator.InvalidValidationError); ok {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	var msg []string
	for _, field := range err.(validator.ValidationErrors) {
		namespace := field.Namespace()
		fieldName := namespace[strings.IndexByte(namespace, '.')+1:] // trim top level namespace
		switch field.Tag() {
		case "required":
			msg = append(msg, fmt.Sprintf("%s is required", fieldName))
		case "required_if":
			msg = append(msg, fmt.Sprintf("%s is required when %s", fieldName, field.Param()))
		case "oneof":
			msg = append(msg, fmt.Sprintf("%s must be one of (%s)", fieldName, field.Param()))
		case "min":
			msg = append(msg, fmt.Sprintf("%s must be at least %s", fieldName, field.Param()))
		default:
			msg = append(msg, fmt.Sprintf("%s failed on %s", fieldName, field.Tag()))
		}
	}
	return fmt.Errorf("failed to validate config: \n%s", strings.Join(msg, "\n"))
}
