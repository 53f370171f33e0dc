package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "URLSHORTENER"

const (
	appGrpcEndpoint      = "app.grpc_endpoint"
	appHttpEndpoint      = "app.http_endpoint"
	appShutdownTimeout   = "app.shutdown_timeout"
	appTrustProxyHeaders = "app.trust_proxy_headers"
)

const (
	storeDriver           = "store.driver"
	storePostgresAddr     = "store.postgres.address"
	storeRedisAddr        = "store.redis.address"
	storeRedisPoolSize    = "store.redis.pool_size"
	storeRedisKeyPrefix   = "store.redis.key_prefix"
	storeSQLitePath       = "store.sqlite.path"
	generatorMaxAttempts  = "generator.max_attempts"
	tracingEnabled        = "tracing.enabled"
	tracingEndpoint       = "tracing.endpoint"
	tracingServiceName    = "tracing.service_name"
	tracingServiceVersion = "tracing.service_version"
)

// Supported values of store.driver.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type AppSettings struct {
	GrpcEndpoint      string
	HttpEndpoint      string
	ShutdownTimeout   time.Duration
	TrustProxyHeaders bool
	MaxAttempts       int
}

type Store struct {
	Driver   string
	Postgres Postgres
	Redis    Redis
	SQLite   SQLite
}

type Postgres struct {
	Addr string
}

type Redis struct {
	Addr      string
	KeyPrefix string
	PoolSize  int
}

type SQLite struct {
	Path string
}

type Tracing struct {
	Enabled        bool
	Endpoint       string // OTLP gRPC collector, host:port
	ServiceName    string
	ServiceVersion string
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(appHttpEndpoint, "localhost:8080")
	v.SetDefault(appGrpcEndpoint, "localhost:8081")
	v.SetDefault(appShutdownTimeout, 5*time.Second)
	v.SetDefault(appTrustProxyHeaders, false)

	v.SetDefault(storeDriver, DriverPostgres)
	v.SetDefault(storePostgresAddr, "postgres://ndev:@localhost:5432/urlshortener?sslmode=disable")
	v.SetDefault(storeRedisAddr, "localhost:6379")
	v.SetDefault(storeRedisPoolSize, 10)
	v.SetDefault(storeRedisKeyPrefix, "urlshortener")
	v.SetDefault(storeSQLitePath, "url_shortener.db")

	v.SetDefault(generatorMaxAttempts, 10)

	v.SetDefault(tracingEnabled, false)
	v.SetDefault(tracingEndpoint, "localhost:4317")
	v.SetDefault(tracingServiceName, "urlshortener")
	v.SetDefault(tracingServiceVersion, "dev")
}

// Flags declares the command line overrides understood by Load.
func Flags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("urlshortener-server", pflag.ContinueOnError)
	flags.String("config", "configmap.yaml", "path to the yaml config file")
	flags.String("http-endpoint", "", "http server endpoint")
	flags.String("grpc-endpoint", "", "gRPC admin server endpoint")
	flags.String("store-driver", "", "mapping store driver: postgres, redis, sqlite or memory")
	flags.String("db-addr", "", "postgres DSN")
	flags.String("redis-addr", "", "redis address")
	flags.String("sqlite-path", "", "sqlite database file")
	return flags
}

var flagKeys = map[string]string{
	"http-endpoint": appHttpEndpoint,
	"grpc-endpoint": appGrpcEndpoint,
	"store-driver":  storeDriver,
	"db-addr":       storePostgresAddr,
	"redis-addr":    storeRedisAddr,
	"sqlite-path":   storeSQLitePath,
}

// Load resolves settings from defaults, the optional yaml file named by the
// config flag, URLSHORTENER_* environment variables and finally flags.
func Load(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
		if path, err := flags.GetString("config"); err == nil && path != "" {
			v.SetConfigFile(path)
			if readErr := v.ReadInConfig(); readErr != nil && !isMissingFile(readErr) {
				return nil, fmt.Errorf("config: read %s: %w", path, readErr)
			}
		}
	}

	if err := validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	// SetConfigFile bypasses the search path, so a missing file surfaces as
	// a plain fs error.
	return errors.Is(err, fs.ErrNotExist)
}

func validate(v *viper.Viper) error {
	switch v.GetString(storeDriver) {
	case DriverPostgres, DriverRedis, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", v.GetString(storeDriver))
	}
	if v.GetInt(generatorMaxAttempts) <= 0 {
		return fmt.Errorf("config: %s must be positive", generatorMaxAttempts)
	}
	return nil
}

func GetSettings(v *viper.Viper) (
	AppSettings,
	Store,
	Tracing,
) {
	return AppSettings{
			GrpcEndpoint:      v.GetString(appGrpcEndpoint),
			HttpEndpoint:      v.GetString(appHttpEndpoint),
			ShutdownTimeout:   v.GetDuration(appShutdownTimeout),
			TrustProxyHeaders: v.GetBool(appTrustProxyHeaders),
			MaxAttempts:       v.GetInt(generatorMaxAttempts),
		},
		Store{
			Driver: v.GetString(storeDriver),
			Postgres: Postgres{
				Addr: v.GetString(storePostgresAddr),
			},
			Redis: Redis{
				Addr:      v.GetString(storeRedisAddr),
				KeyPrefix: v.GetString(storeRedisKeyPrefix),
				PoolSize:  v.GetInt(storeRedisPoolSize),
			},
			SQLite: SQLite{
				Path: v.GetString(storeSQLitePath),
			},
		},
		Tracing{
			Enabled:        v.GetBool(tracingEnabled),
			Endpoint:       v.GetString(tracingEndpoint),
			ServiceName:    v.GetString(tracingServiceName),
			ServiceVersion: v.GetString(tracingServiceVersion),
		}
}
