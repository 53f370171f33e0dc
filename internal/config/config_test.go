package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T) []string
		assert func(t *testing.T, app AppSettings, store Store, tracing Tracing, err error)
	}{
		{
			name: "defaults",
			assert: func(t *testing.T, app AppSettings, store Store, tracing Tracing, err error) {
				require.NoError(t, err)
				require.Equal(t, "localhost:8080", app.HttpEndpoint)
				require.Equal(t, "localhost:8081", app.GrpcEndpoint)
				require.Equal(t, 5*time.Second, app.ShutdownTimeout)
				require.Equal(t, 10, app.MaxAttempts)
				require.Equal(t, DriverPostgres, store.Driver)
				require.Equal(t, "urlshortener", store.Redis.KeyPrefix)
				require.False(t, tracing.Enabled)
			},
		},
		{
			name: "yaml_file",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "configmap.yaml")
				content := "store:\n  driver: sqlite\n  sqlite:\n    path: /tmp/links.db\ngenerator:\n  max_attempts: 3\n"
				require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
				return []string{"--config", path}
			},
			assert: func(t *testing.T, app AppSettings, store Store, _ Tracing, err error) {
				require.NoError(t, err)
				require.Equal(t, DriverSQLite, store.Driver)
				require.Equal(t, "/tmp/links.db", store.SQLite.Path)
				require.Equal(t, 3, app.MaxAttempts)
			},
		},
		{
			name: "env_overrides_file",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "configmap.yaml")
				require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: sqlite\n"), 0o600))
				t.Setenv("URLSHORTENER_STORE_DRIVER", "memory")
				t.Setenv("URLSHORTENER_TRACING_ENABLED", "true")
				return []string{"--config", path}
			},
			assert: func(t *testing.T, _ AppSettings, store Store, tracing Tracing, err error) {
				require.NoError(t, err)
				require.Equal(t, DriverMemory, store.Driver)
				require.True(t, tracing.Enabled)
			},
		},
		{
			name: "flags_override_env",
			setup: func(t *testing.T) []string {
				t.Setenv("URLSHORTENER_APP_HTTP_ENDPOINT", "0.0.0.0:9000")
				return []string{"--http-endpoint", "127.0.0.1:9999", "--store-driver", "redis", "--redis-addr", "redis:6379"}
			},
			assert: func(t *testing.T, app AppSettings, store Store, _ Tracing, err error) {
				require.NoError(t, err)
				require.Equal(t, "127.0.0.1:9999", app.HttpEndpoint)
				require.Equal(t, DriverRedis, store.Driver)
				require.Equal(t, "redis:6379", store.Redis.Addr)
			},
		},
		{
			name: "missing_file_is_ignored",
			setup: func(t *testing.T) []string {
				return []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}
			},
			assert: func(t *testing.T, _ AppSettings, store Store, _ Tracing, err error) {
				require.NoError(t, err)
				require.Equal(t, DriverPostgres, store.Driver)
			},
		},
		{
			name: "unknown_driver",
			setup: func(t *testing.T) []string {
				return []string{"--store-driver", "cassandra"}
			},
			assert: func(t *testing.T, _ AppSettings, _ Store, _ Tracing, err error) {
				require.ErrorContains(t, err, "unknown store driver")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := []string{"--config", filepath.Join(t.TempDir(), "none.yaml")}
			if tt.setup != nil {
				args = tt.setup(t)
			}
			fs := Flags()
			require.NoError(t, fs.Parse(args))

			v, err := Load(fs)
			if err != nil {
				tt.assert(t, AppSettings{}, Store{}, Tracing{}, err)
				return
			}
			app, store, tracing := GetSettings(v)
			tt.assert(t, app, store, tracing, nil)
		})
	}
}
