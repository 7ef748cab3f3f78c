package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVER", "")
	t.Setenv("PORT", "")

	c, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, StoreElasticsearch, c.Store)
	assert.Equal(t, "http://localhost:9200", c.ESURL)
	assert.Equal(t, 60*time.Second, c.RequestTimeout)
	assert.Equal(t, "nodes", c.NodeIndex)
	assert.Equal(t, "edges", c.EdgeIndex)
	assert.Equal(t, "adjacency_list", c.AdjacencyIndex)
	assert.Equal(t, 5, c.Concurrency)
	assert.Equal(t, 10000, c.PageSize)
	assert.Equal(t, 2000, c.BulkSize)
	assert.Equal(t, OutputLocal, c.OutputStore)

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoad_EnvironmentAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "graphmat.yaml")
	require.NoError(t, os.WriteFile(file, []byte("workers: 3\npage_size: 500\nnode_index: people\n"), 0o600))

	t.Setenv("GRAPHMAT_WORKERS", "12")
	t.Setenv("GRAPHMAT_REQUEST_TIMEOUT", "2m")
	t.Setenv("GRAPHMAT_STORE", "dynamodb")

	c, err := Load(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, 12, c.Workers, "environment overrides file")
	assert.Equal(t, 500, c.PageSize)
	assert.Equal(t, "people", c.NodeIndex)
	assert.Equal(t, 2*time.Minute, c.RequestTimeout)
	assert.Equal(t, StoreDynamoDB, c.Store)
}

func TestLoad_EnvironmentWithoutDefault(t *testing.T) {
	t.Setenv("GRAPHMAT_OUTPUT_STORE", "s3")
	t.Setenv("GRAPHMAT_OUTPUT_BUCKET", "graph-artifacts")

	c, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "graph-artifacts", c.OutputBucket)
}

func TestLoad_SetValuesWin(t *testing.T) {
	t.Setenv("GRAPHMAT_WORKERS", "12")
	v := viper.New()
	v.Set("workers", 2)

	c, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		v := viper.New()
		c, err := Load(v, "")
		require.NoError(t, err)
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"store", func(c *Config) { c.Store = "mongodb" }},
		{"output store", func(c *Config) { c.OutputStore = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.OutputStore = OutputS3 }},
		{"minio without endpoint", func(c *Config) { c.OutputStore = OutputMinio; c.OutputBucket = "b" }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"bulk size", func(c *Config) { c.BulkSize = -1 }},
		{"rate limit", func(c *Config) { c.RateLimit = -2 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			require.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.dev"), []byte("PORT=9201\nSERVER=es.dev\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.prod"), []byte("PORT=443\n"), 0o600))

	t.Run("dev", func(t *testing.T) {
		t.Setenv("PROD", "")
		t.Setenv("IN_DOCKER", "")
		t.Setenv("PORT", "")
		t.Setenv("SERVER", "")
		os.Unsetenv("PORT")
		os.Unsetenv("SERVER")

		prod, err := LoadDotEnv(dir)
		require.NoError(t, err)
		assert.False(t, prod)
		assert.Equal(t, "http://es.dev:9201", ESURL())
	})

	t.Run("docker", func(t *testing.T) {
		t.Setenv("PROD", "")
		t.Setenv("IN_DOCKER", "true")
		t.Setenv("SERVER", "")
		t.Setenv("PORT", "")

		_, err := LoadDotEnv(dir)
		require.NoError(t, err)
		assert.Equal(t, "host.docker.internal", os.Getenv("SERVER"))
	})

	t.Run("prod keeps existing", func(t *testing.T) {
		t.Setenv("PROD", "true")
		t.Setenv("PORT", "9300")
		t.Setenv("SERVER", "es.prod")

		prod, err := LoadDotEnv(dir)
		require.NoError(t, err)
		assert.True(t, prod)
		assert.Equal(t, "http://es.prod:9300", ESURL())
	})

	t.Run("missing file", func(t *testing.T) {
		t.Setenv("PROD", "")
		t.Setenv("IN_DOCKER", "")
		_, err := LoadDotEnv(t.TempDir())
		require.NoError(t, err)
	})
}
