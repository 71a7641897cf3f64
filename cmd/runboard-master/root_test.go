package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetConfigDefaults(t *testing.T) {
	cfg, err := getConfig(map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, 8092, cfg.Port)
	require.Equal(t, "localhost", cfg.DB.Host)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestGetConfigOverrides(t *testing.T) {
	cfg, err := getConfig(map[string]interface{}{
		"port": 9000,
		"db": map[string]interface{}{
			"host": "pg.internal",
		},
		"redis": map[string]interface{}{
			"addr": "redis.internal:6379",
		},
	})
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "pg.internal", cfg.DB.Host)
	require.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	// Untouched fields keep their defaults.
	require.Equal(t, "runboard", cfg.DB.Name)
}

func TestGetConfigRejectsUnknownFields(t *testing.T) {
	_, err := getConfig(map[string]interface{}{"not_a_field": true})
	require.Error(t, err)
}

func TestReadConfigFileMissingExplicitPath(t *testing.T) {
	_, err := readConfigFile("/definitely/not/here.yaml")
	require.Error(t, err)
}
