package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ireporter/pkg/config"
)

func TestOptionsFromFields(t *testing.T) {
	opts, err := Options(config.RedisConfig{Host: "cache.internal", Port: 6380, DB: 2, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "pw", opts.Password)
}

func TestOptionsPreferURL(t *testing.T) {
	opts, err := Options(config.RedisConfig{URL: "redis://:secret@10.0.0.5:6379/3", Host: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, "secret", opts.Password)

	_, err = Options(config.RedisConfig{URL: "http://nope"})
	assert.Error(t, err)
}

func TestNewRedisDisabled(t *testing.T) {
	client, err := NewRedis(context.Background(), config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, client)
}
