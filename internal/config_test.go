package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koopa0/gameroom/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfig 預設值
func TestDefaultConfig(t *testing.T) {
	cfg := internal.DefaultConfig()

	assert.Equal(t, 44956, cfg.Port)
	assert.Equal(t, 4, cfg.DefaultPlayersPerRoom)
	assert.Equal(t, 16, cfg.MaxPlayersPerRoom)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.RoomEmptyTimeout))
	assert.Equal(t, 5*time.Second, time.Duration(cfg.PingInterval))
	assert.Zero(t, cfg.LogicTickInterval)
	assert.True(t, cfg.HostOnlyGameState)
	assert.False(t, cfg.AllowJoinInProgress)
	assert.True(t, cfg.UseDenyList)
	assert.False(t, cfg.UseAllowList)
	assert.True(t, cfg.Users.MustHaveUniqueName)
	assert.True(t, cfg.Users.AllowReconnection)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Users.ReconnectionTimeout))
}

// TestConfig_NameIsValid 玩家名稱限制
func TestConfig_NameIsValid(t *testing.T) {
	cfg := internal.DefaultConfig()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "valid name", input: "Alice", want: true},
		{name: "minimum length", input: "Bob", want: true},
		{name: "too short", input: "Al", want: false},
		{name: "too long", input: "ThisNameIsWayTooLong", want: false},
		{name: "double quote disallowed", input: `Al"ce`, want: false},
		{name: "angle bracket disallowed", input: "Alice<s>", want: false},
		{name: "backslash disallowed", input: `Ali\ce`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.NameIsValid(tt.input))
		})
	}
}

// TestLoadConfig 檔案覆蓋預設值
func TestLoadConfig(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := internal.LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, internal.DefaultConfig(), cfg)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := internal.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("file overrides only the listed fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
max_players_per_room: 8
room_empty_timeout: 2s
users:
  must_have_unique_ip: true
  reconnection_timeout: 1m30s
`), 0o644))

		cfg, err := internal.LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, 9000, cfg.Port)
		assert.Equal(t, 8, cfg.MaxPlayersPerRoom)
		assert.Equal(t, 2*time.Second, time.Duration(cfg.RoomEmptyTimeout))
		assert.True(t, cfg.Users.MustHaveUniqueIP)
		assert.Equal(t, 90*time.Second, time.Duration(cfg.Users.ReconnectionTimeout))

		// 沒寫到的欄位保持預設
		assert.Equal(t, 4, cfg.DefaultPlayersPerRoom)
		assert.Equal(t, 10*time.Second, time.Duration(cfg.RoomRequestTimeout))
		assert.True(t, cfg.Users.AllowReconnection)
	})

	t.Run("invalid duration is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("ping_interval: sometimes\n"), 0o644))

		_, err := internal.LoadConfig(path)
		assert.Error(t, err)
	})
}
