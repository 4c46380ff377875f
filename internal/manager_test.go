package internal_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/gameroom/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLogger 只輸出 error 級別，避免測試時洗版
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestConfig 縮短所有計時器，讓生命週期測試跑得快
func newTestConfig() *internal.Config {
	cfg := internal.DefaultConfig()
	cfg.RoomRequestTimeout = internal.Duration(time.Second)
	cfg.RoomEmptyTimeout = internal.Duration(60 * time.Millisecond)
	cfg.PingInterval = internal.Duration(time.Hour) // 心跳由測試自己觸發
	cfg.PingTimeout = internal.Duration(60 * time.Millisecond)
	cfg.Users.ReconnectionTimeout = internal.Duration(100 * time.Millisecond)
	return cfg
}

func newTestConn() *internal.Conn {
	return internal.NewConn(nil, "127.0.0.1", newTestLogger())
}

func newTestConnWithIP(ip string) *internal.Conn {
	return internal.NewConn(nil, ip, newTestLogger())
}

// kindOf 取出錯誤分類，方便斷言
func kindOf(t *testing.T, err error) internal.ErrorKind {
	t.Helper()
	require.Error(t, err)
	return internal.KindOf(err)
}

// TestManager_AddRoom 測試建立房間
func TestManager_AddRoom(t *testing.T) {
	tests := []struct {
		name        string
		roomName    string
		creatorName string
		maxPlayers  int
		passcode    string
		validate    func(t *testing.T, m *internal.Manager, id uint64, err error)
	}{
		{
			name:        "create room successfully",
			roomName:    "測試房間",
			creatorName: "玩家一",
			maxPlayers:  4,
			validate: func(t *testing.T, m *internal.Manager, id uint64, err error) {
				require.NoError(t, err)
				assert.NotZero(t, id)
				assert.Equal(t, 1, m.RoomCount())

				room, err := m.Room(id)
				require.NoError(t, err)
				assert.Equal(t, "測試房間", room.Name())
				assert.Equal(t, "玩家一", room.Host()) // 建房者尚未連接，佔位名稱
			},
		},
		{
			name:        "empty room name rejected",
			roomName:    "",
			creatorName: "玩家一",
			maxPlayers:  4,
			validate: func(t *testing.T, m *internal.Manager, id uint64, err error) {
				assert.Equal(t, internal.KindValidation, kindOf(t, err))
				assert.Equal(t, 0, m.RoomCount())
			},
		},
		{
			name:        "max players clamped to config limit",
			roomName:    "大房間",
			creatorName: "玩家一",
			maxPlayers:  999,
			validate: func(t *testing.T, m *internal.Manager, id uint64, err error) {
				require.NoError(t, err)
				room, err := m.Room(id)
				require.NoError(t, err)
				assert.Equal(t, internal.DefaultConfig().MaxPlayersPerRoom, room.Summary().MaxPlayers)
			},
		},
		{
			name:        "zero max players uses default",
			roomName:    "預設房間",
			creatorName: "玩家一",
			maxPlayers:  0,
			validate: func(t *testing.T, m *internal.Manager, id uint64, err error) {
				require.NoError(t, err)
				room, err := m.Room(id)
				require.NoError(t, err)
				assert.Equal(t, internal.DefaultConfig().DefaultPlayersPerRoom, room.Summary().MaxPlayers)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig()
			cfg.RoomEmptyTimeout = internal.Duration(time.Hour) // 這裡不測回收
			m := internal.NewManager(cfg, newTestLogger(), nil)
			defer m.Stop()

			id, err := m.AddRoom(tt.roomName, tt.creatorName, tt.maxPlayers, tt.passcode)
			tt.validate(t, m, id, err)
		})
	}
}

// TestManager_RoomIDUniqueness 任何時刻所有存活房間的 ID 都必須不同
func TestManager_RoomIDUniqueness(t *testing.T) {
	cfg := newTestConfig()
	cfg.RoomEmptyTimeout = internal.Duration(time.Hour)
	m := internal.NewManager(cfg, newTestLogger(), nil)
	defer m.Stop()

	t.Run("sequential creation", func(t *testing.T) {
		seen := make(map[uint64]bool)
		for i := 0; i < 100; i++ {
			id, err := m.AddRoom("房間", "建房者", 4, "")
			require.NoError(t, err)
			assert.False(t, seen[id], "房間 ID %d 重覆", id)
			seen[id] = true
		}
	})

	t.Run("concurrent creation", func(t *testing.T) {
		const goroutines = 20
		const perGoroutine = 25

		ids := make(chan uint64, goroutines*perGoroutine)
		var wg sync.WaitGroup
		for g := 0; g < goroutines; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perGoroutine; i++ {
					id, err := m.AddRoom("併發房間", "建房者", 4, "")
					assert.NoError(t, err)
					ids <- id
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := make(map[uint64]bool)
		for id := range ids {
			assert.False(t, seen[id], "房間 ID %d 重覆", id)
			seen[id] = true
		}
		assert.Len(t, seen, goroutines*perGoroutine)
	})
}

// TestManager_Room 測試依 ID 取得房間
func TestManager_Room(t *testing.T) {
	cfg := newTestConfig()
	cfg.RoomEmptyTimeout = internal.Duration(time.Hour)
	m := internal.NewManager(cfg, newTestLogger(), nil)
	defer m.Stop()

	id, err := m.AddRoom("測試房間", "玩家一", 4, "")
	require.NoError(t, err)

	room, err := m.Room(id)
	require.NoError(t, err)
	assert.Equal(t, id, room.ID())

	_, err = m.Room(id + 999)
	assert.Equal(t, internal.KindNotFound, kindOf(t, err))
}

// TestManager_RemoveRoom 測試移除房間
func TestManager_RemoveRoom(t *testing.T) {
	cfg := newTestConfig()
	cfg.RoomEmptyTimeout = internal.Duration(time.Hour)
	m := internal.NewManager(cfg, newTestLogger(), nil)
	defer m.Stop()

	t.Run("remove existing room", func(t *testing.T) {
		id, err := m.AddRoom("待移除", "玩家一", 4, "")
		require.NoError(t, err)

		m.RemoveRoom(id)
		_, err = m.Room(id)
		assert.Equal(t, internal.KindNotFound, kindOf(t, err))
	})

	t.Run("remove unknown room is a no-op", func(t *testing.T) {
		before := m.RoomCount()
		m.RemoveRoom(987654)
		assert.Equal(t, before, m.RoomCount())
	})

	t.Run("remove tears down members and in-progress game", func(t *testing.T) {
		id, err := m.AddRoom("進行中", "Alice", 2, "")
		require.NoError(t, err)
		room, err := m.Room(id)
		require.NoError(t, err)

		_, err = room.AddPlayer("Alice", "", newTestConn(), "10.0.0.1")
		require.NoError(t, err)
		_, err = room.AddPlayer("Bob", "", newTestConn(), "10.0.0.2")
		require.NoError(t, err)
		room.StartGame()
		require.True(t, room.InProgress())

		m.RemoveRoom(id)
		assert.False(t, room.InProgress())
		assert.Equal(t, 0, room.PlayerCount())
	})
}

// TestManager_Summaries 房間列表絕不暴露密碼本身
func TestManager_Summaries(t *testing.T) {
	cfg := newTestConfig()
	cfg.RoomEmptyTimeout = internal.Duration(time.Hour)
	m := internal.NewManager(cfg, newTestLogger(), nil)
	defer m.Stop()

	openID, err := m.AddRoom("公開房間", "Alice", 4, "")
	require.NoError(t, err)
	lockedID, err := m.AddRoom("私人房間", "Bob", 2, "secret")
	require.NoError(t, err)

	room, err := m.Room(openID)
	require.NoError(t, err)
	_, err = room.AddPlayer("Alice", "", newTestConn(), "10.0.0.1")
	require.NoError(t, err)

	summaries := m.Summaries()
	require.Len(t, summaries, 2)

	byID := make(map[uint64]internal.RoomSummary)
	for _, s := range summaries {
		byID[s.ID] = s
	}

	open := byID[openID]
	assert.Equal(t, "公開房間", open.Name)
	assert.False(t, open.HasPasscode)
	assert.Equal(t, 1, open.Players)
	assert.False(t, open.InProgress)

	locked := byID[lockedID]
	assert.True(t, locked.HasPasscode)
	assert.Equal(t, 0, locked.Players)
}

// TestManager_Stop 停止後所有房間都被拆除
func TestManager_Stop(t *testing.T) {
	cfg := newTestConfig()
	cfg.RoomEmptyTimeout = internal.Duration(time.Hour)
	m := internal.NewManager(cfg, newTestLogger(), nil)

	id, err := m.AddRoom("房間", "Alice", 4, "")
	require.NoError(t, err)
	room, err := m.Room(id)
	require.NoError(t, err)
	_, err = room.AddPlayer("Alice", "", newTestConn(), "10.0.0.1")
	require.NoError(t, err)

	m.Stop()
	assert.Equal(t, 0, m.RoomCount())
	assert.Equal(t, 0, room.PlayerCount())
}
