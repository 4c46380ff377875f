package internal

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Manager 房間註冊表
//
// 獨佔擁有所有 Room。房間 ID 與玩家 ID 都由單調遞增的
// 計數器分配，在整個行程存活期間保證唯一——不需要隨機
// 數，也就不存在碰撞的可能。
type Manager struct {
	cfg    *Config
	logger *slog.Logger
	logic  *GameLogic // 注入的遊戲邏輯策略，可為 nil

	rooms map[uint64]*Room
	mu    sync.RWMutex

	roomSeq   atomic.Uint64
	playerSeq atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager 建立房間註冊表並啟動心跳迴圈
//
// logic 是嵌入方提供的遊戲邏輯回調，沒有就傳 nil。
func NewManager(cfg *Config, logger *slog.Logger, logic *GameLogic) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: logger,
		logic:  logic,
		rooms:  make(map[uint64]*Room),
		stopCh: make(chan struct{}),
	}

	m.wg.Add(1)
	go m.heartbeatLoop()

	return m
}

// AddRoom 建立一個新房間並回傳其 ID
//
// maxPlayers 小於等於 0 時使用預設值，超過上限時被鉗制。
func (m *Manager) AddRoom(name, creatorName string, maxPlayers int, passcode string) (uint64, error) {
	if name == "" {
		return 0, Errorf(KindValidation, "房間名稱不能為空！")
	}

	id := m.roomSeq.Add(1)
	room := newRoom(m.cfg, m.logger, m, m.logic, id, name, creatorName, maxPlayers, passcode)

	m.mu.Lock()
	m.rooms[id] = room
	m.mu.Unlock()

	return id, nil
}

// Room 依 ID 取得房間
func (m *Manager) Room(id uint64) (*Room, error) {
	m.mu.RLock()
	room, exists := m.rooms[id]
	m.mu.RUnlock()

	if !exists {
		return nil, Errorf(KindNotFound, "ID 為 %d 的房間不存在！", id)
	}
	return room, nil
}

// RemoveRoom 把房間從註冊表中移除並拆除它
//
// 拆除會強制結束進行中的遊戲、斷開所有成員並取消所有
// 計時器。ID 不存在時記一條警告，不是錯誤。
func (m *Manager) RemoveRoom(id uint64) {
	m.mu.Lock()
	room, exists := m.rooms[id]
	if exists {
		delete(m.rooms, id)
	}
	m.mu.Unlock()

	if !exists {
		m.logger.Warn("嘗試移除不存在的房間", "room_id", id)
		return
	}
	room.Close()
}

// Summaries 回傳所有房間的公開投影
func (m *Manager) Summaries() []RoomSummary {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, room.Summary())
	}
	return summaries
}

// RoomCount 回傳目前的房間數
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// PingAll 對每個房間轉發一次心跳
func (m *Manager) PingAll() {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	for _, room := range rooms {
		room.PingAll()
	}
}

// heartbeatLoop 伺服器級的固定間隔心跳
func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Duration(m.cfg.PingInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.PingAll()
		case <-m.stopCh:
			return
		}
	}
}

// Stop 停止心跳迴圈並拆除所有房間
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[uint64]*Room)
	m.mu.Unlock()

	for _, room := range rooms {
		room.Close()
	}

	m.logger.Info("房間註冊表已停止")
}

// nextPlayerID 分配一個行程內唯一的玩家 ID
func (m *Manager) nextPlayerID() uint64 {
	return m.playerSeq.Add(1)
}
