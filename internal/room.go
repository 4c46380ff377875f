package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   如何管理一場多人遊戲的完整生命週期：加入、斷線、重連、
//   房主交接，以及 開始 → 暫停 → 結束 的遊戲狀態轉換？
//
// 核心挑戰：
//   1. 狀態管理：Idle → Running → Paused → Running → Idle
//   2. 身份一致：玩家短暫斷線後重連，必須拿回原本的 ID 與房主身份
//   3. 計時器驅動：空房間回收、重連寬限、心跳逾時、遊戲邏輯 tick
//   4. 取消紀律：條件被其他路徑解除時，對應的計時器必須被取消
//      （重連取消寬限計時器、pong 取消心跳計時器、加入取消回收計時器），
//      殘留的過期計時器會造成重覆移除或多餘的暫停/恢復
//
// 設計方案：
//   ✅ 單一房間鎖 - Room 與其 Player 的所有可變狀態都由 r.mu 保護
//   ✅ 計時器指標比對 - 回調先確認自己還是「現任」計時器，過期即忽略
//   ✅ 驗證前置 - 加入檢查全部通過後才建立狀態，失敗不留半套變更
//   ✅ 策略注入 - 遊戲邏輯回調由嵌入方在建構時提供，預設不存在

// GameLogic 遊戲邏輯回調
//
// 由嵌入的應用程式在建立 Manager 時注入。遊戲進行中且未
// 暫停時，每個 tick 依序呼叫一次房間回調與每名玩家的回調。
type GameLogic struct {
	OnRoomTick   func(r *Room)
	OnPlayerTick func(r *Room, p *Player)
}

// Room 一場遊戲
type Room struct {
	id          uint64
	name        string
	passcode    string // 空字串 = 不需要密碼
	maxPlayers  int
	creatorName string

	cfg     *Config
	logger  *slog.Logger
	manager *Manager // 非擁有的回指，只用於空房間回收
	logic   *GameLogic

	mu         sync.RWMutex
	members    []*Player // 依加入順序
	inProgress bool
	paused     bool
	closed     bool

	// 房主：hostID 指向已連接的玩家；在建房者連上來之前，
	// pendingHost 保存其名稱作為佔位
	hostID      uint64
	pendingHost string

	// 因玩家斷線而自動暫停時記下該玩家 ID，重連或寬限到期
	// 時據此恢復進行；0 表示沒有自動暫停
	autoPausedBy uint64

	emptyTimer *time.Timer
	tickStop   chan struct{}
}

// RoomSnapshot 廣播給客戶端的房間投影
type RoomSnapshot struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	InProgress bool   `json:"inProgress"`
	Paused     bool   `json:"paused"`
	Host       any    `json:"host"` // 玩家 ID，或尚未連接的建房者名稱
}

// RoomSummary 房間列表中的公開投影，絕不包含密碼本身
type RoomSummary struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	HasPasscode bool   `json:"hasPasscode"`
	MaxPlayers  int    `json:"maxPlayers"`
	Players     int    `json:"players"`
	InProgress  bool   `json:"inProgress"`
}

// updatePayload --update 的負載
type updatePayload struct {
	Message string           `json:"message"`
	Array   []PlayerSnapshot `json:"array"`
	Common  RoomSnapshot     `json:"common"`
}

// pingEntry --ping 廣播中的單一玩家項目
type pingEntry struct {
	ID   uint64 `json:"id"`
	Ping int64  `json:"ping"` // 毫秒
}

func newRoom(cfg *Config, logger *slog.Logger, manager *Manager, logic *GameLogic,
	id uint64, name, creatorName string, maxPlayers int, passcode string) *Room {

	if maxPlayers <= 0 {
		maxPlayers = cfg.DefaultPlayersPerRoom
	}
	if maxPlayers > cfg.MaxPlayersPerRoom {
		maxPlayers = cfg.MaxPlayersPerRoom
	}

	r := &Room{
		id:          id,
		name:        name,
		passcode:    passcode,
		maxPlayers:  maxPlayers,
		creatorName: creatorName,
		cfg:         cfg,
		logger:      logger,
		manager:     manager,
		logic:       logic,
		pendingHost: creatorName,
	}

	// 剛建立的房間還沒有人，立即掛上回收計時器，
	// 等第一名玩家加入時解除
	r.mu.Lock()
	r.setEmptyTimeout()
	r.mu.Unlock()

	logger.Info("房間已建立，等待玩家加入",
		"room_id", id,
		"name", name,
		"creator", creatorName,
		"max_players", maxPlayers)

	return r
}

// AddPlayer 處理一次加入請求
//
// 檢查順序固定：密碼 → 名稱合法性 → 重連比對 → 進行中限制
// → 容量 → 名稱/IP 唯一性 → 連接未被綁定。重連比對成功時
// （未連接的成員名稱與 IP 都相同）直接執行 found 並回傳既有
// 的 Player，跳過後續所有檢查——這是在重新接納一個已知的
// 身份，不是新加入。所有檢查都在任何狀態變更之前完成。
func (r *Room) AddPlayer(name, passcode string, c *Conn, ip string) (*Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, Errorf(KindNotFound, "房間已關閉")
	}

	if passcode != r.passcode {
		return nil, Errorf(KindAuth, "密碼錯誤！")
	}

	if !r.cfg.NameIsValid(name) {
		return nil, Errorf(KindValidation,
			"名稱 %q 不合法！長度必須為 %d 到 %d 個字元，且不得包含特殊字元。",
			name, r.cfg.Users.Name.MinLength, r.cfg.Users.Name.MaxLength)
	}

	// 重連比對
	for _, m := range r.members {
		if !m.connected && m.Name == name && m.IP == ip {
			r.logger.Info("玩家已重新連接",
				"room_id", r.id,
				"player_id", m.ID,
				"name", m.Name)
			m.found(c)
			r.sendSelf("")
			return m, nil
		}
	}

	if !r.cfg.AllowJoinInProgress && r.inProgress {
		return nil, Errorf(KindState, "無法加入進行中的房間！")
	}
	if len(r.members) >= r.maxPlayers {
		return nil, Errorf(KindCapacity, "房間已滿！")
	}
	if r.cfg.Users.MustHaveUniqueName {
		for _, m := range r.members {
			if m.connected && m.Name == name {
				return nil, Errorf(KindConflict, "已經有一位名為 %s 的玩家連接到這個房間。", name)
			}
		}
	}
	if r.cfg.Users.MustHaveUniqueIP {
		for _, m := range r.members {
			if m.connected && m.IP == ip {
				return nil, Errorf(KindConflict, "你的 IP 已經以 %s 的身份連接到這個房間。", m.Name)
			}
		}
	}
	if c.Player() != nil {
		return nil, Errorf(KindConflict, "連接已被其他玩家綁定！")
	}

	// 有人進來了，解除空房間回收
	if r.emptyTimer != nil {
		r.emptyTimer.Stop()
		r.emptyTimer = nil
	}

	p := newPlayer(r.manager.nextPlayerID(), name, ip, r, c)
	r.members = append(r.members, p)
	c.bind(r, p)

	// 建房者連上來了，就是房主
	if r.pendingHost != "" && name == r.pendingHost {
		r.setHost(p)
	}

	r.logger.Info("玩家已加入房間",
		"room_id", r.id,
		"player_id", p.ID,
		"name", name,
		"ip", ip)

	r.sendSelf(fmt.Sprintf("%s 已連接！", name))
	return p, nil
}

// RemovePlayer 把玩家從房間中永久移除
func (r *Room) RemovePlayer(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removePlayer(p)
}

// removePlayer 需要持有房間鎖
func (r *Room) removePlayer(p *Player) {
	idx := -1
	for i, m := range r.members {
		if m == p {
			idx = i
			break
		}
	}
	if idx == -1 {
		r.logger.Warn("嘗試移除不存在於房間中的玩家",
			"room_id", r.id,
			"player_id", p.ID)
		return
	}

	p.detach()
	r.members = append(r.members[:idx], r.members[idx+1:]...)

	wasHost := p.isHost
	p.isHost = false
	if wasHost {
		r.findHost(r.creatorName)
	}

	r.logger.Info("玩家已離開房間",
		"room_id", r.id,
		"player_id", p.ID,
		"name", p.Name)

	r.sendSelf(fmt.Sprintf("%s 已離線。", p.Name))

	if len(r.members) == 0 {
		r.setEmptyTimeout()
	}
}

// LostPlayer 玩家的連接中斷
//
// 遊戲進行中且配置允許重連時，玩家轉入 lost 狀態並保留在
// 名單裡等待重連；否則直接移除。
func (r *Room) LostPlayer(p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p == nil {
		r.logger.Warn("嘗試標記不存在的玩家為斷線", "room_id", r.id)
		return
	}
	r.lostPlayer(p)
}

// ConnClosed 某條連接的讀取迴圈結束了
//
// 只有在這條連接仍然是該玩家的現任連接時才算斷線；
// 已被重連的新連接取代、或玩家已在 lost 狀態時，什麼
// 都不做。
func (r *Room) ConnClosed(c *Conn, p *Player) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.conn != c || !p.connected {
		return
	}
	r.lostPlayer(p)
}

// lostPlayer 需要持有房間鎖
func (r *Room) lostPlayer(p *Player) {
	if r.inProgress && r.cfg.Users.AllowReconnection {
		r.logger.Info("玩家失去連接，等待重連",
			"room_id", r.id,
			"player_id", p.ID,
			"name", p.Name,
			"grace", time.Duration(r.cfg.Users.ReconnectionTimeout))
		p.lost()
		return
	}
	r.removePlayer(p)
}

// setHost 指定新房主，需要持有房間鎖
//
// 冪等：已是房主時不做事。先清掉其他人的旗標再設定，
// 保證任何時刻最多一名玩家帶著 isHost。
func (r *Room) setHost(p *Player) {
	if p.isHost {
		return
	}
	for _, m := range r.members {
		m.isHost = false
	}
	p.isHost = true
	r.hostID = p.ID
	r.pendingHost = ""

	r.logger.Info("房主已變更",
		"room_id", r.id,
		"player_id", p.ID,
		"name", p.Name)
}

// findHost 房主離開後重新選出房主，需要持有房間鎖
//
// 依加入順序提升第一名剩餘玩家；沒有人剩下時，把房主
// 重設回建房者名稱的佔位，讓原房主之後能循正常加入
// 路徑取回身份。
func (r *Room) findHost(fallbackName string) {
	if len(r.members) > 0 {
		r.setHost(r.members[0])
		return
	}
	r.hostID = 0
	r.pendingHost = fallbackName
}

// StartGame 開始遊戲
//
// 除非所有成員都在線且遊戲尚未開始，否則記一條警告後
// 不做任何事。
func (r *Room) StartGame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inProgress {
		r.logger.Warn("遊戲已在進行中，忽略開始請求", "room_id", r.id)
		return
	}
	if !r.allConnected() {
		r.logger.Warn("有玩家未連接，無法開始遊戲", "room_id", r.id)
		return
	}

	r.inProgress = true
	r.paused = false
	r.autoPausedBy = 0

	if r.cfg.LogicTickInterval > 0 {
		r.startTicker()
	}

	r.logger.Info("遊戲開始", "room_id", r.id)
	r.sendAll(NewPacket(PacketGameState, "start"))
}

// PauseGame 切換暫停狀態
func (r *Room) PauseGame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inProgress {
		r.logger.Warn("遊戲未在進行中，忽略暫停請求", "room_id", r.id)
		return
	}
	if !r.allConnected() {
		r.logger.Warn("有玩家未連接，忽略暫停請求", "room_id", r.id)
		return
	}

	r.paused = !r.paused
	r.autoPausedBy = 0
	if r.paused {
		r.logger.Info("遊戲已暫停", "room_id", r.id)
		r.sendAll(NewPacket(PacketGameState, "paused"))
	} else {
		r.logger.Info("遊戲已恢復", "room_id", r.id)
		r.sendAll(NewPacket(PacketGameState, "unpaused"))
	}
}

// EndGame 結束遊戲
func (r *Room) EndGame() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inProgress {
		r.logger.Warn("遊戲未在進行中，忽略結束請求", "room_id", r.id)
		return
	}
	if !r.allConnected() {
		r.logger.Warn("有玩家未連接，忽略結束請求", "room_id", r.id)
		return
	}
	r.endGame()
}

// endGame 需要持有房間鎖
func (r *Room) endGame() {
	r.inProgress = false
	r.paused = false
	r.autoPausedBy = 0
	r.stopTicker()

	r.logger.Info("遊戲結束", "room_id", r.id)
	r.sendAll(NewPacket(PacketGameState, "end"))
}

// autoPause 玩家斷線造成的自動暫停，需要持有房間鎖
func (r *Room) autoPause(p *Player) {
	if !r.inProgress || r.paused {
		return
	}
	r.paused = true
	r.autoPausedBy = p.ID

	r.logger.Info("玩家斷線，遊戲自動暫停",
		"room_id", r.id,
		"player_id", p.ID)
	r.sendAll(NewPacket(PacketGameState, "paused"))
}

// resumeFor 某玩家歸隊後解除因其造成的自動暫停，需要持有房間鎖
func (r *Room) resumeFor(p *Player) {
	if r.autoPausedBy != p.ID || !r.paused {
		return
	}
	r.paused = false
	r.autoPausedBy = 0

	r.logger.Info("玩家歸隊，遊戲恢復進行",
		"room_id", r.id,
		"player_id", p.ID)
	r.sendAll(NewPacket(PacketGameState, "unpaused"))
}

// PingAll 對房間內所有在線的玩家發送一次心跳
//
// 先把每名玩家距離上次 ping 的經過時間打包成單一 --ping
// 廣播，再逐一啟動等待 pong 的計時器。等待重連中的玩家
// 收不到 ping 也回不了 pong，不參與心跳；他們的存活判定
// 由重連寬限計時器負責。
func (r *Room) PingAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	pings := make([]pingEntry, 0, len(r.members))
	for _, m := range r.members {
		if !m.connected {
			continue
		}
		pings = append(pings, pingEntry{
			ID:   m.ID,
			Ping: time.Since(m.lastPing).Milliseconds(),
		})
	}
	if len(pings) == 0 {
		return
	}
	r.sendAll(NewPacket(PacketPing, pings))

	for _, m := range r.members {
		if !m.connected {
			continue
		}
		m.pinged()
	}
}

// reconnectionExpired 重連寬限到期的計時器回調
func (r *Room) reconnectionExpired(p *Player, t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 不是現任計時器就表示玩家已經重連或被移除了
	if p.reconnectTimer != t {
		return
	}
	p.reconnectTimer = nil

	r.logger.Info("重連寬限已過，移除玩家",
		"room_id", r.id,
		"player_id", p.ID,
		"name", p.Name)

	wasAutoPaused := r.autoPausedBy == p.ID
	r.removePlayer(p)

	// 房間是因為等這名玩家而暫停的，放棄等待後恢復進行
	if wasAutoPaused && r.paused {
		r.paused = false
		r.autoPausedBy = 0
		r.sendAll(NewPacket(PacketGameState, "unpaused"))
	}
}

// pingExpired 心跳逾時的計時器回調
//
// 逾時是對端無回應的終結訊號，直接硬移除，不再給
// 第二次寬限。
func (r *Room) pingExpired(p *Player, t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.pingTimer != t {
		return
	}
	p.pingTimer = nil

	r.logger.Warn("玩家心跳逾時",
		"room_id", r.id,
		"player_id", p.ID,
		"name", p.Name)

	wasAutoPaused := r.autoPausedBy == p.ID
	r.removePlayer(p)

	// 房間是因為等這名玩家而暫停的，放棄等待後恢復進行
	if wasAutoPaused && r.paused {
		r.paused = false
		r.autoPausedBy = 0
		r.sendAll(NewPacket(PacketGameState, "unpaused"))
	}
}

// setEmptyTimeout 掛上空房間回收計時器，需要持有房間鎖
//
// 每次重新掛上都是重新計時，不是累加。
func (r *Room) setEmptyTimeout() {
	if r.emptyTimer != nil {
		r.emptyTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(time.Duration(r.cfg.RoomEmptyTimeout), func() {
		r.emptyExpired(t)
	})
	r.emptyTimer = t
}

// emptyExpired 空房間回收計時器的回調
func (r *Room) emptyExpired(t *time.Timer) {
	r.mu.Lock()
	if r.emptyTimer != t || r.closed || len(r.members) != 0 {
		r.mu.Unlock()
		return
	}
	r.emptyTimer = nil
	r.mu.Unlock()

	r.logger.Info("房間無人，自動移除", "room_id", r.id)

	// 回收要經過 Manager 才能從註冊表中消失；
	// 這裡不能持有房間鎖，Close 會再取一次
	r.manager.RemoveRoom(r.id)
}

// Close 拆除房間
//
// 強制結束進行中的遊戲，通知並斷開所有成員，取消所有
// 計時器。重覆呼叫是無害的。
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	if r.emptyTimer != nil {
		r.emptyTimer.Stop()
		r.emptyTimer = nil
	}
	if r.inProgress {
		r.endGame()
	}

	for _, m := range r.members {
		m.send(NewPacket(PacketRefusal, "房間已關閉。"))
		m.detach()
	}
	r.members = nil
	r.hostID = 0

	r.logger.Info("房間已移除", "room_id", r.id, "name", r.name)
}

// sendAll 廣播封包給所有成員，需要持有房間鎖
func (r *Room) sendAll(packet *Packet) {
	r.sendAllExcept(packet, nil)
}

// sendAllExcept 廣播封包，可選擇排除一條連接，需要持有房間鎖
func (r *Room) sendAllExcept(packet *Packet, except *Conn) {
	for _, m := range r.members {
		if except == nil || m.conn != except {
			m.send(packet)
		}
	}
}

// sendSelf 廣播完整的房間快照（--update），需要持有房間鎖
func (r *Room) sendSelf(message string) {
	players := make([]PlayerSnapshot, 0, len(r.members))
	for _, m := range r.members {
		players = append(players, m.snapshot())
	}

	r.sendAll(NewPacket(PacketUpdate, updatePayload{
		Message: message,
		Array:   players,
		Common:  r.snapshot(),
	}))
}

// snapshot 需要持有房間鎖
func (r *Room) snapshot() RoomSnapshot {
	var host any
	if r.hostID != 0 {
		host = r.hostID
	} else {
		host = r.pendingHost
	}
	return RoomSnapshot{
		ID:         r.id,
		Name:       r.name,
		InProgress: r.inProgress,
		Paused:     r.paused,
		Host:       host,
	}
}

// summary 需要持有房間鎖
func (r *Room) summary() RoomSummary {
	return RoomSummary{
		ID:          r.id,
		Name:        r.name,
		HasPasscode: r.passcode != "",
		MaxPlayers:  r.maxPlayers,
		Players:     len(r.members),
		InProgress:  r.inProgress,
	}
}

// Summary 回傳房間的公開投影
func (r *Room) Summary() RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summary()
}

// allConnected 需要持有房間鎖
func (r *Room) allConnected() bool {
	for _, m := range r.members {
		if !m.connected {
			return false
		}
	}
	return true
}

// startTicker 啟動遊戲邏輯 tick，需要持有房間鎖
func (r *Room) startTicker() {
	if r.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	r.tickStop = stop
	go r.tickLoop(stop)
}

// stopTicker 需要持有房間鎖
func (r *Room) stopTicker() {
	if r.tickStop != nil {
		close(r.tickStop)
		r.tickStop = nil
	}
}

// tickLoop 遊戲邏輯 tick 迴圈
func (r *Room) tickLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(r.cfg.LogicTickInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-stop:
			return
		}
	}
}

// tick 執行一次遊戲邏輯回調
//
// 回調在不持有房間鎖的情況下呼叫，讓嵌入方能在回調裡
// 使用 Room 的公開方法。
func (r *Room) tick() {
	r.mu.RLock()
	if !r.inProgress || r.paused || r.logic == nil {
		r.mu.RUnlock()
		return
	}
	players := make([]*Player, len(r.members))
	copy(players, r.members)
	r.mu.RUnlock()

	if r.logic.OnRoomTick != nil {
		r.logic.OnRoomTick(r)
	}
	if r.logic.OnPlayerTick != nil {
		for _, p := range players {
			r.logic.OnPlayerTick(r, p)
		}
	}
}

// PlayerByID 依 ID 尋找房間內的玩家
func (r *Room) PlayerByID(id uint64) (*Player, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, Errorf(KindNotFound, "房間內沒有 ID 為 %d 的玩家", id)
}

// ID 回傳房間 ID
func (r *Room) ID() uint64 {
	return r.id
}

// Name 回傳房間名稱
func (r *Room) Name() string {
	return r.name
}

// PlayerCount 回傳目前的成員數
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Players 回傳目前成員的複本，依加入順序
func (r *Room) Players() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	players := make([]*Player, len(r.members))
	copy(players, r.members)
	return players
}

// InProgress 回傳遊戲是否進行中
func (r *Room) InProgress() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inProgress
}

// Paused 回傳遊戲是否暫停中
func (r *Room) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// Host 回傳目前的房主：已連接玩家的 ID，或建房者名稱的佔位
func (r *Room) Host() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.hostID != 0 {
		return r.hostID
	}
	return r.pendingHost
}
