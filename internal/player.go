package internal

import (
	"time"
)

// Player 房間內的一名玩家
//
// 一個 Player 在連接期間與一條連接 1:1 綁定；短暫斷線時
// 身份仍然保留（lost 狀態），在寬限時間內用相同的名稱和
// IP 重連就能取回原本的 ID 和房主身份。
//
// 併發模型：Player 的所有可變欄位都由所屬 Room 的鎖保護。
// 小寫方法假設呼叫者已持有房間鎖；計時器回調一律經由
// Room 的入口方法重新取鎖，並用計時器指標比對來忽略
// 已被取消的過期回調。
type Player struct {
	ID   uint64
	Name string
	IP   string

	room *Room // 非擁有的回指，只用於路由
	conn *Conn

	isHost    bool
	connected bool
	ping      time.Duration // 最近一次量測的往返時間
	lastPing  time.Time     // 最近一次送出 ping 的時間

	reconnectTimer *time.Timer // 斷線重連寬限
	pingTimer      *time.Timer // 等待 pong 的上限
}

// PlayerSnapshot 廣播給客戶端的玩家投影
type PlayerSnapshot struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
	Ping      int64  `json:"ping"` // 毫秒
}

// connectionUpdate --player-connection-update 的負載
type connectionUpdate struct {
	ID     uint64 `json:"id"`
	Status bool   `json:"status"`
}

func newPlayer(id uint64, name, ip string, room *Room, conn *Conn) *Player {
	return &Player{
		ID:        id,
		Name:      name,
		IP:        ip,
		room:      room,
		conn:      conn,
		connected: true,
		lastPing:  time.Now(),
	}
}

// snapshot 需要持有房間鎖
func (p *Player) snapshot() PlayerSnapshot {
	return PlayerSnapshot{
		ID:        p.ID,
		Name:      p.Name,
		IsHost:    p.isHost,
		Connected: p.connected,
		Ping:      p.ping.Milliseconds(),
	}
}

// send 發送一個封包給這名玩家，未連接時靜默丟棄
func (p *Player) send(packet *Packet) {
	if p.connected && p.conn != nil {
		p.conn.SendPacket(packet)
	}
}

// lost 連接中斷時把玩家轉入 lost 狀態，需要持有房間鎖
//
// 只能經由 Room.LostPlayer 進入。玩家標記為未連接後，
// 如果房間還沒暫停就自動暫停，接著啟動重連寬限計時器；
// 計時器到期時玩家被永久移除，若房間是因此自動暫停的
// 則恢復進行。
func (p *Player) lost() {
	p.connected = false
	p.room.autoPause(p)

	// 斷線前一刻送出的心跳等不到 pong，取消它，
	// 否則心跳逾時會搶在寬限之前移除玩家
	if p.pingTimer != nil {
		p.pingTimer.Stop()
		p.pingTimer = nil
	}

	grace := time.Duration(p.room.cfg.Users.ReconnectionTimeout)
	var t *time.Timer
	t = time.AfterFunc(grace, func() {
		p.room.reconnectionExpired(p, t)
	})
	p.reconnectTimer = t

	p.room.sendAllExcept(NewPacket(PacketConnectionUpdate, connectionUpdate{
		ID:     p.ID,
		Status: false,
	}), p.conn)
}

// found 斷線的玩家重連成功，需要持有房間鎖
//
// 取消寬限計時器、重新綁定新連接，並在房間是因為這名
// 玩家斷線而自動暫停時恢復進行。
func (p *Player) found(c *Conn) {
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}

	p.conn = c
	p.connected = true
	c.bind(p.room, p)

	p.room.resumeFor(p)

	p.room.sendAllExcept(NewPacket(PacketConnectionUpdate, connectionUpdate{
		ID:     p.ID,
		Status: true,
	}), p.conn)
}

// pinged 心跳送出後啟動等待 pong 的計時器，需要持有房間鎖
//
// 計時器已在運行時不重覆啟動（冪等）。到期前沒有收到
// pong 的話，玩家被視為無回應的對端，直接硬移除，沒有
// 第二次寬限。
func (p *Player) pinged() {
	if p.pingTimer != nil {
		return
	}
	p.lastPing = time.Now()

	var t *time.Timer
	t = time.AfterFunc(time.Duration(p.room.cfg.PingTimeout), func() {
		p.room.pingExpired(p, t)
	})
	p.pingTimer = t
}

// ponged 收到 pong，取消計時器並更新往返時間，需要持有房間鎖
func (p *Player) ponged() {
	if p.pingTimer == nil {
		return
	}
	p.pingTimer.Stop()
	p.pingTimer = nil
	p.ping = time.Since(p.lastPing)
}

// Ponged 收到這名玩家的 pong 封包
func (p *Player) Ponged() {
	p.room.mu.Lock()
	defer p.room.mu.Unlock()
	p.ponged()
}

// Connected 回傳玩家目前是否連接中
func (p *Player) Connected() bool {
	p.room.mu.RLock()
	defer p.room.mu.RUnlock()
	return p.connected
}

// IsHost 回傳玩家是否為房主
func (p *Player) IsHost() bool {
	p.room.mu.RLock()
	defer p.room.mu.RUnlock()
	return p.isHost
}

// Ping 回傳最近一次量測的往返時間
func (p *Player) Ping() time.Duration {
	p.room.mu.RLock()
	defer p.room.mu.RUnlock()
	return p.ping
}

// Room 回傳玩家所在的房間
func (p *Player) Room() *Room {
	return p.room
}

// detach 停掉所有計時器並關閉連接，需要持有房間鎖
func (p *Player) detach() {
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
		p.reconnectTimer = nil
	}
	if p.pingTimer != nil {
		p.pingTimer.Stop()
		p.pingTimer = nil
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// Kick 把玩家踢出房間
//
// 先通知一個 --refusal 封包，再走正常的移除路徑。被踢的
// 玩家之後仍然可以重新加入。
func (p *Player) Kick() {
	r := p.room
	r.mu.Lock()
	defer r.mu.Unlock()

	p.send(NewPacket(PacketRefusal, "你已被移出伺服器。"))
	r.removePlayer(p)
}

// Ban 把玩家的 IP 加入黑名單後踢出
func (p *Player) Ban(lists *IPLists) {
	lists.AddDeny(p.IP)
	p.Kick()
}
