package internal

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 4 * 1024
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// Conn 一條客戶端連接的包裝
//
// 讀寫各自一個 goroutine：readPump 逐幀交給分派表，同一條
// 連接的下一幀一定在當前幀處理完之後才讀取；writePump 從
// 緩衝 channel 非同步送出，慢客戶端不會拖住房間的廣播。
//
// player/room 是非擁有的回指，只用於路由；生命週期始終由
// Manager → Room → Player 這條鏈控制。
type Conn struct {
	ws       *websocket.Conn
	logger   *slog.Logger
	remoteIP string

	send chan []byte

	mu           sync.Mutex
	player       *Player
	room         *Room
	requestTimer *time.Timer // 連接後遲遲不發請求的寬限
	closed       bool
}

// NewConn 包裝一條已升級的 WebSocket 連接
//
// ws 可以為 nil，此時封包只會進入發送佇列而不會真的送出，
// 用於不經過網路的場合。
func NewConn(ws *websocket.Conn, remoteIP string, logger *slog.Logger) *Conn {
	return &Conn{
		ws:       ws,
		logger:   logger,
		remoteIP: remoteIP,
		send:     make(chan []byte, sendBufferSize),
	}
}

// RemoteIP 回傳連接來源的 IP
func (c *Conn) RemoteIP() string {
	return c.remoteIP
}

// Player 回傳綁定的玩家，未綁定時為 nil
func (c *Conn) Player() *Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

// bind 把連接綁定到一個房間與玩家
func (c *Conn) bind(r *Room, p *Player) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
	c.player = p
	if c.requestTimer != nil {
		c.requestTimer.Stop()
		c.requestTimer = nil
	}
}

// armRequestTimeout 掛上「必須在期限內送出請求」的計時器
//
// 到期時連接還沒被任何請求解除就直接關閉。fetch/make/join
// 處理器都會解除它。
func (c *Conn) armRequestTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestTimer = time.AfterFunc(d, func() {
		c.logger.Info("連接逾時未送出請求，關閉", "ip", c.remoteIP)
		c.Close()
	})
}

// clearRequestTimeout 解除請求期限
func (c *Conn) clearRequestTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requestTimer != nil {
		c.requestTimer.Stop()
		c.requestTimer = nil
	}
}

// SendPacket 把封包排入發送佇列
//
// 佇列滿時丟棄並記一條警告，不阻塞呼叫者——廣播經常在
// 持有房間鎖的情況下進行，絕不能等慢客戶端。
func (c *Conn) SendPacket(p *Packet) {
	data, err := p.Encode()
	if err != nil {
		c.logger.Error("序列化封包失敗", "error", err, "type", p.Type)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("連接發送佇列已滿，丟棄封包",
			"ip", c.remoteIP,
			"type", p.Type)
	}
}

// Refuse 回覆一個 --refusal 封包後關閉連接
//
// 分派邊界的唯一錯誤恢復路徑：先把錯誤描述送給對方，
// 再關閉。佇列裡先前排入的封包會在關閉幀之前送完。
func (c *Conn) Refuse(err error) {
	c.logger.Warn("拒絕連接",
		"ip", c.remoteIP,
		"kind", KindOf(err).String(),
		"error", err.Error())
	c.SendPacket(NewPacket(PacketRefusal, err.Error()))
	c.Close()
}

// Close 關閉連接，重覆呼叫無害
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.requestTimer != nil {
		c.requestTimer.Stop()
		c.requestTimer = nil
	}
	close(c.send)
}

// readPump 讀取客戶端的幀並逐一分派
//
// 任何處理器失敗都會走 Refuse 路徑；讀取迴圈結束時，
// 若連接仍綁著玩家，通知房間處理斷線。
func (c *Conn) readPump(registry *Registry) {
	defer func() {
		c.Close()
		c.mu.Lock()
		p, r := c.player, c.room
		c.mu.Unlock()
		if p != nil && r != nil {
			r.ConnClosed(c, p)
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("連接讀取結束", "ip", c.remoteIP, "error", err)
			}
			return
		}
		if err := registry.Dispatch(c, raw); err != nil {
			c.Refuse(err)
			return
		}
	}
}

// writePump 把發送佇列中的封包寫到客戶端
//
// 發送 channel 被關閉時，先送出關閉幀再結束；channel 裡
// 殘留的封包（例如 Refuse 排入的 --refusal）會先被送完。
func (c *Conn) writePump() {
	defer c.ws.Close()

	for {
		data, ok := <-c.send
		if !ok {
			deadline := time.Now().Add(time.Second)
			if err := c.ws.SetWriteDeadline(deadline); err == nil {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		}

		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Error("設置寫入期限失敗", "error", err)
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
