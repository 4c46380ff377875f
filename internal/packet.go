package internal

import (
	"encoding/json"
)

// 封包類型標籤
//
// 每個 WebSocket 幀都是一個 JSON 物件 {type, message}，
// 客戶端發出的封包另外帶有 id（玩家 ID）與 room（房間 ID）
// 兩個路由欄位。
const (
	PacketFetch            = "--fetch"
	PacketMake             = "--make"
	PacketJoin             = "--join"
	PacketRefusal          = "--refusal"
	PacketPing             = "--ping"
	PacketPong             = "--pong"
	PacketUpdate           = "--update"
	PacketConnectionUpdate = "--player-connection-update"
	PacketGameState        = "--gamestate"

	// 解析失敗時的哨兵類型，不可註冊處理器
	packetInvalid = "__INVALID__"
)

// Packet 封包信封
type Packet struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`

	// 路由欄位，只出現在客戶端發來的封包上
	ID   uint64 `json:"id,omitempty"`
	Room uint64 `json:"room,omitempty"`
}

// NewPacket 建立一個要送出的封包，message 會被序列化為 JSON
func NewPacket(packetType string, message any) *Packet {
	p := &Packet{Type: packetType}
	if message != nil {
		data, err := json.Marshal(message)
		if err == nil {
			p.Message = data
		}
	}
	return p
}

// Encode 序列化整個封包
func (p *Packet) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Handler 封包處理函數
//
// 回傳錯誤時，分派邊界會向該連接發送 --refusal 並關閉它，
// 所以處理器必須在任何狀態變更之前完成所有驗證。
type Handler func(c *Conn, p *Packet) error

// Registry 封包類型分派表
//
// 顯式的註冊表實例，由 Server 持有並傳給需要註冊處理器的
// 對象，而不是套件層級的共享狀態。同一類型可以註冊多個
// 處理器，按註冊順序同步呼叫。
type Registry struct {
	handlers map[string][]Handler
}

// NewRegistry 建立封包分派表
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]Handler),
	}
}

// Register 為一種封包類型追加處理器
func (r *Registry) Register(packetType string, h Handler) {
	r.handlers[packetType] = append(r.handlers[packetType], h)
}

// Dispatch 解析一個原始幀並依類型分派
//
// 解析失敗的幀視為哨兵類型，和未註冊的類型一樣以
// ProtocolError 拒絕。處理器在呼叫端的 goroutine 上同步
// 執行，所以同一條連接的下一個幀一定在當前幀處理完之後
// 才會被處理。
func (r *Registry) Dispatch(c *Conn, raw []byte) error {
	var p Packet
	if err := json.Unmarshal(raw, &p); err != nil {
		p.Type = packetInvalid
	}
	if p.Type == packetInvalid {
		return Errorf(KindProtocol, "封包無法解析")
	}

	handlers, ok := r.handlers[p.Type]
	if !ok {
		return Errorf(KindProtocol, "收到無法識別的封包類型: %s", p.Type)
	}
	for _, h := range handlers {
		if err := h(c, &p); err != nil {
			return err
		}
	}
	return nil
}
