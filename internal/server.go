package internal

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何在一條持久的雙向連接上，承載從「還沒進房」到
//   「遊戲進行中」的所有請求？
//
// 核心挑戰：
//   1. 階段轉換：同一條連接先發 fetch/make/join，成功加入後
//      才開始收發 ping/pong/gamestate
//   2. 錯誤邊界：任何處理器失敗都以 --refusal 回覆並關閉連接，
//      進房前和進房後用同一條恢復路徑
//   3. 資源保護：連上來卻不發請求的連接必須在期限內回收
//
// 設計方案：
//   ✅ 顯式分派表 - Registry 由 Server 持有，嵌入方可再註冊自訂類型
//   ✅ 請求期限 - 升級後掛計時器，fetch/make/join 任一請求解除
//   ✅ IP 篩選 - 升級後立即比對白名單/黑名單，不合就拒絕

// Server 對外的 WebSocket 入口
//
// 持有封包分派表、房間註冊表與 IP 名單，並註冊預設的
// 封包處理器。
type Server struct {
	cfg      *Config
	logger   *slog.Logger
	manager  *Manager
	lists    *IPLists
	registry *Registry
	upgrader websocket.Upgrader
}

// NewServer 建立伺服器並註冊預設封包類型
func NewServer(cfg *Config, logger *slog.Logger, manager *Manager, lists *IPLists) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		manager:  manager,
		lists:    lists,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.registry.Register(PacketFetch, s.handleFetch)
	s.registry.Register(PacketMake, s.handleMake)
	s.registry.Register(PacketJoin, s.handleJoin)
	s.registry.Register(PacketPing, s.handlePing)
	s.registry.Register(PacketPong, s.handlePong)
	s.registry.Register(PacketGameState, s.handleGameState)

	return s
}

// Registry 回傳封包分派表，讓嵌入方註冊自訂的封包類型
func (s *Server) Registry() *Registry {
	return s.registry
}

// ServeWS 處理一條新的 WebSocket 連接
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("升級 WebSocket 失敗", "error", err, "ip", ip)
		return
	}

	conn := NewConn(ws, ip, s.logger)
	go conn.writePump()

	// IP 篩選在升級之後做，才能把拒絕的原因送回給對方
	if err := s.lists.Screen(s.cfg, ip); err != nil {
		conn.Refuse(err)
		go conn.readPump(s.registry) // 仍要讀到對方關閉，回收資源
		return
	}

	conn.armRequestTimeout(time.Duration(s.cfg.RoomRequestTimeout))
	go conn.readPump(s.registry)

	s.logger.Info("連接建立", "ip", ip)
}

// makeRequest --make 的負載
type makeRequest struct {
	Name        string `json:"name"`
	CreatorName string `json:"creatorName"`
	Passcode    string `json:"passcode"`
	MaxPlayers  int    `json:"maxPlayers"`
}

// joinRequest --join 的負載
type joinRequest struct {
	Name     string `json:"name"`
	Passcode string `json:"passcode"`
}

// handleFetch 回覆房間列表後由伺服器端關閉連接
func (s *Server) handleFetch(c *Conn, _ *Packet) error {
	c.clearRequestTimeout()
	c.SendPacket(NewPacket(PacketFetch, s.manager.Summaries()))
	c.Close()
	return nil
}

// handleMake 建立新房間，把房間 ID 回覆給請求者
func (s *Server) handleMake(c *Conn, p *Packet) error {
	c.clearRequestTimeout()

	var req makeRequest
	if err := json.Unmarshal(p.Message, &req); err != nil {
		return Errorf(KindProtocol, "無法解析建房請求")
	}

	id, err := s.manager.AddRoom(req.Name, req.CreatorName, req.MaxPlayers, req.Passcode)
	if err != nil {
		return err
	}
	c.SendPacket(NewPacket(PacketMake, id))
	return nil
}

// handleJoin 嘗試把請求者加入指定的房間
func (s *Server) handleJoin(c *Conn, p *Packet) error {
	c.clearRequestTimeout()

	var req joinRequest
	if err := json.Unmarshal(p.Message, &req); err != nil {
		return Errorf(KindProtocol, "無法解析加入請求")
	}

	room, err := s.manager.Room(p.Room)
	if err != nil {
		return err
	}
	player, err := room.AddPlayer(req.Name, req.Passcode, c, c.RemoteIP())
	if err != nil {
		return err
	}

	c.SendPacket(NewPacket(PacketJoin, player.ID))
	return nil
}

// handlePing 客戶端的心跳請求，回覆 pong
func (s *Server) handlePing(c *Conn, _ *Packet) error {
	c.SendPacket(NewPacket(PacketPong, nil))
	return nil
}

// handlePong 客戶端回應了我們的心跳
func (s *Server) handlePong(c *Conn, _ *Packet) error {
	player := c.Player()
	if player == nil {
		return Errorf(KindNotFound, "尚未加入任何房間")
	}
	player.Ponged()
	return nil
}

// handleGameState 遊戲狀態變更請求：start、pause 或 end
func (s *Server) handleGameState(c *Conn, p *Packet) error {
	player := c.Player()
	if player == nil {
		return Errorf(KindNotFound, "尚未加入任何房間")
	}

	var req string
	if err := json.Unmarshal(p.Message, &req); err != nil {
		return Errorf(KindProtocol, "無法解析遊戲狀態請求")
	}

	if s.cfg.HostOnlyGameState && !player.IsHost() {
		return Errorf(KindAuth, "只有房主可以變更遊戲狀態！")
	}

	room := player.Room()
	switch req {
	case "start":
		room.StartGame()
	case "pause":
		room.PauseGame()
	case "end":
		room.EndGame()
	default:
		return Errorf(KindValidation, "無效的遊戲狀態請求: %s", req)
	}
	return nil
}

// remoteIP 取出請求來源的 IP（不含端口）
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
