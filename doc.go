// Package gameroom 提供了一個多房間的即時多人遊戲會話伺服器。
//
// 客戶端開啟一條持久的 WebSocket 連接，先發出列表、建房或
// 加入請求，之後在同一條連接上交換帶類型的封包，完成在線
// 狀態同步、心跳與遊戲狀態轉換。
//
// # 房間與玩家生命週期
//
// 核心是 Room/Player 狀態機：
//   - 加入：密碼、名稱、容量與唯一性檢查，全部通過才建立玩家
//   - 斷線：遊戲進行中允許重連時進入 lost 狀態，保留身份等待重連
//   - 重連：名稱與 IP 相符即取回原本的玩家 ID 與房主身份
//   - 房主交接：房主離開時依加入順序提升；無人時退回建房者名稱
//   - 回收：空房間超過設定的延遲後自動移除
//
// # 封包協議
//
// 每個幀都是 JSON 物件 {type, message}，類型以字串標籤區分
// （--fetch、--make、--join、--ping、--pong、--update、
// --gamestate 等）。分派表是顯式的 Registry 實例，嵌入方可以
// 為自訂類型追加處理器。任何處理器失敗都以 --refusal 回覆
// 後關閉該連接。
//
// # 心跳
//
// 伺服器以固定間隔對每個房間廣播一次 --ping，同時為每名
// 玩家掛上等待 pong 的計時器；逾時未回應的玩家被視為無
// 回應的對端，直接移除。
//
// # 使用範例
//
// 啟動伺服器：
//
//	cfg := internal.DefaultConfig()
//	manager := internal.NewManager(cfg, logger, nil)
//	lists := internal.NewIPLists(logger)
//	server := internal.NewServer(cfg, logger, manager, lists)
//
//	http.HandleFunc("/ws", server.ServeWS)
//	log.Fatal(http.ListenAndServe(":44956", nil))
//
// 注入遊戲邏輯：
//
//	logic := &internal.GameLogic{
//	    OnRoomTick: func(r *internal.Room) { /* 每 tick 的房間邏輯 */ },
//	}
//	manager := internal.NewManager(cfg, logger, logic)
//
// # 併發模型
//
// 同一條連接的幀依序處理；Room 與其 Player 的所有可變狀態
// 由房間鎖保護，房間之間互不共享狀態。所有計時器（空房間
// 回收、重連寬限、心跳逾時、邏輯 tick）都可以取消，而且在
// 條件被其他路徑解除時一定會被取消。
package gameroom
