package internal

import (
	"log/slog"
	"sync"
)

// IPLists IP 白名單與黑名單
//
// 行程內的集合；落盤持久化由嵌入方負責（例如啟動時用
// AddAllow/AddDeny 灌入、Ban 時另行寫檔）。
type IPLists struct {
	logger *slog.Logger

	mu    sync.RWMutex
	allow map[string]struct{}
	deny  map[string]struct{}
}

// NewIPLists 建立空的名單
func NewIPLists(logger *slog.Logger) *IPLists {
	return &IPLists{
		logger: logger,
		allow:  make(map[string]struct{}),
		deny:   make(map[string]struct{}),
	}
}

// AddAllow 把 IP 加入白名單
func (l *IPLists) AddAllow(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allow[ip] = struct{}{}
}

// AddDeny 把 IP 加入黑名單
func (l *IPLists) AddDeny(ip string) {
	l.mu.Lock()
	l.deny[ip] = struct{}{}
	l.mu.Unlock()

	l.logger.Info("IP 已加入黑名單", "ip", ip)
}

// IsAllowed 回傳 IP 是否在白名單上
func (l *IPLists) IsAllowed(ip string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.allow[ip]
	return ok
}

// IsDenied 回傳 IP 是否在黑名單上
func (l *IPLists) IsDenied(ip string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.deny[ip]
	return ok
}

// Screen 依配置檢查一個來源 IP 是否可以連接
func (l *IPLists) Screen(cfg *Config, ip string) error {
	if cfg.UseDenyList && l.IsDenied(ip) {
		return Errorf(KindAuth, "你的 IP 已被此伺服器封鎖。")
	}
	if cfg.UseAllowList && !l.IsAllowed(ip) {
		return Errorf(KindAuth, "你的 IP 不在此伺服器的允許名單上。")
	}
	return nil
}
