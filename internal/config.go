package internal

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 可以從 YAML 字串解析的時間長度（如 "30s"、"500ms"）
type Duration time.Duration

// UnmarshalYAML 實作 yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("無效的時間長度 %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML 實作 yaml.Marshaler
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// NameConfig 玩家名稱的限制
type NameConfig struct {
	MinLength            int    `yaml:"min_length"`
	MaxLength            int    `yaml:"max_length"`
	DisallowedCharacters string `yaml:"disallowed_characters"`
}

// UserConfig 玩家相關配置
type UserConfig struct {
	Name                NameConfig `yaml:"name"`
	MustHaveUniqueName  bool       `yaml:"must_have_unique_name"`
	MustHaveUniqueIP    bool       `yaml:"must_have_unique_ip"`
	AllowReconnection   bool       `yaml:"allow_reconnection"`
	ReconnectionTimeout Duration   `yaml:"reconnection_timeout"`
}

// Config 伺服器配置
//
// 對應核心邏輯消耗的所有配置值：端口、房間與玩家上限、
// 各種計時器長度、名稱/IP 唯一性要求、斷線重連設定、
// 以及 IP 白名單/黑名單開關。
type Config struct {
	Port                  int      `yaml:"port"`
	DefaultPlayersPerRoom int      `yaml:"default_players_per_room"`
	MaxPlayersPerRoom     int      `yaml:"max_players_per_room"`
	RoomRequestTimeout    Duration `yaml:"room_request_timeout"` // 連接後遲遲不發請求的寬限
	RoomEmptyTimeout      Duration `yaml:"room_empty_timeout"`   // 空房間自動移除的延遲
	PingInterval          Duration `yaml:"ping_interval"`        // 心跳廣播間隔
	PingTimeout           Duration `yaml:"ping_timeout"`         // 等待 pong 的上限
	LogicTickInterval     Duration `yaml:"logic_tick_interval"`  // 遊戲邏輯 tick（0 = 停用）
	HostOnlyGameState     bool     `yaml:"host_only_game_state"` // 是否只有房主能變更遊戲狀態
	AllowJoinInProgress   bool     `yaml:"allow_join_in_progress"`
	UseAllowList          bool     `yaml:"use_allow_list"`
	UseDenyList           bool     `yaml:"use_deny_list"`

	Users UserConfig `yaml:"users"`
}

// DefaultConfig 回傳預設配置
func DefaultConfig() *Config {
	return &Config{
		Port:                  44956,
		DefaultPlayersPerRoom: 4,
		MaxPlayersPerRoom:     16,
		RoomRequestTimeout:    Duration(10 * time.Second),
		RoomEmptyTimeout:      Duration(30 * time.Second),
		PingInterval:          Duration(5 * time.Second),
		PingTimeout:           Duration(10 * time.Second),
		LogicTickInterval:     0, // 預設不啟用遊戲邏輯 tick
		HostOnlyGameState:     true,
		AllowJoinInProgress:   false,
		UseAllowList:          false,
		UseDenyList:           true,
		Users: UserConfig{
			Name: NameConfig{
				MinLength:            3,
				MaxLength:            16,
				DisallowedCharacters: `"'\<>`,
			},
			MustHaveUniqueName:  true,
			MustHaveUniqueIP:    false,
			AllowReconnection:   true,
			ReconnectionTimeout: Duration(30 * time.Second),
		},
	}
}

// LoadConfig 從 YAML 檔案載入配置
//
// 先填入預設值，再用檔案內容覆蓋，所以檔案只需要寫出
// 想改的欄位。path 為空字串時直接回傳預設配置。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置檔 %s 失敗: %w", path, err)
	}
	return cfg, nil
}

// NameIsValid 檢查玩家名稱是否通過所有限制
//
// 純函數：長度必須落在設定的範圍內，且不得包含任何
// 被禁止的字元。
func (c *Config) NameIsValid(name string) bool {
	if len(name) < c.Users.Name.MinLength || len(name) > c.Users.Name.MaxLength {
		return false
	}
	return !strings.ContainsAny(name, c.Users.Name.DisallowedCharacters)
}
