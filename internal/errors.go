package internal

import (
	"errors"
	"fmt"
)

// ErrorKind 錯誤分類
//
// 所有在處理客戶端封包時產生的錯誤都屬於以下其中一類。
// 分派邊界（readPump）會把任何分類錯誤轉換成 --refusal 封包
// 回傳給客戶端，然後關閉該連接。內部錯誤（計時器回調找不到
// 房間/玩家等）只記錄日誌，不會傳播給客戶端。
type ErrorKind int

const (
	KindProtocol   ErrorKind = iota // 封包格式錯誤、未知類型
	KindValidation                  // 房間名稱為空、玩家名稱不合法
	KindAuth                        // 密碼錯誤、IP 被拒絕
	KindState                       // 遊戲狀態不允許該操作
	KindCapacity                    // 房間已滿
	KindConflict                    // 名稱/IP 重複、連接已被綁定
	KindNotFound                    // 房間/玩家不存在
)

// String 回傳分類名稱（用於日誌）
func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindState:
		return "state"
	case KindCapacity:
		return "capacity"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error 帶分類的錯誤
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf 建立一個帶分類的錯誤
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf 回傳錯誤的分類；非本套件的錯誤一律視為 protocol
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProtocol
}
