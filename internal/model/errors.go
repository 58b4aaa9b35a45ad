package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, queue, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeEntryNotFound   = "ENTRY_NOT_FOUND"
	ErrCodeAdmissionFailed = "ADMISSION_FAILED"
	ErrCodeRateLimited     = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// バリデーションメッセージ。キオスクのフォーム表示と同じ文言を返す。
const (
	MsgNameRequired  = "Name must be at least 2 characters"
	MsgNameInvalid   = "Please enter a valid name"
	MsgPhoneRequired = "Phone number is required"
	MsgPhoneInvalid  = "Phone number must be 10 digits"
)

// FieldError は1フィールド分の入力エラー。
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError はチェックイン入力の検証エラー。
// 最初の失敗で打ち切らず、失敗した全フィールドを列挙する。
type ValidationError struct {
	Fields []FieldError
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

// Add はフィールドエラーを追加する。
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// HasErrors はフィールドエラーが1件以上あるかを返す。
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// Has は指定フィールドのエラーが含まれているかを返す。
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// NewEntryNotFoundError はエントリ未検出エラーを生成する。
func NewEntryNotFoundError(entryID string) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("Entry not found: %s", entryID),
		Category: "queue",
		Action:   "Check the tracking link or check in again at the kiosk.",
	}
}

// NewInvalidRequestError はリクエストボディ不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Send a valid JSON request body.",
	}
}

// NewAdmissionFailedError は待ち行列への登録失敗エラーを生成する。
func NewAdmissionFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAdmissionFailed,
		Message:  "Check-in failed",
		Category: "system",
		Action:   "Please ask the front desk for assistance.",
	}
}
