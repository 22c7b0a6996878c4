package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Error は利用者に返すことを想定した認証エラーです。
// Code が同じであれば errors.Is で一致とみなします。
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Status:  base.Status,
		Err:     cause,
	}
}

var (
	ErrInvalidInput = &Error{
		Code:    "INVALID_INPUT",
		Message: "入力内容を確認してください。",
		Status:  http.StatusBadRequest,
	}
	ErrPasswordMismatch = &Error{
		Code:    "PASSWORD_MISMATCH",
		Message: "パスワードが一致しません。",
		Status:  http.StatusBadRequest,
	}
	ErrUsernameTaken = &Error{
		Code:    "USERNAME_TAKEN",
		Message: "このユーザー名は既に使われています。",
		Status:  http.StatusConflict,
	}
	ErrRegistrationFailed = &Error{
		Code:    "REGISTRATION_FAILED",
		Message: "登録に失敗しました。時間をおいて再度お試しください。",
		Status:  http.StatusInternalServerError,
	}
	// ErrInvalidCredentials はユーザーが存在しない場合とパスワード誤りの場合で共通です。
	ErrInvalidCredentials = &Error{
		Code:    "INVALID_CREDENTIALS",
		Message: "ユーザー名またはパスワードが正しくありません",
		Status:  http.StatusUnauthorized,
	}
	ErrServiceUnavailable = &Error{
		Code:    "SERVICE_UNAVAILABLE",
		Message: "現在サービスを利用できません。時間をおいて再度お試しください。",
		Status:  http.StatusServiceUnavailable,
	}
)
