// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков. Пакет упрощает возврат
// успешных ответов, ошибок и сообщений валидации в едином формате.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/vpn-provisioner/internal/errs"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status — статус запроса ("OK" или "Error").
// Поле Error — текст ошибки (опционально, при неуспехе).
// Поле Data — данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

const (
	// StatusOK — значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError — значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// OKWithData возвращает успешный Response с переданными данными.
func OKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at least %s characters", err.Field(), err.Param()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at most %s characters", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

// FromError подбирает HTTP-статус и текст ответа для ошибки сервиса.
// Текст не раскрывает внутренних деталей.
func FromError(err error) (int, Response) {
	switch {
	case errors.Is(err, errs.ErrDegraded):
		return http.StatusServiceUnavailable, Error("access key is being reissued, try again later")
	case errors.Is(err, errs.ErrAlreadyUpgraded):
		return http.StatusConflict, Error("subscription is already upgraded")
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, Error("user already exists")
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, Error("subscription not found")
	case errors.Is(err, errs.ErrInvalidCredentials):
		return http.StatusUnauthorized, Error("invalid credentials")
	case errors.Is(err, errs.ErrLeaseHeld):
		return http.StatusConflict, Error("another operation is in progress, try again")
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, Error("key server unavailable, try again later")
	case errors.Is(err, errs.ErrUpstreamRejected):
		return http.StatusBadGateway, Error("key server rejected the request")
	}
	return http.StatusInternalServerError, Error("internal error")
}
