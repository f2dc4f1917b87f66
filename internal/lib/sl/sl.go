// Package sl содержит вспомогательные функции для работы с логгером slog:
// единообразные атрибуты для ошибок и идентификаторов.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и текстом ошибки.
//
// Пример:
//
//	log.Error("failed to rotate key", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// UserID возвращает атрибут с идентификатором пользователя.
func UserID(id int64) slog.Attr {
	return slog.Int64("user_id", id)
}

// Server возвращает атрибут с идентификатором сервера ключей.
func Server(id string) slog.Attr {
	return slog.String("server_id", id)
}
