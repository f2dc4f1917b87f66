// Package errs содержит сигнальные ошибки, общие для слоёв хранилища,
// клиента ключей и движка жизненного цикла подписки.
package errs

import "errors"

var (
	// ErrNotFound - у пользователя нет текущей подписки (или самого пользователя).
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists - нарушение уникальности (email занят, подписка уже есть).
	ErrAlreadyExists = errors.New("already exists")

	// ErrAlreadyUpgraded - план уже на максимальном уровне.
	ErrAlreadyUpgraded = errors.New("already upgraded")

	// ErrUpstreamUnavailable - сетевая ошибка или таймаут при обращении к серверу ключей.
	// Повторяемая.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamRejected - сервер ключей ответил прикладной ошибкой.
	// Без вмешательства оператора повторять бессмысленно.
	ErrUpstreamRejected = errors.New("upstream rejected")

	// ErrKeyNotFound - ключ уже удалён на сервере. Для удаления равносильно успеху.
	ErrKeyNotFound = errors.New("access key not found")

	// ErrDegraded - у локальной записи нет действующего ключа после неудачной ротации.
	ErrDegraded = errors.New("subscription degraded")

	// ErrConfiguration - неразрешимый server_id или некорректный конфиг. Фатально при старте.
	ErrConfiguration = errors.New("configuration error")

	// ErrLeaseHeld - над подпиской пользователя уже выполняется другой переход.
	ErrLeaseHeld = errors.New("lease held")

	// ErrNotDormant - пользователь вошёл, пока его удаляли. Удаление отменено.
	ErrNotDormant = errors.New("user is not dormant")

	// ErrInvalidCredentials - неверный email или пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// IsRetryable сообщает, имеет ли смысл повторить операцию позже.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, ErrLeaseHeld)
}
