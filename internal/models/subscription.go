package models

import "time"

// Status — состояние ключа подписки.
type Status string

const (
	// StatusActive — запись ссылается на ключ, существующий на сервере.
	StatusActive Status = "active"
	// StatusDegraded — действующего ключа нет, поля Plan и ExpiresAt хранят
	// целевое состояние незавершённого перехода.
	StatusDegraded Status = "degraded"
)

const (
	// PlanBase — базовый тариф с квотой трафика.
	PlanBase = 0
	// PlanUpgraded — расширенный тариф без квоты.
	PlanUpgraded = 1
)

// Subscription — текущая подписка пользователя (одна на пользователя).
type Subscription struct {
	ID        int64
	UserID    int64
	ServerID  string
	KeyID     string
	AccessURL string
	Plan      int
	Status    Status
	LastLogin *time.Time
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Degraded сообщает, что у записи нет действующего ключа.
func (s *Subscription) Degraded() bool {
	return s.Status == StatusDegraded || s.KeyID == ""
}

// Expired сообщает, что срок ключа истёк к моменту now.
func (s *Subscription) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// Dormant сообщает, что пользователь не входил дольше threshold.
// Подписка без единого входа не считается заброшенной.
func (s *Subscription) Dormant(now time.Time, threshold time.Duration) bool {
	if s.LastLogin == nil {
		return false
	}
	return now.Sub(*s.LastLogin) > threshold
}

// Result — данные подписки, которые получает вызывающая сторона.
type Result struct {
	AccessURL string    `json:"access_url"`
	Plan      int       `json:"plan"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    Status    `json:"status"`
}

// ResultOf собирает Result из записи подписки.
func ResultOf(s *Subscription) *Result {
	return &Result{
		AccessURL: s.AccessURL,
		Plan:      s.Plan,
		ExpiresAt: s.ExpiresAt,
		Status:    s.Status,
	}
}
