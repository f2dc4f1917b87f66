// Package lifecycle реализует жизненный цикл подписки: выдачу, повышение,
// продление, восстановление и удаление ключа доступа.
//
// Все переходы, которые трогают ключ на сервере, выполняются под арендой
// пользователя: она берётся до DeleteKey/CreateKey и отпускается после
// фиксации записи в хранилище. Touch аренду не берёт, это одно атомарное UPDATE.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/vpn-provisioner/internal/cache"
	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lease"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/outline"
)

// Store — хранилище пользователей и подписок.
type Store interface {
	GetSubscriptionByUser(ctx context.Context, userID int64) (*models.Subscription, error)
	CreateSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub models.Subscription) error
	MarkDegraded(ctx context.Context, id int64, plan int, expiresAt time.Time) error
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) (*models.Subscription, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	PurgeUser(ctx context.Context, userID int64, staleBefore time.Time) error
	ListServerIDs(ctx context.Context) ([]string, error)
}

// Servers разрешает server_id в клиента сервера ключей.
type Servers interface {
	Client(serverID string) (outline.KeyManager, error)
	ServerIDs() []string
}

// Locker выдаёт аренду на пользователя.
type Locker interface {
	Acquire(ctx context.Context, key string) (*lease.Lease, error)
	TryAcquire(ctx context.Context, key string) (*lease.Lease, error)
}

// Cache кэширует результат Current.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context, key string) error
}

// Publisher отправляет события о переходах.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// Recorder считает переходы для метрик.
type Recorder interface {
	ObserveTransition(transition, result string)
}

// Policy — параметры политики подписок.
type Policy struct {
	InactivityThreshold  time.Duration
	UpgradeDuration      time.Duration
	BaseHorizon          time.Duration
	BaseQuotaBytes       int64
	MaxPlan              int
	CreateAttempts       int
	RetryInitialInterval time.Duration
}

// PolicyFromConfig собирает Policy из секций конфига.
func PolicyFromConfig(l config.Lifecycle, u config.Upstream) Policy {
	return Policy{
		InactivityThreshold:  l.InactivityThreshold,
		UpgradeDuration:      l.UpgradeDuration,
		BaseHorizon:          l.BaseHorizon,
		BaseQuotaBytes:       l.BaseQuotaBytes,
		MaxPlan:              l.MaxPlan,
		CreateAttempts:       u.CreateAttempts,
		RetryInitialInterval: u.RetryInitialInterval,
	}
}

// Engine — движок жизненного цикла подписки.
type Engine struct {
	store     Store
	servers   Servers
	locker    Locker
	policy    Policy
	log       *slog.Logger
	cache     Cache
	publisher Publisher
	recorder  Recorder
	selector  ServerSelector
	now       func() time.Time
}

// Option настраивает Engine.
type Option func(*Engine)

// WithCache включает кэш текущей подписки.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithPublisher включает публикацию событий.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithRecorder включает метрики переходов.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithSelector заменяет правило выбора сервера.
func WithSelector(s ServerSelector) Option {
	return func(e *Engine) { e.selector = s }
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New создаёт движок.
func New(store Store, servers Servers, locker Locker, policy Policy, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		servers:   servers,
		locker:    locker,
		policy:    policy,
		log:       log,
		cache:     cache.Nop{},
		publisher: NopPublisher{},
		recorder:  nopRecorder{},
		selector:  FirstServer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.CreateAttempts < 1 {
		e.policy.CreateAttempts = 1
	}
	return e
}

// Названия переходов для метрик и логов.
const (
	transitionProvision = "provision"
	transitionUpgrade   = "upgrade"
	transitionRenew     = "renew"
	transitionRepair    = "repair"
	transitionPurge     = "purge"
	transitionTouch     = "touch"
)

// Итоги переходов для метрик.
const (
	resultOK       = "ok"
	resultNoop     = "noop"
	resultDegraded = "degraded"
	resultFailed   = "failed"
)

type nopRecorder struct{}

func (nopRecorder) ObserveTransition(string, string) {}
