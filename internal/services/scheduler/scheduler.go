// Package scheduler запускает периодическую сверку всех подписок.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/magabrotheeeer/vpn-provisioner/internal/config"
	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
	"github.com/magabrotheeeer/vpn-provisioner/internal/models"
	"github.com/magabrotheeeer/vpn-provisioner/internal/services/lifecycle"
)

// SubscriptionLister постранично отдаёт подписки по возрастанию id.
type SubscriptionLister interface {
	ListSubscriptions(ctx context.Context, afterID int64, limit int) ([]*models.Subscription, error)
}

// Reconciler сверяет подписку одного пользователя.
type Reconciler interface {
	Reconcile(ctx context.Context, userID int64) (lifecycle.Outcome, error)
}

// Recorder принимает итоги прохода для метрик.
type Recorder interface {
	ObserveSweep(outcomes map[string]int, elapsed time.Duration)
}

// Report — итоги одного прохода.
type Report struct {
	Counts  map[lifecycle.Outcome]int
	Elapsed time.Duration
}

// Total число обработанных записей.
func (r Report) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

func (r Report) labels() map[string]int {
	out := make(map[string]int, len(r.Counts))
	for o, n := range r.Counts {
		out[string(o)] = n
	}
	return out
}

// Sweeper — фоновая сверка.
type Sweeper struct {
	lister     SubscriptionLister
	reconciler Reconciler
	recorder   Recorder
	cfg        config.Sweep
	log        *slog.Logger
}

// NewSweeper создает новый экземпляр Sweeper. recorder может быть nil.
func NewSweeper(lister SubscriptionLister, reconciler Reconciler, recorder Recorder, cfg config.Sweep, log *slog.Logger) *Sweeper {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = time.Minute
	}
	return &Sweeper{
		lister:     lister,
		reconciler: reconciler,
		recorder:   recorder,
		cfg:        cfg,
		log:        log,
	}
}

// Run выполняет проход сразу и затем каждые cfg.Interval, пока ctx не отменён.
func (s *Sweeper) Run(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Sweeper) runCycle(ctx context.Context) {
	s.log.Info("starting reconciliation sweep")
	report, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("sweep ended early", sl.Err(err))
	}
	s.log.Info("sweep finished",
		slog.Int("total", report.Total()),
		slog.Int("renewed", report.Counts[lifecycle.OutcomeRenewed]),
		slog.Int("repaired", report.Counts[lifecycle.OutcomeRepaired]),
		slog.Int("purged", report.Counts[lifecycle.OutcomePurged]),
		slog.Int("revived", report.Counts[lifecycle.OutcomeRevived]),
		slog.Int("skipped", report.Counts[lifecycle.OutcomeSkipped]),
		slog.Int("failed", report.Counts[lifecycle.OutcomeFailed]),
		slog.Duration("elapsed", report.Elapsed),
	)
}

// RunOnce проходит все подписки постранично и сверяет каждую на пуле воркеров.
//
// После отмены ctx новые записи не начинаются. Начатая запись доводится до
// конца на отвязанном контексте, ограниченном cfg.RecordTimeout.
// Ошибка записи считается как failed и не прерывает проход, ошибка чтения
// страницы завершает проход и возвращается вместе с частичным отчётом.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	const op = "scheduler.RunOnce"
	start := time.Now()

	var mu sync.Mutex
	report := Report{Counts: make(map[lifecycle.Outcome]int)}
	count := func(o lifecycle.Outcome) {
		mu.Lock()
		report.Counts[o]++
		mu.Unlock()
	}

	p := pool.New().WithMaxGoroutines(s.cfg.Workers)
	var listErr error
	var afterID int64

pages:
	for ctx.Err() == nil {
		page, err := s.lister.ListSubscriptions(ctx, afterID, s.cfg.BatchSize)
		if err != nil {
			listErr = fmt.Errorf("%s: %w", op, err)
			break
		}
		for _, sub := range page {
			if ctx.Err() != nil {
				break pages
			}
			userID := sub.UserID
			p.Go(func() {
				if ctx.Err() != nil {
					return
				}
				count(s.reconcileOne(ctx, userID))
			})
			afterID = sub.ID
		}
		if len(page) < s.cfg.BatchSize {
			break
		}
	}
	p.Wait()

	report.Elapsed = time.Since(start)
	if s.recorder != nil {
		s.recorder.ObserveSweep(report.labels(), report.Elapsed)
	}
	return report, listErr
}

func (s *Sweeper) reconcileOne(ctx context.Context, userID int64) lifecycle.Outcome {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RecordTimeout)
	defer cancel()

	outcome, err := s.reconciler.Reconcile(rctx, userID)
	if err != nil {
		s.log.Error("failed to reconcile subscription", sl.UserID(userID), sl.Err(err))
		return lifecycle.OutcomeFailed
	}
	if outcome != lifecycle.OutcomeUnchanged {
		s.log.Info("subscription reconciled", sl.UserID(userID), slog.String("outcome", string(outcome)))
	}
	return outcome
}
