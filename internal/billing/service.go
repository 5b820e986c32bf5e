// Package billing runs one server-side billing session per terminal. A
// session owns the cart engine, the selected customer and payment method,
// and the receipt of the last completed sale.
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"retailpos/backend/internal/batch"
	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/customer"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

var (
	ErrSessionNotFound       = errors.New("billing session not found")
	ErrConfirmationPending   = errors.New("a confirmation is waiting for the operator")
	ErrNoPendingConfirmation = errors.New("nothing is waiting for confirmation")
	ErrSessionSettled        = errors.New("sale already completed for this cart")
	ErrNoReceipt             = errors.New("no receipt yet")
	ErrSearchSuperseded      = errors.New("search superseded by a newer one")
	ErrInvalidTerminal       = errors.New("invalid terminal id")
)

const (
	defaultSearchLimit   = 20
	defaultAuditLimit    = 100
	defaultRiskWindowDay = 30
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Config struct {
	ResetDelay          time.Duration
	CollaboratorTimeout time.Duration
	ExpiryWarningDays   int
	BatchCacheTTL       time.Duration
	Location            *time.Location
}

type Service struct {
	repo      store.Repository
	adapter   *batch.Adapter
	cache     cache.BatchCache
	customers *customer.Service
	cfg       Config
	log       *logger.Logger
	metrics   *metrics.Billing
	now       func() time.Time

	mu         sync.RWMutex
	sessions   map[string]*Session
	byTerminal map[string]string
}

type Option func(*Service)

func WithCache(c cache.BatchCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(m *metrics.Billing) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, cfg Config, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ExpiryWarningDays < 0 {
		cfg.ExpiryWarningDays = 3
	}

	s := &Service{
		repo:       repo,
		cache:      cache.NewMemoryBatchCache(),
		customers:  customer.NewService(repo),
		cfg:        cfg,
		log:        logger.Nop(),
		now:        time.Now,
		sessions:   make(map[string]*Session),
		byTerminal: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.adapter = batch.NewAdapter(repo, batch.WithClock(s.now), batch.WithLocation(cfg.Location))
	return s
}

// Open returns the terminal's session, creating it on first use.
func (s *Service) Open(ctx context.Context, terminalID string) (View, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return View{}, ErrInvalidTerminal
	}

	s.mu.Lock()
	if id, ok := s.byTerminal[terminalID]; ok {
		sess := s.sessions[id]
		s.mu.Unlock()
		return sess.View(), nil
	}
	sess := newSession(s, xid.New("sess"), terminalID)
	s.sessions[sess.id] = sess
	s.byTerminal[terminalID] = sess.id
	s.mu.Unlock()

	ctx = s.log.WithSessionID(ctx, sess.id)
	s.log.Info(ctx, "billing session opened")
	return sess.View(), nil
}

func (s *Service) Session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// ValueAtRisk reports stock that is expired or expires within days.
func (s *Service) ValueAtRisk(ctx context.Context, days int) (domain.ValueAtRiskReport, error) {
	if days < 0 {
		return domain.ValueAtRiskReport{}, store.ErrInvalidTransaction
	}
	if days == 0 {
		days = defaultRiskWindowDay
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	batches, err := s.repo.ListBatches(ctx)
	if err != nil {
		return domain.ValueAtRiskReport{}, fmt.Errorf("list batches: %w", err)
	}

	report := batch.ValueAtRisk(batches, nil, days, s.adapter.Today())
	names := make(map[string]string)
	for i, risk := range report.Batches {
		name, ok := names[risk.ProductID]
		if !ok {
			product, err := s.repo.GetProductByID(ctx, risk.ProductID)
			if err != nil {
				s.log.Warn(ctx, "value at risk: product lookup failed", err)
			} else {
				name = product.Name
			}
			names[risk.ProductID] = name
		}
		report.Batches[i].ProductName = name
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, terminalID string, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = defaultAuditLimit
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", date, s.cfg.Location)
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	logs, err := s.repo.ListAuditLogs(ctx, terminalID, from, to, limit)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].CreatedAt.After(logs[j].CreatedAt)
	})
	return logs, nil
}

// bounded caps a collaborator call at CollaboratorTimeout.
func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CollaboratorTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.CollaboratorTimeout)
}

func (s *Service) logAudit(ctx context.Context, terminalID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TerminalID:    terminalID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		ctx = s.log.WithField(ctx, "action", action)
		s.log.Warn(ctx, "failed to write audit log", err)
	}
}
