package service

import (
	"context"

	"loyalty-engine/internal/model"
	"loyalty-engine/internal/repository"
)

// MemberStore reads and writes member records.
type MemberStore interface {
	Create(ctx context.Context, id int64, email, firstName string, referrerID *int64) (*model.Member, error)
	GetByID(ctx context.Context, id int64) (*model.Member, error)
	UpdateProfile(ctx context.Context, id int64, email, firstName string) (*model.Member, error)
}

// EconomyStore holds the balance and lifetime counters.
type EconomyStore interface {
	Get(ctx context.Context, userID int64) (*model.Economy, error)
	SetBalanceAndLifetime(ctx context.Context, userID, balance, lifetime int64, rankKey string) error
	DeductBalance(ctx context.Context, userID, amount int64) (newBalance int64, ok bool, err error)
}

// ActionLog is the append-only action log.
type ActionLog interface {
	Append(ctx context.Context, userID int64, actionType string, objectID *int64, meta model.LogMetadata) (*model.LogEntry, error)
	Count(ctx context.Context, userID int64, actionType string) (int64, error)
	Recent(ctx context.Context, userID int64, limit int) ([]*model.LogEntry, error)
}

// RuleStore reads the rule catalogs and records unlocks.
type RuleStore interface {
	ListRanks(ctx context.Context) ([]model.Rank, error)
	ListAchievementsByTrigger(ctx context.Context, eventName string) ([]model.Achievement, error)
	ListTriggerRules(ctx context.Context, eventKey string) ([]model.TriggerRule, error)
	UnlockedKeys(ctx context.Context, userID int64) (map[string]bool, error)
	InsertUnlock(ctx context.Context, userID int64, achievementKey string) (bool, error)
}

// CatalogStore reads products and scan codes.
type CatalogStore interface {
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	GetScanCode(ctx context.Context, code string) (*model.ScanCode, error)
	ConsumeCode(ctx context.Context, code string, userID int64) (bool, error)
}

var (
	_ MemberStore  = (*repository.MemberRepository)(nil)
	_ EconomyStore = (*repository.EconomyRepository)(nil)
	_ ActionLog    = (*repository.ActionLogRepository)(nil)
	_ RuleStore    = (*repository.RuleRepository)(nil)
	_ CatalogStore = (*repository.CatalogRepository)(nil)
)

// Ledger is the set of stores one balance mutation writes through.
type Ledger struct {
	Economy EconomyStore
	Actions ActionLog
	Catalog CatalogStore
}

// Transactor runs fn so that every write made through the Ledger it is
// handed commits or rolls back as a unit.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error
}

// NewRepositoryTransactor scopes the Postgres repositories to one
// transaction per unit of work.
func NewRepositoryTransactor(t *repository.Transactor) Transactor {
	return repositoryTx{t: t}
}

type repositoryTx struct {
	t *repository.Transactor
}

func (r repositoryTx) InTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error {
	return r.t.WithinTx(ctx, func(ctx context.Context, db repository.DBTX) error {
		return fn(ctx, Ledger{
			Economy: repository.NewEconomyRepository(db),
			Actions: repository.NewActionLogRepository(db),
			Catalog: repository.NewCatalogRepository(db),
		})
	})
}

// directTx runs units of work straight against the stores.
type directTx struct {
	l Ledger
}

func (d directTx) InTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error {
	return fn(ctx, d.l)
}

// Recorder receives economy measurements. The metrics package implements it.
type Recorder interface {
	PointsGranted(points int64)
	PointsDeducted(points int64)
	AchievementUnlocked(key string)
	RankChanged(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) PointsGranted(int64) {}
func (nopRecorder) PointsDeducted(int64) {}
func (nopRecorder) AchievementUnlocked(string) {}
func (nopRecorder) RankChanged(string, string) {}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
