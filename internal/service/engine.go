package service

import (
	"time"

	"loyalty-engine/internal/event"
	"loyalty-engine/internal/model"
	"loyalty-engine/internal/pkg/lock"
)

// Stores bundles the persistence collaborators of the engines. Tx is
// optional; without it ledger writes are not grouped.
type Stores struct {
	Members MemberStore
	Economy EconomyStore
	Actions ActionLog
	Rules   RuleStore
	Catalog CatalogStore
	Tx      Transactor
}

// EngineConfig holds the tunables of the engines.
type EngineConfig struct {
	FloorRank      model.Rank
	LockTimeout    time.Duration
	CacheSize      int
	RankTTL        time.Duration
	AchievementTTL time.Duration
}

// Engine is the library surface: every engine wired to one dispatcher with
// its listeners registered.
type Engine struct {
	Ranks        *RankService
	Economy      *EconomyService
	Achievements *AchievementService
	Triggers     *TriggerService
	Members      *MemberService

	subs []event.Subscription
}

// NewEngine builds the engines and subscribes them to bus.
func NewEngine(st Stores, bus *event.Bus, locks *lock.UserLock, cfg EngineConfig, recorder Recorder) *Engine {
	ranks := NewRankService(st.Rules, st.Economy, cfg.FloorRank, cfg.RankTTL)
	snapshots := NewSnapshotBuilder(st.Members, st.Economy, st.Actions, ranks)

	economy := NewEconomyService(EconomyDeps{
		Members:     st.Members,
		Economy:     st.Economy,
		Actions:     st.Actions,
		Catalog:     st.Catalog,
		Ranks:       ranks,
		Bus:         bus,
		Snapshots:   snapshots,
		Tx:          st.Tx,
		Locks:       locks,
		LockTimeout: cfg.LockTimeout,
		Recorder:    recorder,
	})
	achievements := NewAchievementService(st.Rules, st.Actions, economy, bus, snapshots, cfg.CacheSize, cfg.AchievementTTL, recorder)
	triggers := NewTriggerService(st.Rules, bus)

	e := &Engine{
		Ranks:        ranks,
		Economy:      economy,
		Achievements: achievements,
		Triggers:     triggers,
		Members:      NewMemberService(st.Members, st.Actions, bus, snapshots),
	}

	e.subs = append(e.subs, economy.Register(bus))
	e.subs = append(e.subs, achievements.Register(bus)...)
	e.subs = append(e.subs, triggers.Register(bus)...)
	return e
}

// Subscriptions returns the listener handles registered by NewEngine.
func (e *Engine) Subscriptions() []event.Subscription {
	return e.subs
}

// InvalidateCatalogs drops every cached rank and achievement definition.
func (e *Engine) InvalidateCatalogs() {
	e.Ranks.Invalidate()
	e.Achievements.Invalidate("")
}
