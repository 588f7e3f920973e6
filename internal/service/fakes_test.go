package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"loyalty-engine/internal/event"
	"loyalty-engine/internal/model"
	"loyalty-engine/internal/pkg/lock"
	"loyalty-engine/internal/rule"
)

// memStore is an in-memory implementation of every store interface.
type memStore struct {
	mu sync.Mutex

	members  map[int64]*model.Member
	economy  map[int64]*model.Economy
	log      []*model.LogEntry
	ranks    []model.Rank
	defs     []model.Achievement
	triggers []model.TriggerRule
	unlocks  map[int64]map[string]bool
	products map[int64]*model.Product
	codes    map[string]*model.ScanCode

	rankLoads     int
	failAppendFor string
}

func newMemStore() *memStore {
	return &memStore{
		members:  make(map[int64]*model.Member),
		economy:  make(map[int64]*model.Economy),
		unlocks:  make(map[int64]map[string]bool),
		products: make(map[int64]*model.Product),
		codes:    make(map[string]*model.ScanCode),
	}
}

func (m *memStore) Create(_ context.Context, id int64, email, firstName string, referrerID *int64) (*model.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[id]; ok {
		return nil, ErrMemberExists
	}
	now := time.Now()
	mem := &model.Member{ID: id, Email: email, FirstName: firstName, ReferrerID: referrerID, CreatedAt: now, UpdatedAt: now}
	m.members[id] = mem
	cp := *mem
	return &cp, nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*model.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[id]
	if !ok {
		return nil, ErrMemberNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *memStore) UpdateProfile(_ context.Context, id int64, email, firstName string) (*model.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[id]
	if !ok {
		return nil, ErrMemberNotFound
	}
	mem.Email, mem.FirstName, mem.UpdatedAt = email, firstName, time.Now()
	cp := *mem
	return &cp, nil
}

func (m *memStore) Get(_ context.Context, userID int64) (*model.Economy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.economy[userID]
	if !ok {
		return &model.Economy{UserID: userID}, nil
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) SetBalanceAndLifetime(_ context.Context, userID, balance, lifetime int64, rankKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.economy[userID] = &model.Economy{
		UserID: userID, Balance: balance, LifetimeEarned: lifetime, RankKey: rankKey, UpdatedAt: time.Now(),
	}
	return nil
}

func (m *memStore) DeductBalance(_ context.Context, userID, amount int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.economy[userID]
	if !ok || e.Balance < amount {
		return 0, false, nil
	}
	e.Balance -= amount
	return e.Balance, true, nil
}

func (m *memStore) Append(_ context.Context, userID int64, actionType string, objectID *int64, meta model.LogMetadata) (*model.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if actionType == m.failAppendFor {
		return nil, errors.New("log unavailable")
	}
	e := &model.LogEntry{
		ID: int64(len(m.log) + 1), UserID: userID, ActionType: actionType,
		ObjectID: objectID, Metadata: meta, CreatedAt: time.Now(),
	}
	m.log = append(m.log, e)
	return e, nil
}

func (m *memStore) Count(_ context.Context, userID int64, actionType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.log {
		if e.UserID == userID && e.ActionType == actionType {
			n++
		}
	}
	return n, nil
}

func (m *memStore) Recent(_ context.Context, userID int64, limit int) ([]*model.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LogEntry
	for i := len(m.log) - 1; i >= 0 && len(out) < limit; i-- {
		if m.log[i].UserID == userID {
			out = append(out, m.log[i])
		}
	}
	return out, nil
}

func (m *memStore) ListRanks(context.Context) ([]model.Rank, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rankLoads++
	return append([]model.Rank(nil), m.ranks...), nil
}

func (m *memStore) ListAchievementsByTrigger(_ context.Context, eventName string) ([]model.Achievement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Achievement
	for _, d := range m.defs {
		if d.TriggerEvent == eventName && d.IsActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memStore) ListTriggerRules(_ context.Context, eventKey string) ([]model.TriggerRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TriggerRule
	for _, tr := range m.triggers {
		if tr.EventKey == eventKey {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (m *memStore) UnlockedKeys(_ context.Context, userID int64) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make(map[string]bool)
	for k := range m.unlocks[userID] {
		keys[k] = true
	}
	return keys, nil
}

func (m *memStore) InsertUnlock(_ context.Context, userID int64, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlocks[userID] == nil {
		m.unlocks[userID] = make(map[string]bool)
	}
	if m.unlocks[userID][key] {
		return false, nil
	}
	m.unlocks[userID][key] = true
	return true, nil
}

func (m *memStore) GetProduct(_ context.Context, id int64) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetScanCode(_ context.Context, code string) (*model.ScanCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ConsumeCode(_ context.Context, code string, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok || c.UsedBy != nil {
		return false, nil
	}
	now := time.Now()
	c.UsedBy, c.UsedAt = &userID, &now
	return true, nil
}

// InTx runs fn against the store and restores the counters, log and scan
// codes if it fails.
func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, l Ledger) error) error {
	m.mu.Lock()
	economy := make(map[int64]model.Economy, len(m.economy))
	for id, e := range m.economy {
		economy[id] = *e
	}
	codes := make(map[string]model.ScanCode, len(m.codes))
	for c, sc := range m.codes {
		codes[c] = *sc
	}
	logLen := len(m.log)
	m.mu.Unlock()

	err := fn(ctx, Ledger{Economy: m, Actions: m, Catalog: m})
	if err == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.economy = make(map[int64]*model.Economy, len(economy))
	for id, e := range economy {
		e := e
		m.economy[id] = &e
	}
	m.codes = make(map[string]*model.ScanCode, len(codes))
	for c, sc := range codes {
		sc := sc
		m.codes[c] = &sc
	}
	m.log = m.log[:logLen]
	return err
}

// entries returns the log rows of one action type for a user.
func (m *memStore) entries(userID int64, actionType string) []*model.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.LogEntry
	for _, e := range m.log {
		if e.UserID == userID && e.ActionType == actionType {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) addMember(id int64, referrerID *int64) {
	_, _ = m.Create(context.Background(), id, "member@example.com", "Member", referrerID)
}

func (m *memStore) setEconomy(userID, balance, lifetime int64, rankKey string) {
	_ = m.SetBalanceAndLifetime(context.Background(), userID, balance, lifetime, rankKey)
}

func (m *memStore) addProduct(p model.Product, codes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.products[p.ID] = &cp
	for _, c := range codes {
		m.codes[c] = &model.ScanCode{Code: c, ProductID: p.ID}
	}
}

type recordedEvent struct {
	name    string
	payload event.Payload
}

// recorder captures broadcasts and economy measurements.
type testRecorder struct {
	mu      sync.Mutex
	events  []recordedEvent
	granted int64
	unlocks []string
	changes [][2]string
}

func (r *testRecorder) listen(bus *event.Bus, names ...string) {
	for _, name := range names {
		bus.ListenPriority(name, 0, func(_ context.Context, name string, p *event.Payload) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, recordedEvent{name: name, payload: *p})
			return nil
		})
	}
}

func (r *testRecorder) named(name string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *testRecorder) PointsGranted(points int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.granted += points
}

func (r *testRecorder) PointsDeducted(int64) {}

func (r *testRecorder) AchievementUnlocked(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unlocks = append(r.unlocks, key)
}

func (r *testRecorder) RankChanged(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, [2]string{from, to})
}

// harness wires every engine against one memStore.
type harness struct {
	store        *memStore
	bus          *event.Bus
	rec          *testRecorder
	ranks        *RankService
	economy      *EconomyService
	achievements *AchievementService
	triggers     *TriggerService
	members      *MemberService
}

func standardRanks() []model.Rank {
	return []model.Rank{
		{Key: "bronze", Name: "Bronze", PointsRequired: 1000, PointMultiplier: 1.0},
		{Key: "silver", Name: "Silver", PointsRequired: 5000, PointMultiplier: 1.5},
		{Key: "gold", Name: "Gold", PointsRequired: 10000, PointMultiplier: 2.0},
	}
}

func newHarness() *harness {
	store := newMemStore()
	store.ranks = standardRanks()

	bus := event.NewBus(8)
	rec := &testRecorder{}
	rec.listen(bus, model.EventProductScanned, model.EventProductRedeemed, model.EventProfileUpdated,
		model.EventAchievementUnlocked, model.EventRankChanged, model.EventReferralSignup,
		model.EventReferralConverted, model.EventPointsGrantRequested)

	e := NewEngine(
		Stores{Members: store, Economy: store, Actions: store, Rules: store, Catalog: store, Tx: store},
		bus,
		lock.NewUserLock(),
		EngineConfig{
			FloorRank:      rule.FloorRank("member", "Member"),
			LockTimeout:    time.Second,
			CacheSize:      16,
			RankTTL:        time.Hour,
			AchievementTTL: time.Hour,
		},
		rec,
	)

	return &harness{
		store:        store,
		bus:          bus,
		rec:          rec,
		ranks:        e.Ranks,
		economy:      e.Economy,
		achievements: e.Achievements,
		triggers:     e.Triggers,
		members:      e.Members,
	}
}
