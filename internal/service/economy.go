package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"loyalty-engine/internal/event"
	"loyalty-engine/internal/model"
	"loyalty-engine/internal/pkg/lock"
	"loyalty-engine/internal/rule"
)

// Grant is the outcome of GrantPoints.
type Grant struct {
	PointsEarned int64
	NewBalance   int64
	Multiplier   float64
	RankChange   *event.RankChange
}

// Redemption is the outcome of Redeem.
type Redemption struct {
	ProductID   int64
	PointsSpent int64
	NewBalance  int64
}

// ScanResult is the outcome of ProcessScan.
type ScanResult struct {
	ProductID    int64
	IsFirstScan  bool
	PointsEarned int64
	NewBalance   int64
}

// EconomyService is the points economy engine. Every balance mutation for a
// user runs under that user's lock; broadcasts happen after it is released.
type EconomyService struct {
	members     MemberStore
	economy     EconomyStore
	actions     ActionLog
	catalog     CatalogStore
	ranks       *RankService
	bus         *event.Bus
	snapshots   *SnapshotBuilder
	tx          Transactor
	locks       *lock.UserLock
	lockTimeout time.Duration
	recorder    Recorder
}

// EconomyDeps bundles the collaborators of EconomyService.
type EconomyDeps struct {
	Members     MemberStore
	Economy     EconomyStore
	Actions     ActionLog
	Catalog     CatalogStore
	Ranks       *RankService
	Bus         *event.Bus
	Snapshots   *SnapshotBuilder
	Tx          Transactor
	Locks       *lock.UserLock
	LockTimeout time.Duration
	Recorder    Recorder
}

// NewEconomyService creates a new EconomyService instance.
func NewEconomyService(d EconomyDeps) *EconomyService {
	tx := d.Tx
	if tx == nil {
		tx = directTx{l: Ledger{Economy: d.Economy, Actions: d.Actions, Catalog: d.Catalog}}
	}
	return &EconomyService{
		members:     d.Members,
		economy:     d.Economy,
		actions:     d.Actions,
		catalog:     d.Catalog,
		ranks:       d.Ranks,
		bus:         d.Bus,
		snapshots:   d.Snapshots,
		tx:          tx,
		locks:       d.Locks,
		lockTimeout: d.LockTimeout,
		recorder:    orNop(d.Recorder),
	}
}

// Register subscribes the engine to grant instructions.
func (s *EconomyService) Register(bus *event.Bus) event.Subscription {
	return bus.Listen(model.EventPointsGrantRequested, s.handleGrantRequest)
}

func (s *EconomyService) handleGrantRequest(ctx context.Context, _ string, p *event.Payload) error {
	if p == nil || p.Grant == nil {
		return nil
	}
	g := p.Grant
	if g.UserID <= 0 || g.Points <= 0 {
		log.Warn().
			Int64("user_id", g.UserID).
			Int64("points", g.Points).
			Msg("Ignoring invalid grant instruction")
		return nil
	}
	_, err := s.GrantPoints(ctx, g.UserID, g.Points, g.Reason, 1.0)
	return err
}

// GrantPoints awards floor(basePoints × max(rank multiplier, tempMultiplier))
// points, records the grant and announces a rank change when the new
// lifetime total crosses a threshold.
func (s *EconomyService) GrantPoints(ctx context.Context, userID, basePoints int64, description string, tempMultiplier float64) (*Grant, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", ErrInvalidInput)
	}
	if basePoints < 0 {
		return nil, ErrInvalidAmount
	}

	var grant *Grant
	err := s.locks.WithLockContext(ctx, userID, s.lockTimeout, func() error {
		var err error
		grant, err = s.applyGrant(ctx, userID, basePoints, description, tempMultiplier)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recorder.PointsGranted(grant.PointsEarned)
	log.Info().
		Int64("user_id", userID).
		Int64("base_points", basePoints).
		Int64("points", grant.PointsEarned).
		Float64("multiplier", grant.Multiplier).
		Int64("balance", grant.NewBalance).
		Msg("Points granted")

	if rc := grant.RankChange; rc != nil {
		s.recorder.RankChanged(rc.Old.Key, rc.New.Key)
		log.Info().
			Int64("user_id", userID).
			Str("old_rank", rc.Old.Key).
			Str("new_rank", rc.New.Key).
			Msg("Rank changed")
		publish(ctx, s.bus, s.snapshots, model.EventRankChanged, userID, event.EventContext{}, func(p *event.Payload) {
			p.RankChange = rc
			p.SourceAction = model.ActionPointsGranted
		})
	}

	return grant, nil
}

func (s *EconomyService) applyGrant(ctx context.Context, userID, basePoints int64, description string, tempMultiplier float64) (*Grant, error) {
	econ, err := s.economy.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read economy: %w", err)
	}

	current, err := s.ranks.ResolveRank(ctx, econ.LifetimeEarned)
	if err != nil {
		return nil, err
	}

	multiplier := rule.EffectiveMultiplier(current.PointMultiplier, tempMultiplier)
	earned := rule.PointsEarned(basePoints, multiplier)
	newBalance, okBalance := rule.AddPoints(econ.Balance, earned)
	newLifetime, okLifetime := rule.AddPoints(econ.LifetimeEarned, earned)
	if !okBalance || !okLifetime {
		return nil, fmt.Errorf("%w: grant of %d overflows the point counters", ErrInvalidAmount, earned)
	}

	next, err := s.ranks.ResolveRank(ctx, newLifetime)
	if err != nil {
		return nil, err
	}

	grant := &Grant{
		PointsEarned: earned,
		NewBalance:   newBalance,
		Multiplier:   multiplier,
	}

	// An empty cached key means the user had no record yet; their previous
	// rank is whatever the old lifetime resolved to.
	previous := current
	if econ.RankKey != "" && econ.RankKey != current.Key {
		r, ok, err := s.ranks.RankByKey(ctx, econ.RankKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			r = model.Rank{Key: econ.RankKey, Name: econ.RankKey}
		}
		previous = r
	}

	if previous.Key != next.Key {
		grant.RankChange = &event.RankChange{Old: previous, New: next}
	}

	err = s.tx.InTx(ctx, func(ctx context.Context, l Ledger) error {
		if err := l.Economy.SetBalanceAndLifetime(ctx, userID, newBalance, newLifetime, next.Key); err != nil {
			return err
		}

		_, err := l.Actions.Append(ctx, userID, model.ActionPointsGranted, nil, model.LogMetadata{
			Description:       description,
			BasePoints:        basePoints,
			PointsChange:      earned,
			NewBalance:        newBalance,
			MultiplierApplied: multiplier,
		})
		if err != nil || grant.RankChange == nil {
			return err
		}

		_, err = l.Actions.Append(ctx, userID, model.ActionRankChanged, nil, model.LogMetadata{
			Description: fmt.Sprintf("%s -> %s", previous.Name, next.Name),
			NewBalance:  newBalance,
			OldRankKey:  previous.Key,
			NewRankKey:  next.Key,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return grant, nil
}

// DeductPoints spends amount from the balance. Lifetime points and rank are
// untouched. Returns ErrInsufficientBalance, with nothing written, when the
// balance does not cover amount.
func (s *EconomyService) DeductPoints(ctx context.Context, userID, amount int64, description string, objectID *int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("%w: user id must be positive", ErrInvalidInput)
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var newBalance int64
	err := s.locks.WithLockContext(ctx, userID, s.lockTimeout, func() error {
		var err error
		newBalance, err = s.deduct(ctx, userID, amount, model.ActionPointsDeducted, objectID, model.LogMetadata{
			Description: description,
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	s.recorder.PointsDeducted(amount)
	log.Info().
		Int64("user_id", userID).
		Int64("points", amount).
		Int64("balance", newBalance).
		Msg("Points deducted")
	return newBalance, nil
}

// deduct must run under the user's lock. The decrement and its log row
// commit together.
func (s *EconomyService) deduct(ctx context.Context, userID, amount int64, actionType string, objectID *int64, meta model.LogMetadata) (int64, error) {
	var newBalance int64
	err := s.tx.InTx(ctx, func(ctx context.Context, l Ledger) error {
		balance, ok, err := l.Economy.DeductBalance(ctx, userID, amount)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInsufficientBalance
		}

		meta.PointsChange = -amount
		meta.NewBalance = balance
		if _, err := l.Actions.Append(ctx, userID, actionType, objectID, meta); err != nil {
			return err
		}
		newBalance = balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Redeem spends a product's point cost. The user must be a registered
// member whose rank meets the product's required rank and whose balance
// covers the cost; any failure leaves the ledger untouched.
func (s *EconomyService) Redeem(ctx context.Context, req RedeemRequest) (*Redemption, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if _, err := s.members.GetByID(ctx, req.UserID); err != nil {
		return nil, err
	}

	product, err := s.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	var result *Redemption
	err = s.locks.WithLockContext(ctx, req.UserID, s.lockTimeout, func() error {
		econ, err := s.economy.Get(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to read economy: %w", err)
		}

		if err := s.checkRankRequirement(ctx, product, econ.LifetimeEarned); err != nil {
			return err
		}
		if econ.Balance < product.PointsCost {
			return ErrInsufficientBalance
		}

		meta := model.LogMetadata{
			Description: "Redeemed " + product.Name,
			OrderRef:    req.OrderRef,
		}
		newBalance := econ.Balance
		if product.PointsCost > 0 {
			newBalance, err = s.deduct(ctx, req.UserID, product.PointsCost, model.ActionRedeem, &product.ID, meta)
			if err != nil {
				return err
			}
		} else {
			meta.NewBalance = newBalance
			if _, err := s.actions.Append(ctx, req.UserID, model.ActionRedeem, &product.ID, meta); err != nil {
				return err
			}
		}

		result = &Redemption{
			ProductID:   product.ID,
			PointsSpent: product.PointsCost,
			NewBalance:  newBalance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.PointsDeducted(result.PointsSpent)
	log.Info().
		Int64("user_id", req.UserID).
		Int64("product_id", product.ID).
		Int64("points", result.PointsSpent).
		Str("order_ref", req.OrderRef).
		Msg("Product redeemed")

	publish(ctx, s.bus, s.snapshots, model.EventProductRedeemed, req.UserID, event.EventContext{}, func(p *event.Payload) {
		p.Product = event.NewProductContext(product)
		p.ObjectRef = req.OrderRef
		p.SourceAction = model.ActionRedeem
	})

	return result, nil
}

func (s *EconomyService) checkRankRequirement(ctx context.Context, product *model.Product, lifetime int64) error {
	if product.RequiredRank == "" {
		return nil
	}

	required, ok, err := s.ranks.RankByKey(ctx, product.RequiredRank)
	if err != nil {
		return err
	}
	if !ok {
		log.Error().
			Int64("product_id", product.ID).
			Str("required_rank", product.RequiredRank).
			Msg("Product requires an unknown rank")
		return fmt.Errorf("%w: unknown rank %q", ErrRankRequirement, product.RequiredRank)
	}

	current, err := s.ranks.ResolveRank(ctx, lifetime)
	if err != nil {
		return err
	}
	if current.PointsRequired < required.PointsRequired {
		return fmt.Errorf("%w: requires %s", ErrRankRequirement, required.Name)
	}
	return nil
}

// ProcessScan consumes a single-use code. The user's first scan earns no
// points here; later scans earn the product's award. product_scanned is
// broadcast with IsFirstScan, and a first scan by a referred member also
// broadcasts referral_converted for the referrer.
func (s *EconomyService) ProcessScan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	member, err := s.members.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	var (
		product *model.Product
		first   bool
	)
	err = s.locks.WithLockContext(ctx, req.UserID, s.lockTimeout, func() error {
		code, err := s.catalog.GetScanCode(ctx, req.Code)
		if err != nil {
			return err
		}
		if code.IsUsed() {
			return ErrCodeAlreadyUsed
		}

		product, err = s.catalog.GetProduct(ctx, code.ProductID)
		if err != nil {
			return err
		}

		prior, err := s.actions.Count(ctx, req.UserID, model.ActionScan)
		if err != nil {
			return fmt.Errorf("failed to count scans: %w", err)
		}
		first = prior == 0

		return s.tx.InTx(ctx, func(ctx context.Context, l Ledger) error {
			consumed, err := l.Catalog.ConsumeCode(ctx, req.Code, req.UserID)
			if err != nil {
				return err
			}
			if !consumed {
				return ErrCodeAlreadyUsed
			}

			_, err = l.Actions.Append(ctx, req.UserID, model.ActionScan, &product.ID, model.LogMetadata{
				Description: "Scanned " + product.Name,
				Code:        req.Code,
				IsFirstScan: first,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	result := &ScanResult{ProductID: product.ID, IsFirstScan: first}

	if !first && product.PointsAward > 0 {
		grant, err := s.GrantPoints(ctx, req.UserID, product.PointsAward, "Scanned "+product.Name, 1.0)
		if err != nil {
			return nil, fmt.Errorf("scan recorded but grant failed: %w", err)
		}
		result.PointsEarned = grant.PointsEarned
		result.NewBalance = grant.NewBalance
	} else {
		econ, err := s.economy.Get(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to read economy: %w", err)
		}
		result.NewBalance = econ.Balance
	}

	log.Info().
		Int64("user_id", req.UserID).
		Int64("product_id", product.ID).
		Bool("first_scan", first).
		Int64("points", result.PointsEarned).
		Msg("Code scanned")

	ec := event.EventContext{Location: req.Location, Device: req.Device}
	publish(ctx, s.bus, s.snapshots, model.EventProductScanned, req.UserID, ec, func(p *event.Payload) {
		p.Product = event.NewProductContext(product)
		p.IsFirstScan = first
		p.ObjectRef = req.Code
		p.SourceAction = model.ActionScan
	})

	if first && member.ReferrerID != nil {
		s.convertReferral(ctx, *member.ReferrerID, member.ID, ec)
	}

	return result, nil
}

// convertReferral records and announces that a referred member made their
// first scan. The event belongs to the referrer.
func (s *EconomyService) convertReferral(ctx context.Context, referrerID, refereeID int64, ec event.EventContext) {
	_, err := s.actions.Append(ctx, referrerID, model.EventReferralConverted, &refereeID, model.LogMetadata{
		Description: fmt.Sprintf("Referral %d converted", refereeID),
	})
	if err != nil {
		log.Error().
			Err(err).
			Int64("user_id", referrerID).
			Int64("referee_id", refereeID).
			Msg("Failed to record referral conversion")
	}

	publish(ctx, s.bus, s.snapshots, model.EventReferralConverted, referrerID, ec, func(p *event.Payload) {
		p.Referral = &event.Referral{RefereeID: refereeID}
		p.SourceAction = model.ActionScan
	})
}

// Balance returns the user's economy record.
func (s *EconomyService) Balance(ctx context.Context, userID int64) (*model.Economy, error) {
	return s.economy.Get(ctx, userID)
}
