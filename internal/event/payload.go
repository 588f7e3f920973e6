// Package event provides the in-process dispatcher and the typed context
// snapshot handed to listeners.
package event

import (
	"time"

	"loyalty-engine/internal/model"
)

// Payload is the context snapshot built fresh for one broadcast. It is never
// persisted.
type Payload struct {
	User         UserContext
	Product      *ProductContext
	Context      EventContext
	IsFirstScan  bool
	RankChange   *RankChange
	Referral     *Referral
	Grant        *GrantInstruction
	Achievement  *model.Achievement
	ObjectRef    string
	SourceAction string
}

// UserContext groups the user sections of the snapshot.
type UserContext struct {
	Identity   Identity
	Economy    EconomyView
	Status     Status
	Engagement Engagement
}

// Identity is user.identity.
type Identity struct {
	ID        int64
	Email     string
	FirstName string
	CreatedAt time.Time
}

// EconomyView is user.economy.
type EconomyView struct {
	Balance        int64
	LifetimeEarned int64
}

// Status is user.status.
type Status struct {
	RankKey  string
	RankName string
}

// Engagement is user.engagement.
type Engagement struct {
	TotalScans int64
}

// ProductContext is the optional product section.
type ProductContext struct {
	ID          int64
	Name        string
	PointsAward int64
	PointsCost  int64
	StrainType  string
	Category    string
}

// EventContext is eventContext: when, where and from what device.
type EventContext struct {
	Time     time.Time
	Location string
	Device   string
}

// RankChange carries both rank definitions of a tier transition.
type RankChange struct {
	Old model.Rank
	New model.Rank
}

// Referral identifies the referred member; the payload user is the referrer.
type Referral struct {
	RefereeID int64
}

// GrantInstruction asks the points engine to grant points.
type GrantInstruction struct {
	UserID int64
	Points int64
	Reason string
}

// NewProductContext builds the product section from a catalog product.
func NewProductContext(p *model.Product) *ProductContext {
	if p == nil {
		return nil
	}
	return &ProductContext{
		ID:          p.ID,
		Name:        p.Name,
		PointsAward: p.PointsAward,
		PointsCost:  p.PointsCost,
		StrainType:  p.StrainType,
		Category:    p.Category,
	}
}

// UserID returns user.identity.id, or 0 when the snapshot has no user.
func (p *Payload) UserID() int64 {
	if p == nil {
		return 0
	}
	return p.User.Identity.ID
}

// Lookup resolves one of the dotted paths a condition may reference. Optional
// sections that are absent, and empty optional strings, report ok=false.
func (p *Payload) Lookup(path string) (any, bool) {
	switch path {
	case "user.identity.id":
		return p.User.Identity.ID, p.User.Identity.ID != 0
	case "user.identity.email":
		return nonEmpty(p.User.Identity.Email)
	case "user.identity.firstName":
		return nonEmpty(p.User.Identity.FirstName)
	case "user.identity.createdAt":
		return p.User.Identity.CreatedAt, !p.User.Identity.CreatedAt.IsZero()
	case "user.economy.balance":
		return p.User.Economy.Balance, true
	case "user.economy.lifetimeEarned":
		return p.User.Economy.LifetimeEarned, true
	case "user.status.rankKey":
		return nonEmpty(p.User.Status.RankKey)
	case "user.status.rankName":
		return nonEmpty(p.User.Status.RankName)
	case "user.engagement.totalScans":
		return p.User.Engagement.TotalScans, true
	case "isFirstScan":
		return p.IsFirstScan, true
	case "eventContext.time":
		return p.Context.Time, !p.Context.Time.IsZero()
	case "eventContext.time.hour":
		return p.Context.Time.Hour(), !p.Context.Time.IsZero()
	case "eventContext.time.dayOfWeek":
		return int(p.Context.Time.Weekday()), !p.Context.Time.IsZero()
	case "eventContext.location":
		return nonEmpty(p.Context.Location)
	case "eventContext.device":
		return nonEmpty(p.Context.Device)
	}

	if p.Product != nil {
		switch path {
		case "product.identity.id":
			return p.Product.ID, true
		case "product.identity.name":
			return nonEmpty(p.Product.Name)
		case "product.economy.pointsAward":
			return p.Product.PointsAward, true
		case "product.economy.pointsCost":
			return p.Product.PointsCost, true
		case "product.taxonomy.strainType":
			return nonEmpty(p.Product.StrainType)
		case "product.taxonomy.category":
			return nonEmpty(p.Product.Category)
		}
	}

	if p.RankChange != nil {
		switch path {
		case "rank.old.key":
			return p.RankChange.Old.Key, true
		case "rank.new.key":
			return p.RankChange.New.Key, true
		case "rank.new.pointsRequired":
			return p.RankChange.New.PointsRequired, true
		}
	}

	if p.Achievement != nil && path == "achievement.key" {
		return p.Achievement.Key, true
	}
	if p.Referral != nil && path == "referral.refereeId" {
		return p.Referral.RefereeID, true
	}

	return nil, false
}

func nonEmpty(s string) (any, bool) {
	return s, s != ""
}
