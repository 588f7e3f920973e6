package model

// Domain event names broadcast on the dispatcher.
const (
	EventProductScanned       = "product_scanned"
	EventProductRedeemed      = "product_redeemed"
	EventProfileUpdated       = "profile_updated"
	EventAchievementUnlocked  = "achievement_unlocked"
	EventRankChanged          = "rank_changed"
	EventReferralSignup       = "referral_signup"
	EventReferralConverted    = "referral_converted"
	EventPointsGrantRequested = "points_grant_requested"
)

// AchievementEvents lists every event an achievement rule may reference.
func AchievementEvents() []string {
	return []string{
		EventProductScanned,
		EventProductRedeemed,
		EventProfileUpdated,
		EventAchievementUnlocked,
		EventRankChanged,
		EventReferralSignup,
		EventReferralConverted,
	}
}

// TriggerEvents lists the events the trigger executor reacts to.
func TriggerEvents() []string {
	return []string{EventReferralSignup, EventReferralConverted, EventRankChanged}
}

// ActionTypeForEvent returns the action log type whose count gates
// achievements triggered by the given event.
func ActionTypeForEvent(eventName string) string {
	switch eventName {
	case EventProductScanned:
		return ActionScan
	case EventProductRedeemed:
		return ActionRedeem
	default:
		return eventName
	}
}

// RankTriggerKey is the trigger rule key for reaching a specific rank. Rank
// keys match case-sensitively, as stored.
func RankTriggerKey(rankKey string) string {
	return EventRankChanged + ":" + rankKey
}
