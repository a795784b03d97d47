package ratelimit

import "golang.org/x/time/rate"

type tierDefault struct {
	rate  rate.Limit
	burst int
}

// defaultTierLimits mirrors Slack's published Web API tiers. Rates are
// requests/second; Slack documents them per-minute, so each is divided by
// 60. TierPost models chat.postMessage's per-workspace-per-channel cap
// separately from the generic tiers since it is keyed and capped
// independently of method tier.
var defaultTierLimits = map[Tier]tierDefault{
	Tier1:    {rate: rate.Limit(1.0 / 60.0), burst: 1},
	Tier2:    {rate: rate.Limit(20.0 / 60.0), burst: 5},
	Tier3:    {rate: rate.Limit(50.0 / 60.0), burst: 10},
	Tier4:    {rate: rate.Limit(100.0 / 60.0), burst: 20},
	TierPost: {rate: rate.Limit(1.0), burst: 1},
}

// methodTiers is a representative subset of documented Slack Web API
// methods mapped to their rate-limit tier. Methods not listed fall back to
// Tier3 via MethodTier.
var methodTiers = map[string]Tier{
	"chat.postMessage":       TierPost,
	"chat.postEphemeral":     TierPost,
	"chat.update":            TierPost,
	"chat.delete":            TierPost,
	"conversations.history":  Tier3,
	"conversations.replies":  Tier3,
	"conversations.info":     Tier4,
	"conversations.list":     Tier2,
	"conversations.members":  Tier3,
	"users.info":             Tier4,
	"users.list":             Tier2,
	"users.conversations":    Tier3,
	"team.info":              Tier4,
	"auth.test":              Tier4,
	"reactions.add":          Tier3,
	"views.open":             Tier4,
	"views.publish":          Tier4,
	"files.upload":           Tier2,
	"usergroups.list":        Tier2,
}

// MethodTier returns the rate-limit tier for a Slack Web API method name,
// defaulting to Tier3 for anything not in the registry.
func MethodTier(method string) Tier {
	if tier, ok := methodTiers[method]; ok {
		return tier
	}
	return Tier3
}
