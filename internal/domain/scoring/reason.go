package scoring

import (
	"fmt"
	"strings"
)

const (
	reasonSeparator    = " · "
	maxReasonPhrases   = 2
	nearbyThresholdKm  = 2.0
	popularReasonFloor = 0.5

	// FallbackReason is used when no factor qualifies.
	FallbackReason = "Something new to explore"
)

type reasonInput struct {
	friendNames []string
	distanceKm  *float64
	popularity  float64
	count       int
	category    float64
	categoryTag string
}

// reason picks at most two phrases in priority order:
// friends, nearby, popular, category.
func reason(in reasonInput) string {
	phrases := make([]string, 0, maxReasonPhrases)
	add := func(p string) {
		if len(phrases) < maxReasonPhrases {
			phrases = append(phrases, p)
		}
	}

	if len(in.friendNames) > 0 {
		add(friendPhrase(in.friendNames))
	}
	if in.distanceKm != nil && *in.distanceKm < nearbyThresholdKm {
		add(fmt.Sprintf("Only %.1f km away", *in.distanceKm))
	}
	if in.popularity >= popularReasonFloor {
		add(fmt.Sprintf("Popular: %d interested", in.count))
	}
	if in.category >= exactCategoryMatch {
		add(fmt.Sprintf("Matches your interest in %s", in.categoryTag))
	} else if in.category > 0 {
		add(fmt.Sprintf("Similar to your interest in %s", in.categoryTag))
	}

	if len(phrases) == 0 {
		return FallbackReason
	}
	return strings.Join(phrases, reasonSeparator)
}

func friendPhrase(names []string) string {
	switch len(names) {
	case 1:
		return fmt.Sprintf("%s is interested", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are interested", names[0], names[1])
	default:
		return fmt.Sprintf("%s and %d other friends are interested", names[0], len(names)-1)
	}
}
