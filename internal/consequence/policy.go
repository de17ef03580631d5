package consequence

import (
	"time"

	"github.com/dukerupert/chorebank/internal/apperr"
	"github.com/dukerupert/chorebank/internal/model"
)

// Policy is what a severity imposes.
type Policy struct {
	Restriction model.Restriction
	Duration    time.Duration
}

var policies = map[model.Severity]Policy{
	model.SeverityLow:    {Restriction: model.RestrictRewards, Duration: 24 * time.Hour},
	model.SeverityMedium: {Restriction: model.RestrictRewards, Duration: 72 * time.Hour},
	model.SeverityHigh:   {Restriction: model.RestrictRewards, Duration: 7 * 24 * time.Hour},
}

// PolicyFor returns the restriction and duration for a severity.
func PolicyFor(s model.Severity) (Policy, error) {
	p, ok := policies[s]
	if !ok {
		return Policy{}, apperr.Validation("consequence policy", "unknown severity %q", s)
	}
	return p, nil
}
