// Package eligibility decides whether a quantity of a product may be
// reserved right now, given the enabling conditions that govern it and the
// quantities those conditions already have committed or reserved.
//
// Every mandatory condition must pass on its own. There is no mode in which
// one satisfied condition unlocks a product another condition blocks.
package eligibility

import (
	"fmt"
	"time"

	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/catalog"
)

type Kind string

const (
	KindOutsideWindow Kind = "outside_eligible_window"
	KindCeiling       Kind = "ceiling_exceeded"
)

type Violation struct {
	ConditionID string
	Kind        Kind
	Reason      string
}

// Request describes one prospective reservation.
type Request struct {
	Quantity   int
	Now        time.Time
	Conditions []catalog.EnablingCondition
	// Held is the quantity already counted against each ceiling condition,
	// keyed by condition id. Missing entries count as zero.
	Held map[string]int
}

// InWindow reports whether now falls inside the condition's window. Both
// bounds are inclusive and an absent bound is open.
func InWindow(c catalog.EnablingCondition, now time.Time) bool {
	if c.StartTime != nil && now.Before(*c.StartTime) {
		return false
	}
	if c.EndTime != nil && now.After(*c.EndTime) {
		return false
	}
	return true
}

// Evaluate returns the violated constraints, in condition order with the
// window check ahead of the ceiling check. An empty result means eligible.
func Evaluate(req Request) []Violation {
	var out []Violation
	for _, c := range req.Conditions {
		if !c.Mandatory {
			continue
		}
		if !InWindow(c, req.Now) {
			out = append(out, Violation{
				ConditionID: c.ID,
				Kind:        KindOutsideWindow,
				Reason:      fmt.Sprintf("outside eligible window of condition %s", c.ID),
			})
			continue
		}
		if c.Limit == nil {
			continue
		}
		held := req.Held[c.ID]
		if req.Quantity > *c.Limit-held {
			out = append(out, Violation{
				ConditionID: c.ID,
				Kind:        KindCeiling,
				Reason:      fmt.Sprintf("ceiling exceeded: %d of %d already held, %d requested", held, *c.Limit, req.Quantity),
			})
		}
	}
	return out
}

// Headroom returns the quantity still admissible under the tightest
// ceiling. The boolean is false when no mandatory ceiling applies.
func Headroom(req Request) (int, bool) {
	remaining, bounded := 0, false
	for _, c := range req.Conditions {
		if !c.HasCeiling() {
			continue
		}
		left := *c.Limit - req.Held[c.ID]
		if left < 0 {
			left = 0
		}
		if !bounded || left < remaining {
			remaining, bounded = left, true
		}
	}
	return remaining, bounded
}
