// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import (
	"fmt"
	"time"
)

// minEndTimeLead is the minimum distance a contest's end time must be in the
// future at purchase time.
const minEndTimeLead = 10 * time.Minute

// ValidationError reports a purchase request that violates a configured
// limit or structural rule.  It is surfaced synchronously to the purchase
// caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErrorf(field, format string, args ...interface{}) error {
	return &ValidationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

// Price validates a purchase request against the configured limits and
// computes its total price from the schedule.  The returned flag reports
// whether any text field exceeded its soft limit, in which case the contest
// is oversized and a data surcharge applies at quote time.
//
// Pricing is deterministic: the same request, schedule, limits, and clock
// reading always produce the same price.
func Price(req *PurchaseRequest, schedule PriceSchedule, limits Limits,
	now time.Time) (int64, bool, error) {

	opts := &req.Options
	oversized := false

	if len(opts.Name) == 0 {
		return 0, false, validationErrorf("name",
			"contest must have a name")
	}
	if max := limits[LimitNameLength]; int64(len(opts.Name)) > max {
		return 0, false, validationErrorf("name",
			"length %d exceeds limit %d", len(opts.Name), max)
	}
	if max := limits[LimitDescriptionHardLength]; int64(len(opts.Description)) > max {
		return 0, false, validationErrorf("description",
			"length %d exceeds limit %d", len(opts.Description),
			max)
	}
	if int64(len(opts.Description)) > limits[LimitDescriptionSoftLength] {
		oversized = true
	}

	if len(opts.Contestants) == 0 {
		return 0, false, validationErrorf("contestants",
			"contest must have at least one contestant")
	}
	if max := limits[LimitContestantCount]; int64(len(opts.Contestants)) > max {
		return 0, false, validationErrorf("contestants",
			"count %d exceeds limit %d", len(opts.Contestants),
			max)
	}
	for i, contestant := range opts.Contestants {
		field := fmt.Sprintf("contestants[%d]", i)
		if len(contestant.Name) == 0 {
			return 0, false, validationErrorf(field,
				"contestant must have a name")
		}
		if max := limits[LimitContestantNameLength]; int64(len(contestant.Name)) > max {
			return 0, false, validationErrorf(field,
				"name length %d exceeds limit %d",
				len(contestant.Name), max)
		}
		if max := limits[LimitContestantDescriptionHardLength]; int64(len(contestant.Description)) > max {
			return 0, false, validationErrorf(field,
				"description length %d exceeds limit %d",
				len(contestant.Description), max)
		}
		if int64(len(contestant.Description)) >
			limits[LimitContestantDescriptionSoftLength] {

			oversized = true
		}
	}

	// A zero end time means the contest never ends.  Anything else must
	// be strictly more than the minimum lead in the future.
	if !opts.EndTime.IsZero() &&
		!opts.EndTime.After(now.Add(minEndTimeLead)) {

		return 0, false, validationErrorf("endtime",
			"must be more than %v in the future", minEndTimeLead)
	}

	var price int64

	switch opts.Type {
	case TypeOneOfN:
		price += schedule[LineItemContestTypeOneOfN]
	default:
		return 0, false, fmt.Errorf("no price for contest type %v",
			opts.Type)
	}

	switch opts.Tally {
	case TallyPlurality:
		price += schedule[LineItemPluralityTally]
	default:
		return 0, false, fmt.Errorf("no price for tally algorithm %v",
			opts.Tally)
	}

	// Contestant tiering: the first two contestants ride free on the
	// base price, the third through sixth each carry their own charge,
	// and everything past six is linear.
	count := int64(len(opts.Contestants))
	switch {
	case count > 6:
		price += (count - 6) * schedule[LineItemContestant7Plus]
		fallthrough
	case count == 6:
		price += schedule[LineItemContestant6]
		fallthrough
	case count == 5:
		price += schedule[LineItemContestant5]
		fallthrough
	case count == 4:
		price += schedule[LineItemContestant4]
		fallthrough
	case count == 3:
		price += schedule[LineItemContestant3]
	}

	if opts.EndTime.IsZero() {
		price += schedule[LineItemInfiniteDurationContest]
	}

	return price, oversized, nil
}
