// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import "fmt"

// LineItem enumerates the price schedule's billable line items.
type LineItem uint8

const (
	// LineItemContestTypeOneOfN is the base charge for a one-of-n
	// contest.
	LineItemContestTypeOneOfN LineItem = iota

	// LineItemPluralityTally is the base charge for plurality tallying.
	LineItemPluralityTally

	// LineItemContestant3 through LineItemContestant6 are the marginal
	// charges for the third through sixth contestants.
	LineItemContestant3
	LineItemContestant4
	LineItemContestant5
	LineItemContestant6

	// LineItemContestant7Plus is the per-contestant charge for every
	// contestant beyond the sixth.
	LineItemContestant7Plus

	// LineItemInfiniteDurationContest is the surcharge for contests with
	// no end time.
	LineItemInfiniteDurationContest
)

// numLineItems is the count of defined line items; keep in sync with the
// block above.
const numLineItems = 8

func (i LineItem) String() string {
	switch i {
	case LineItemContestTypeOneOfN:
		return "contest-type-one-of-n"
	case LineItemPluralityTally:
		return "plurality-tally"
	case LineItemContestant3:
		return "contestant-3"
	case LineItemContestant4:
		return "contestant-4"
	case LineItemContestant5:
		return "contestant-5"
	case LineItemContestant6:
		return "contestant-6"
	case LineItemContestant7Plus:
		return "contestant-7-plus"
	case LineItemInfiniteDurationContest:
		return "infinite-duration-contest"
	}
	return fmt.Sprintf("unknown(%d)", uint8(i))
}

// Limit enumerates the configurable validation limits.
type Limit uint8

const (
	// LimitNameLength is the maximum contest name length.
	LimitNameLength Limit = iota

	// LimitDescriptionSoftLength is the description length above which a
	// contest is considered oversized and the data surcharge applies.
	LimitDescriptionSoftLength

	// LimitDescriptionHardLength is the maximum description length.
	LimitDescriptionHardLength

	// LimitContestantCount is the maximum number of contestants.
	LimitContestantCount

	// LimitContestantNameLength is the maximum contestant name length.
	LimitContestantNameLength

	// LimitContestantDescriptionSoftLength is the contestant description
	// length above which the data surcharge applies.
	LimitContestantDescriptionSoftLength

	// LimitContestantDescriptionHardLength is the maximum contestant
	// description length.
	LimitContestantDescriptionHardLength
)

// numLimits is the count of defined limits; keep in sync with the block
// above.
const numLimits = 7

func (l Limit) String() string {
	switch l {
	case LimitNameLength:
		return "name-length"
	case LimitDescriptionSoftLength:
		return "description-soft-length"
	case LimitDescriptionHardLength:
		return "description-hard-length"
	case LimitContestantCount:
		return "contestant-count"
	case LimitContestantNameLength:
		return "contestant-name-length"
	case LimitContestantDescriptionSoftLength:
		return "contestant-description-soft-length"
	case LimitContestantDescriptionHardLength:
		return "contestant-description-hard-length"
	}
	return fmt.Sprintf("unknown(%d)", uint8(l))
}

// PriceSchedule maps each line item to its price in the payment asset's
// minor units.  The schedule is loaded from configuration once and read-only
// afterwards, so concurrent reads need no synchronization.
type PriceSchedule map[LineItem]int64

// Limits maps each validation limit to its configured bound.  Same lifecycle
// as PriceSchedule.
type Limits map[Limit]int64

// DefaultPriceSchedule returns the built-in price schedule.
func DefaultPriceSchedule() PriceSchedule {
	return PriceSchedule{
		LineItemContestTypeOneOfN:       40000,
		LineItemPluralityTally:          10000,
		LineItemContestant3:             5000,
		LineItemContestant4:             5000,
		LineItemContestant5:             5000,
		LineItemContestant6:             5000,
		LineItemContestant7Plus:         2500,
		LineItemInfiniteDurationContest: 50000,
	}
}

// DefaultLimits returns the built-in contest limits.
func DefaultLimits() Limits {
	return Limits{
		LimitNameLength:                      100,
		LimitDescriptionSoftLength:           500,
		LimitDescriptionHardLength:           10240,
		LimitContestantCount:                 16,
		LimitContestantNameLength:            100,
		LimitContestantDescriptionSoftLength: 500,
		LimitContestantDescriptionHardLength: 10240,
	}
}

// PriceEntry is one ordered row of the price schedule, for display.
type PriceEntry struct {
	Item  LineItem
	Price int64
}

// LimitEntry is one ordered row of the limits table, for display.
type LimitEntry struct {
	Limit Limit
	Value int64
}

// Entries returns the schedule's rows in line-item order.
func (s PriceSchedule) Entries() []PriceEntry {
	entries := make([]PriceEntry, 0, numLineItems)
	for item := LineItem(0); item < numLineItems; item++ {
		if price, ok := s[item]; ok {
			entries = append(entries, PriceEntry{
				Item:  item,
				Price: price,
			})
		}
	}
	return entries
}

// Entries returns the limit table's rows in limit order.
func (l Limits) Entries() []LimitEntry {
	entries := make([]LimitEntry, 0, numLimits)
	for limit := Limit(0); limit < numLimits; limit++ {
		if value, ok := l[limit]; ok {
			entries = append(entries, LimitEntry{
				Limit: limit,
				Value: value,
			})
		}
	}
	return entries
}
