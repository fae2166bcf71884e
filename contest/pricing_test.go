// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2016, 10, 5, 12, 0, 0, 0, time.UTC)

func validRequest() *PurchaseRequest {
	return &PurchaseRequest{
		Options: Options{
			Name:        "Best pie",
			Description: "A very important contest",
			Contestants: []Contestant{
				{Name: "Apple"},
				{Name: "Cherry"},
			},
			EndTime: testNow.Add(time.Hour),
			Type:    TypeOneOfN,
			Tally:   TallyPlurality,
		},
		CreatorSignature: []byte{0x01, 0x02},
	}
}

// basePrice is the price of a two-contestant, time-limited contest under
// the default schedule.
func basePrice(t *testing.T) int64 {
	t.Helper()
	schedule := DefaultPriceSchedule()
	return schedule[LineItemContestTypeOneOfN] +
		schedule[LineItemPluralityTally]
}

// TestPriceDeterminism prices the same request repeatedly and expects the
// same result every time.
func TestPriceDeterminism(t *testing.T) {
	t.Parallel()

	req := validRequest()
	schedule, limits := DefaultPriceSchedule(), DefaultLimits()

	first, oversized, err := Price(req, schedule, limits, testNow)
	require.NoError(t, err)
	require.False(t, oversized)

	for i := 0; i < 10; i++ {
		price, _, err := Price(req, schedule, limits, testNow)
		require.NoError(t, err)
		require.Equal(t, first, price)
	}
}

// TestContestantTiering verifies the cumulative contestant charge table:
// counts one and two ride on the base price, three through six each add one
// tier, and everything past six is linear.
func TestContestantTiering(t *testing.T) {
	t.Parallel()

	schedule, limits := DefaultPriceSchedule(), DefaultLimits()

	priceFor := func(count int) int64 {
		req := validRequest()
		req.Options.Contestants = nil
		for i := 0; i < count; i++ {
			req.Options.Contestants = append(
				req.Options.Contestants,
				Contestant{Name: "c" + strings.Repeat("x", i)},
			)
		}
		price, _, err := Price(req, schedule, limits, testNow)
		require.NoError(t, err)
		return price
	}

	base := basePrice(t)
	require.Equal(t, base, priceFor(1))
	require.Equal(t, base, priceFor(2))

	cumulative := base
	for _, tier := range []struct {
		count int
		item  LineItem
	}{
		{3, LineItemContestant3},
		{4, LineItemContestant4},
		{5, LineItemContestant5},
		{6, LineItemContestant6},
	} {
		cumulative += schedule[tier.item]
		require.Equal(t, cumulative, priceFor(tier.count),
			"count %d", tier.count)
	}

	// Past six contestants the charge is linear in the overage.
	sixPrice := priceFor(6)
	for k := int64(1); k <= 4; k++ {
		expected := sixPrice + k*schedule[LineItemContestant7Plus]
		require.Equal(t, expected, priceFor(6+int(k)))
	}
}

// TestValidationBoundaries checks each limit at its boundary: exactly the
// limit passes, one past it fails.
func TestValidationBoundaries(t *testing.T) {
	t.Parallel()

	schedule, limits := DefaultPriceSchedule(), DefaultLimits()

	testCases := []struct {
		name   string
		mutate func(*PurchaseRequest, int)
		limit  Limit
	}{
		{
			name: "contest name",
			mutate: func(req *PurchaseRequest, n int) {
				req.Options.Name = strings.Repeat("a", n)
			},
			limit: LimitNameLength,
		},
		{
			name: "contest description",
			mutate: func(req *PurchaseRequest, n int) {
				req.Options.Description = strings.Repeat("a", n)
			},
			limit: LimitDescriptionHardLength,
		},
		{
			name: "contestant count",
			mutate: func(req *PurchaseRequest, n int) {
				req.Options.Contestants = nil
				for i := 0; i < n; i++ {
					req.Options.Contestants = append(
						req.Options.Contestants,
						Contestant{Name: "c"},
					)
				}
			},
			limit: LimitContestantCount,
		},
		{
			name: "contestant name",
			mutate: func(req *PurchaseRequest, n int) {
				req.Options.Contestants[0].Name =
					strings.Repeat("a", n)
			},
			limit: LimitContestantNameLength,
		},
		{
			name: "contestant description",
			mutate: func(req *PurchaseRequest, n int) {
				req.Options.Contestants[0].Description =
					strings.Repeat("a", n)
			},
			limit: LimitContestantDescriptionHardLength,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			bound := int(limits[tc.limit])

			atLimit := validRequest()
			tc.mutate(atLimit, bound)
			_, _, err := Price(atLimit, schedule, limits, testNow)
			require.NoError(t, err)

			pastLimit := validRequest()
			tc.mutate(pastLimit, bound+1)
			_, _, err = Price(pastLimit, schedule, limits, testNow)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
		})
	}
}

// TestEmptyFieldsRejected checks the non-empty structural rules.
func TestEmptyFieldsRejected(t *testing.T) {
	t.Parallel()

	schedule, limits := DefaultPriceSchedule(), DefaultLimits()

	req := validRequest()
	req.Options.Name = ""
	_, _, err := Price(req, schedule, limits, testNow)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "name", vErr.Field)

	req = validRequest()
	req.Options.Contestants = nil
	_, _, err = Price(req, schedule, limits, testNow)
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "contestants", vErr.Field)

	req = validRequest()
	req.Options.Contestants[1].Name = ""
	_, _, err = Price(req, schedule, limits, testNow)
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "contestants[1]", vErr.Field)
}

// TestEndTimeBoundary checks the minimum end time lead: exactly now+10m is
// rejected, a millisecond past it is accepted, and the zero sentinel is
// accepted with the open-ended surcharge.
func TestEndTimeBoundary(t *testing.T) {
	t.Parallel()

	schedule, limits := DefaultPriceSchedule(), DefaultLimits()

	req := validRequest()
	req.Options.EndTime = testNow.Add(10 * time.Minute)
	_, _, err := Price(req, schedule, limits, testNow)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "endtime", vErr.Field)

	req.Options.EndTime = testNow.Add(10*time.Minute + time.Millisecond)
	timed, _, err := Price(req, schedule, limits, testNow)
	require.NoError(t, err)

	req.Options.EndTime = time.Time{}
	openEnded, _, err := Price(req, schedule, limits, testNow)
	require.NoError(t, err)
	require.Equal(t,
		schedule[LineItemInfiniteDurationContest],
		openEnded-timed)
}

// TestOversizedFlag checks that soft-limit overruns set the oversized flag
// without changing the price.
func TestOversizedFlag(t *testing.T) {
	t.Parallel()

	schedule, limits := DefaultPriceSchedule(), DefaultLimits()

	plain := validRequest()
	plainPrice, oversized, err := Price(plain, schedule, limits, testNow)
	require.NoError(t, err)
	require.False(t, oversized)

	long := validRequest()
	long.Options.Description = strings.Repeat("a",
		int(limits[LimitDescriptionSoftLength])+1)
	price, oversized, err := Price(long, schedule, limits, testNow)
	require.NoError(t, err)
	require.True(t, oversized)
	require.Equal(t, plainPrice, price)

	long = validRequest()
	long.Options.Contestants[0].Description = strings.Repeat("a",
		int(limits[LimitContestantDescriptionSoftLength])+1)
	_, oversized, err = Price(long, schedule, limits, testNow)
	require.NoError(t, err)
	require.True(t, oversized)
}

// TestOpenEndedEightContestantScenario reproduces the full pricing formula
// for an eight contestant, open-ended contest.
func TestOpenEndedEightContestantScenario(t *testing.T) {
	t.Parallel()

	schedule, limits := DefaultPriceSchedule(), DefaultLimits()

	req := validRequest()
	req.Options.EndTime = time.Time{}
	req.Options.Contestants = nil
	for i := 0; i < 8; i++ {
		req.Options.Contestants = append(req.Options.Contestants,
			Contestant{Name: "contestant"})
	}

	price, oversized, err := Price(req, schedule, limits, testNow)
	require.NoError(t, err)
	require.False(t, oversized)

	expected := schedule[LineItemContestTypeOneOfN] +
		schedule[LineItemPluralityTally] +
		schedule[LineItemContestant3] +
		schedule[LineItemContestant4] +
		schedule[LineItemContestant5] +
		schedule[LineItemContestant6] +
		2*schedule[LineItemContestant7Plus] +
		schedule[LineItemInfiniteDurationContest]
	require.Equal(t, expected, price)
}
