package payouts

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/internal/fees"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
)

// Figures are the per-event payout numbers.
type Figures struct {
	BaseFare         decimal.Decimal `json:"baseFare"`
	FinalFare        decimal.Decimal `json:"finalFare"`
	TicketsSold      int             `json:"ticketsSold"`
	PlatformFee      decimal.Decimal `json:"platformFee"`
	HostEarning      decimal.Decimal `json:"hostEarning"`
	FeeConfigVersion *int            `json:"feeConfigVersion,omitempty"`
}

type priceGroup struct {
	baseFare   decimal.Decimal
	percentage decimal.Decimal
	version    int
	seats      int
}

// Aggregate recomputes payout figures from paid orders. Orders are grouped by
// the base fare and fee configuration captured on them, and each group goes
// through fees.Compute, so the result matches what buyers were charged.
// Without paid orders the figures describe the event's current price.
func Aggregate(event *models.Event, paid []models.PaymentOrder, current fees.Config) (Figures, error) {
	if len(paid) == 0 {
		breakdown, err := fees.Compute(event.BaseFare, 1, current)
		if err != nil {
			return Figures{}, err
		}
		return Figures{
			BaseFare:    breakdown.BaseFare,
			FinalFare:   breakdown.FinalPricePerSeat,
			PlatformFee: decimal.Zero,
			HostEarning: decimal.Zero,
		}, nil
	}

	groups := map[string]*priceGroup{}
	for _, order := range paid {
		key := order.BaseFare.String() + "|" + order.FeePercentage.String() + "|" + strconv.Itoa(order.FeeConfigVersion)
		group, ok := groups[key]
		if !ok {
			group = &priceGroup{baseFare: order.BaseFare, percentage: order.FeePercentage, version: order.FeeConfigVersion}
			groups[key] = group
		}
		group.seats += order.Seats
	}
	ordered := make([]*priceGroup, 0, len(groups))
	for _, group := range groups {
		ordered = append(ordered, group)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].version != ordered[j].version {
			return ordered[i].version < ordered[j].version
		}
		return ordered[i].baseFare.LessThan(ordered[j].baseFare)
	})

	figures := Figures{PlatformFee: decimal.Zero, HostEarning: decimal.Zero}
	for _, group := range ordered {
		breakdown, err := fees.Compute(group.baseFare, group.seats, fees.Config{Version: group.version, Percentage: group.percentage})
		if err != nil {
			return Figures{}, err
		}
		figures.TicketsSold += group.seats
		figures.PlatformFee = figures.PlatformFee.Add(breakdown.PlatformFee)
		figures.HostEarning = figures.HostEarning.Add(breakdown.HostEarning)
		// the latest price wins when it changed mid-sale
		figures.BaseFare = breakdown.BaseFare
		figures.FinalFare = breakdown.FinalPricePerSeat
	}
	if len(ordered) == 1 {
		version := ordered[0].version
		figures.FeeConfigVersion = &version
	}
	return figures, nil
}
