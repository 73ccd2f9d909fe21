package enums

// PayoutSnapshotSource records which path produced a snapshot's figures.
type PayoutSnapshotSource string

const (
	PayoutSourcePayoutRequest   PayoutSnapshotSource = "payout_request"
	PayoutSourceLiveAggregation PayoutSnapshotSource = "live_aggregation"
)

func (s PayoutSnapshotSource) String() string {
	return string(s)
}

func (s PayoutSnapshotSource) IsValid() bool {
	return s == PayoutSourcePayoutRequest || s == PayoutSourceLiveAggregation
}
