package model

// Trend compares a user's rank against the immediately preceding window.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendSteady Trend = "steady"
	TrendNew    Trend = "new"
)

// LeaderboardEntry is a derived ranking row. It is computed on demand from
// point records and never persisted.
type LeaderboardEntry struct {
	UserID         string
	TotalPoints    int
	CategoryCounts map[PointType]int
	OnTimeRate     float64
	Rank           int
	Trend          Trend
}
