package feed

import (
	"time"

	"bilimshare/internal/models"
)

// Snapshot is the complete, immutable derived state of one fetch cycle.
type Snapshot struct {
	Generation     uint64
	BuiltAt        time.Time
	View           *ViewModel
	Categories     []string
	CategoryCounts map[string]int
	Popular        []models.Post
	Leaderboard    []UserStats
}

// NewSnapshot derives every aggregate from v.
func NewSnapshot(v *ViewModel, generation uint64, builtAt time.Time) *Snapshot {
	categories := Categories(v.Posts)
	return &Snapshot{
		Generation:     generation,
		BuiltAt:        builtAt,
		View:           v,
		Categories:     categories,
		CategoryCounts: CategoryCounts(v.Posts, categories),
		Popular:        Popular(v, PopularLimit),
		Leaderboard:    Leaderboard(v, LeaderboardLimit),
	}
}
