package polls

import (
	"fmt"
	"sort"

	"gorm.io/gorm"

	"tabletop-signup/internal/db"
)

// Count is one option's standing in a poll.
type Count struct {
	OptionID      uint
	VoteThreshold int
	DisplayOrder  int
	Votes         int
}

func (c Count) Met() bool {
	return c.Votes >= c.VoteThreshold
}

// Tally counts the votes of every option in the poll, ordered by display
// order. Options without votes are included with zero.
func Tally(tx *gorm.DB, pollID uint) ([]Count, error) {
	var options []db.PollOption
	if err := tx.Where("poll_id = ?", pollID).
		Order("display_order ASC").Order("id ASC").
		Find(&options).Error; err != nil {
		return nil, fmt.Errorf("polls: load options: %w", err)
	}
	votes, err := voteCounts(tx, pollID)
	if err != nil {
		return nil, err
	}
	counts := make([]Count, len(options))
	for i, option := range options {
		counts[i] = Count{
			OptionID:      option.ID,
			VoteThreshold: option.VoteThreshold,
			DisplayOrder:  option.DisplayOrder,
			Votes:         votes[option.ID],
		}
	}
	return counts, nil
}

// SelectWinner picks among the options that met their threshold: highest
// threshold first, then lowest display order, then lowest id.
func SelectWinner(counts []Count) (Count, bool) {
	qualifying := make([]Count, 0, len(counts))
	for _, count := range counts {
		if count.Met() {
			qualifying = append(qualifying, count)
		}
	}
	if len(qualifying) == 0 {
		return Count{}, false
	}
	sort.Slice(qualifying, func(i, j int) bool {
		a, b := qualifying[i], qualifying[j]
		if a.VoteThreshold != b.VoteThreshold {
			return a.VoteThreshold > b.VoteThreshold
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.OptionID < b.OptionID
	})
	return qualifying[0], true
}

func voteCounts(tx *gorm.DB, pollID uint) (map[uint]int, error) {
	var rows []struct {
		OptionID uint
		Votes    int
	}
	if err := tx.Model(&db.Vote{}).
		Select("option_id, COUNT(*) AS votes").
		Where("poll_id = ?", pollID).
		Group("option_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("polls: count votes: %w", err)
	}
	votes := make(map[uint]int, len(rows))
	for _, row := range rows {
		votes[row.OptionID] = row.Votes
	}
	return votes, nil
}
