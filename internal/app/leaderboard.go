package app

import (
	"sort"

	"live-quiz-service/internal/domain"
)

type standing struct {
	player  domain.Player
	correct int
	average float64
}

// buildLeaderboard ranks active players by score, then by faster average correct response time.
func buildLeaderboard(room domain.Room, players []domain.Player, answers []domain.Answer) domain.LeaderboardView {
	active := domain.ActivePlayers(players)

	type tally struct {
		correct int
		total   float64
	}
	tallies := make(map[int64]*tally, len(active))
	for _, a := range answers {
		if !a.IsCorrect {
			continue
		}
		t, ok := tallies[a.UserID]
		if !ok {
			t = &tally{}
			tallies[a.UserID] = t
		}
		t.correct++
		t.total += a.ResponseTimeSeconds
	}

	standings := make([]standing, 0, len(active))
	for _, p := range active {
		s := standing{player: p}
		if t, ok := tallies[p.UserID]; ok && t.correct > 0 {
			s.correct = t.correct
			s.average = t.total / float64(t.correct)
		}
		standings = append(standings, s)
	}

	sort.SliceStable(standings, func(i, j int) bool {
		if standings[i].player.Score != standings[j].player.Score {
			return standings[i].player.Score > standings[j].player.Score
		}
		return standings[i].average < standings[j].average
	})

	entries := make([]domain.LeaderboardEntry, 0, len(standings))
	for i, s := range standings {
		entries = append(entries, domain.LeaderboardEntry{
			Position:            i + 1,
			UserID:              s.player.UserID,
			Username:            s.player.DisplayName,
			Score:               s.player.Score,
			CorrectAnswers:      s.correct,
			AverageResponseTime: s.average,
		})
	}
	return domain.LeaderboardView{
		RoomCode: room.Code,
		Players:  entries,
		IsFinal:  room.HasEnded(),
	}
}
