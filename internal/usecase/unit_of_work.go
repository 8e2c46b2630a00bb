package usecase

import (
	"context"

	"github.com/timeline-party/internal/domain"
	"github.com/timeline-party/internal/store"
)

// UnitOfWork collects the games changed by one use case attempt
type UnitOfWork struct {
	games []*domain.Game
}

// Track marks a game as changed. Tracking the same game twice keeps the latest copy.
func (u *UnitOfWork) Track(g *domain.Game) {
	for i, existing := range u.games {
		if existing.ID == g.ID {
			u.games[i] = g
			return
		}
	}
	u.games = append(u.games, g)
}

// Games returns the tracked games
func (u *UnitOfWork) Games() []*domain.Game {
	return u.games
}

// Commit writes every tracked game in one atomic commit
func (u *UnitOfWork) Commit(ctx context.Context, sess store.Session) error {
	if len(u.games) == 0 {
		return nil
	}
	return sess.Commit(ctx, u.games)
}
