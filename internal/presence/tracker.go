// Package presence tracks which players of a game are connected and decides
// who may hold the next turn.
package presence

import "trivia-room-service/internal/domain"

// MarkConnected flags the player as connected. It reports whether the flag
// changed.
func MarkConnected(g *domain.Game, name string) (bool, error) {
	return setConnected(g, name, true)
}

// MarkDisconnected flags the player as disconnected without touching their
// score or position. It reports whether the flag changed.
func MarkDisconnected(g *domain.Game, name string) (bool, error) {
	return setConnected(g, name, false)
}

func setConnected(g *domain.Game, name string, connected bool) (bool, error) {
	idx := g.PlayerIndex(name)
	if idx < 0 {
		return false, domain.ErrPlayerNotFound
	}
	if g.Players[idx].Connected == connected {
		return false, nil
	}
	g.Players[idx].Connected = connected
	return true, nil
}

// NextEligible scans forward from the player after current, wrapping once
// around the list; current itself is the last candidate. It returns false
// when nobody is connected.
func NextEligible(g *domain.Game, current int) (int, bool) {
	return scan(g, current+1)
}

// FirstEligible is NextEligible but starts at from itself.
func FirstEligible(g *domain.Game, from int) (int, bool) {
	return scan(g, from)
}

func scan(g *domain.Game, start int) (int, bool) {
	n := len(g.Players)
	if n == 0 {
		return -1, false
	}
	start = ((start % n) + n) % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if g.Players[idx].Connected {
			return idx, true
		}
	}
	return -1, false
}

// ConnectedNames lists connected players in join order.
func ConnectedNames(g *domain.Game) []string {
	var names []string
	for _, p := range g.Players {
		if p.Connected {
			names = append(names, p.Name)
		}
	}
	return names
}

// IsConnected reports whether the named player is connected.
func IsConnected(g *domain.Game, name string) bool {
	idx := g.PlayerIndex(name)
	return idx >= 0 && g.Players[idx].Connected
}
