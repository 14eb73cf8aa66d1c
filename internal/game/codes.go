package game

import (
	"crypto/rand"
	"math/big"

	"trivia-room-service/internal/domain"
)

// CodeLength is the length of a game code.
const CodeLength = 4

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Icons are handed out to players in order of availability.
var Icons = []string{"🦊", "🐼", "🐸", "🦉", "🐙", "🦄", "🐢", "🦁", "🐧", "🐝", "🦋", "🐳"}

// NewCode returns a random upper-case game code.
func NewCode() (string, error) {
	buf := make([]byte, CodeLength)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// pickIcon prefers an icon nobody holds, then one only disconnected players
// hold, and cycles through the set when every icon is in use.
func pickIcon(g *domain.Game) string {
	held := make(map[string]bool, len(g.Players))
	for _, p := range g.Players {
		held[p.Icon] = held[p.Icon] || p.Connected
	}
	for _, icon := range Icons {
		if _, ok := held[icon]; !ok {
			return icon
		}
	}
	for _, icon := range Icons {
		if !held[icon] {
			return icon
		}
	}
	return Icons[len(g.Players)%len(Icons)]
}
