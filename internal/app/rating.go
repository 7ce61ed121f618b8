package app

import "math"

// eloK is the fixed K-factor applied to both participants of a decided match.
const eloK = 32

// eloExpected is the classic expected score: 1 / (1 + 10^((other-self)/400)).
func eloExpected(self, other int) float64 {
	return 1 / (1 + math.Pow(10, float64(other-self)/400))
}

// EloAdjust returns the post-match ratings for a decided match. Draws do
// not reach this function; an undecided match leaves ratings untouched.
func EloAdjust(winner, loser int) (int, int) {
	newWinner := winner + int(math.Round(eloK*(1-eloExpected(winner, loser))))
	newLoser := loser + int(math.Round(eloK*(0-eloExpected(loser, winner))))
	return newWinner, newLoser
}
