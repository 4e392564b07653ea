package engine

// Verdict is the outcome of an accepted move. The zero value means the game
// continues.
type Verdict struct {
	Winner Side
	Draw   bool
}

// Validate checks mv against g without applying it. Same inputs always yield
// the same result; no side effects. Sequence numbering is the store's
// concern, not the validator's.
func Validate(g Game, mv Move) (Verdict, error) {
	if g.Status != StatusActive {
		return Verdict{}, ErrGameResolved
	}
	if !InBounds(mv.X, mv.Y) {
		return Verdict{}, ErrOutOfBounds
	}
	if g.Board.At(mv.X, mv.Y) != CellEmpty {
		return Verdict{}, ErrCellOccupied
	}
	if g.Turn != mv.Side {
		return Verdict{}, ErrWrongTurn
	}

	// Place speculatively on a copy to scan for a win through the new stone.
	board := g.Board
	board[mv.Y][mv.X] = mv.Side.Cell()

	if board.LineThrough(mv.X, mv.Y, mv.Side.Cell()) {
		return Verdict{Winner: mv.Side}, nil
	}
	if board.Full() {
		return Verdict{Draw: true}, nil
	}
	return Verdict{}, nil
}
