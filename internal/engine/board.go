package engine

// BoardSize is the edge length of the gomoku board.
const BoardSize = 15

// WinLength is the run of contiguous same-side stones that wins a game.
const WinLength = 5

type Cell uint8

const (
	CellEmpty Cell = iota
	CellBlack
	CellWhite
)

// Side identifies which color a player holds for one game. Black opens.
type Side string

const (
	SideBlack Side = "black"
	SideWhite Side = "white"
)

func (s Side) Opponent() Side {
	if s == SideBlack {
		return SideWhite
	}
	return SideBlack
}

func (s Side) Cell() Cell {
	if s == SideBlack {
		return CellBlack
	}
	return CellWhite
}

// Board is the 15x15 grid. Index order is [y][x].
type Board [BoardSize][BoardSize]Cell

func InBounds(x, y int) bool {
	return x >= 0 && x < BoardSize && y >= 0 && y < BoardSize
}

func (b *Board) At(x, y int) Cell {
	return b[y][x]
}

func (b *Board) Full() bool {
	for y := range b {
		for x := range b[y] {
			if b[y][x] == CellEmpty {
				return false
			}
		}
	}
	return true
}

// axes are the four scan directions: horizontal, vertical, two diagonals.
var axes = [4][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}

// LineThrough reports whether a run of at least WinLength stones of color c
// passes through (x, y). Both directions of each axis are counted from the
// stone itself, so only lines touching the new stone are ever scanned.
func (b *Board) LineThrough(x, y int, c Cell) bool {
	for _, axis := range axes {
		run := 1
		for dir := -1; dir <= 1; dir += 2 {
			cx, cy := x+axis[0]*dir, y+axis[1]*dir
			for InBounds(cx, cy) && b[cy][cx] == c {
				run++
				cx += axis[0] * dir
				cy += axis[1] * dir
			}
		}
		if run >= WinLength {
			return true
		}
	}
	return false
}
