package tree

// SideToMove denotes the colour to move at a position. It is recorded
// with every leaf submitted for evaluation so that policy outputs can
// be oriented correctly when they are distributed back into the tree.
type SideToMove int

const (
	White SideToMove = iota
	Black
)

// Flip returns the opposing side
func (s SideToMove) Flip() SideToMove {
	if s == White {
		return Black
	}
	return White
}

// String implements the Stringer interface
func (s SideToMove) String() string {
	if s == White {
		return "white"
	}
	return "black"
}
