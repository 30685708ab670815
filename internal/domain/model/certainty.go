package model

// Certainty is how confident a decode plugin is that it can read a file.
// Values are totally ordered; a higher value wins.
type Certainty int

const (
	CertaintyNone Certainty = iota
	CertaintyMaybe
	CertaintyYes
	CertaintyFully
	CertaintyForce
)

func (c Certainty) String() string {
	switch c {
	case CertaintyNone:
		return "none"
	case CertaintyMaybe:
		return "maybe"
	case CertaintyYes:
		return "yes"
	case CertaintyFully:
		return "fully"
	case CertaintyForce:
		return "force"
	default:
		return "unknown"
	}
}
