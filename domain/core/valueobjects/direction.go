package valueobjects

import "fmt"

// Direction of an edge hop relative to the node it starts from
type Direction int

const (
	// DirectionNone marks a root step
	DirectionNone Direction = iota
	// DirectionOutwards follows edges whose start is the current node
	DirectionOutwards
	// DirectionInwards follows edges whose end is the current node
	DirectionInwards
)

func (d Direction) String() string {
	switch d {
	case DirectionOutwards:
		return "outwards"
	case DirectionInwards:
		return "inwards"
	default:
		return "none"
	}
}

// ParseDirection parses the text form of a Direction
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "none":
		return DirectionNone, nil
	case "outwards":
		return DirectionOutwards, nil
	case "inwards":
		return DirectionInwards, nil
	}
	return DirectionNone, fmt.Errorf("unknown direction %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
