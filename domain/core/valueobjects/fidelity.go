package valueobjects

import "fmt"

// Fidelity (retrieval depth) controls how far a declared relation is resolved on read.
// The values are ordered: Skip < Identifier < Full. The zero Fidelity is unset.
type Fidelity int

const (
	// FidelitySkip leaves relation fields empty
	FidelitySkip Fidelity = iota + 1
	// FidelityIdentifier attaches bare entity refs
	FidelityIdentifier
	// FidelityFull attaches fully hydrated objects
	FidelityFull
)

func (f Fidelity) String() string {
	switch f {
	case FidelitySkip:
		return "skip"
	case FidelityIdentifier:
		return "identifier"
	case FidelityFull:
		return "full"
	}
	return fmt.Sprintf("fidelity(%d)", int(f))
}

// Valid reports whether f is one of the declared levels
func (f Fidelity) Valid() bool {
	return f >= FidelitySkip && f <= FidelityFull
}

// OrDefault returns def when f is unset
func (f Fidelity) OrDefault(def Fidelity) Fidelity {
	if f == 0 {
		return def
	}
	return f
}

// MinFidelity returns the lower of two levels
func MinFidelity(a, b Fidelity) Fidelity {
	if a < b {
		return a
	}
	return b
}

// ParseFidelity parses the text form of a Fidelity
func ParseFidelity(s string) (Fidelity, error) {
	switch s {
	case "skip":
		return FidelitySkip, nil
	case "identifier", "":
		return FidelityIdentifier, nil
	case "full":
		return FidelityFull, nil
	}
	return 0, fmt.Errorf("unknown fidelity %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (f Fidelity) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid fidelity %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (f *Fidelity) UnmarshalText(text []byte) error {
	parsed, err := ParseFidelity(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
