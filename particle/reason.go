// Package particle defines the vocabulary shared by the tracker packages:
// termination reasons, trajectory samples, log rows and the behavior contract.
package particle

import (
	"fmt"
	"strings"
)

// Reason describes why a particle stopped advecting within a step.
// Values 1-6 match the stream tracer's termination codes; Death and Escape
// are only ever produced by behaviors.
type Reason uint8

const (
	OutOfDomain     Reason = 1
	NotInitialized  Reason = 2
	UnexpectedValue Reason = 3
	OutOfTime       Reason = 4
	OutOfSteps      Reason = 5
	Stagnation      Reason = 6
	Death           Reason = 11
	Escape          Reason = 12
)

var reasonNames = map[Reason]string{
	OutOfDomain:     "OUT_OF_DOMAIN",
	NotInitialized:  "NOT_INITIALIZED",
	UnexpectedValue: "UNEXPECTED_VALUE",
	OutOfTime:       "OUT_OF_TIME",
	OutOfSteps:      "OUT_OF_STEPS",
	Stagnation:      "STAGNATION",
	Death:           "DEATH",
	Escape:          "ESCAPE",
}

// Reasons lists every known reason in numeric order.
var Reasons = []Reason{
	OutOfDomain, NotInitialized, UnexpectedValue,
	OutOfTime, OutOfSteps, Stagnation,
	Death, Escape,
}

// IsAlive reports whether a particle with this reason is still advecting at
// the end of the step and must be carried into the next one.
func IsAlive(r Reason) bool {
	switch r {
	case OutOfTime, OutOfSteps, Stagnation:
		return true
	}
	return false
}

// IsTerminal reports whether the particle is retired after this step.
func IsTerminal(r Reason) bool {
	return !IsAlive(r)
}

// IsInjected reports whether the reason can only come from a behavior.
func IsInjected(r Reason) bool {
	return r == Death || r == Escape
}

// Valid reports whether r is one of the known codes.
func (r Reason) Valid() bool {
	_, ok := reasonNames[r]
	return ok
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("REASON(%d)", uint8(r))
}

// ParseReason accepts a canonical name (case-insensitive) or a numeric code.
func ParseReason(s string) (Reason, error) {
	s = strings.TrimSpace(s)
	for r, name := range reasonNames {
		if strings.EqualFold(s, name) {
			return r, nil
		}
	}
	var code uint8
	if _, err := fmt.Sscanf(s, "%d", &code); err == nil && Reason(code).Valid() {
		return Reason(code), nil
	}
	return 0, fmt.Errorf("unknown reason %q", s)
}

// MarshalCSV implements gocsv.TypeMarshaller.
func (r Reason) MarshalCSV() (string, error) {
	if !r.Valid() {
		return "", fmt.Errorf("marshal reason: unknown code %d", uint8(r))
	}
	return r.String(), nil
}

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (r *Reason) UnmarshalCSV(s string) error {
	parsed, err := ParseReason(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalText lets Reason round-trip through JSON and YAML as its name.
func (r Reason) MarshalText() ([]byte, error) {
	s, err := r.MarshalCSV()
	return []byte(s), err
}

// UnmarshalText is the inverse of MarshalText.
func (r *Reason) UnmarshalText(b []byte) error {
	return r.UnmarshalCSV(string(b))
}
