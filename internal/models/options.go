package models

import (
	"fmt"
	"math"
	"strings"

	apperrors "optviz/internal/errors"
)

// OptionType is the right carried by an option leg.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// Valid reports whether t is call or put.
func (t OptionType) Valid() bool {
	return t == OptionCall || t == OptionPut
}

// ParseOptionType parses "call"/"put" (case-insensitive, "c"/"p" and "ce"/"pe" accepted).
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c", "ce":
		return OptionCall, nil
	case "put", "p", "pe":
		return OptionPut, nil
	}
	return "", apperrors.NewInvalidOptionTypeError(s)
}

// Position is the side of a leg.
type Position string

const (
	PositionLong  Position = "long"
	PositionShort Position = "short"
)

// Valid reports whether p is long or short.
func (p Position) Valid() bool {
	return p == PositionLong || p == PositionShort
}

// Sign is +1 for long and -1 for short.
func (p Position) Sign() float64 {
	if p == PositionShort {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (p Position) Opposite() Position {
	if p == PositionShort {
		return PositionLong
	}
	return PositionShort
}

// ParsePosition parses "long"/"short" (case-insensitive, "buy"/"sell" accepted).
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy", "l":
		return PositionLong, nil
	case "short", "sell", "s":
		return PositionShort, nil
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidPosition, s)
}

// AssetKind tags the serialised form of a leg.
type AssetKind string

const (
	AssetOption AssetKind = "opt"
	AssetPerp   AssetKind = "perp"
)

// InstrumentLeg is one position of a strategy. The set of implementations is
// closed: OptionLeg and PerpLeg.
type InstrumentLeg interface {
	Kind() AssetKind
	Label() string
	Validate() error
	isLeg()
}

// OptionLeg is an option position with its strike expressed as a multiple of spot.
type OptionLeg struct {
	Type        OptionType
	StrikeRatio float64
	Size        float64
	Position    Position
	// PremiumRatio overrides the estimated premium, as a multiple of spot.
	PremiumRatio *float64
}

func (OptionLeg) isLeg() {}

// Kind returns AssetOption.
func (OptionLeg) Kind() AssetKind { return AssetOption }

// Label returns e.g. "Long Call".
func (l OptionLeg) Label() string {
	return title(string(l.Position)) + " " + title(string(l.Type))
}

// Validate checks the leg is well formed.
func (l OptionLeg) Validate() error {
	if !l.Type.Valid() {
		return apperrors.NewInvalidOptionTypeError(string(l.Type))
	}
	if !l.Position.Valid() {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidPosition, l.Position)
	}
	if !positiveFinite(l.StrikeRatio) {
		return invalidLeg("strike", l.StrikeRatio, "must be a finite ratio greater than zero")
	}
	if !nonNegativeFinite(l.Size) {
		return invalidLeg("size", l.Size, "must be finite and not negative")
	}
	if l.PremiumRatio != nil && !nonNegativeFinite(*l.PremiumRatio) {
		return invalidLeg("premium", *l.PremiumRatio, "must be finite and not negative")
	}
	return nil
}

// PerpLeg is a perpetual futures position with its entry expressed as a multiple of spot.
type PerpLeg struct {
	EntryRatio float64
	Size       float64
	Leverage   float64
	Position   Position
}

func (PerpLeg) isLeg() {}

// Kind returns AssetPerp.
func (PerpLeg) Kind() AssetKind { return AssetPerp }

// Label returns e.g. "Short Perp".
func (l PerpLeg) Label() string {
	return title(string(l.Position)) + " Perp"
}

// Validate checks the leg is well formed.
func (l PerpLeg) Validate() error {
	if !l.Position.Valid() {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidPosition, l.Position)
	}
	if !positiveFinite(l.EntryRatio) {
		return invalidLeg("entry", l.EntryRatio, "must be a finite ratio greater than zero")
	}
	if !nonNegativeFinite(l.Size) {
		return invalidLeg("size", l.Size, "must be finite and not negative")
	}
	if !positiveFinite(l.Leverage) {
		return invalidLeg("leverage", l.Leverage, "must be finite and greater than zero")
	}
	return nil
}

// LegSpec is the serialised form of a leg used by the catalog, the HTTP API and the CLI.
// A zero Size or Leverage means the default of 1.
type LegSpec struct {
	Asset    AssetKind `json:"asset" yaml:"asset"`
	Type     string    `json:"type,omitempty" yaml:"type,omitempty"`
	Position string    `json:"position" yaml:"position"`
	Strike   float64   `json:"strike,omitempty" yaml:"strike,omitempty"`
	Entry    float64   `json:"entry,omitempty" yaml:"entry,omitempty"`
	Size     float64   `json:"size,omitempty" yaml:"size,omitempty"`
	Leverage float64   `json:"leverage,omitempty" yaml:"leverage,omitempty"`
	Premium  *float64  `json:"premium,omitempty" yaml:"premium,omitempty"`
}

// Leg converts the notation into its tagged variant and validates it.
func (s LegSpec) Leg() (InstrumentLeg, error) {
	pos, err := ParsePosition(s.Position)
	if err != nil {
		return nil, err
	}
	size := s.Size
	if size == 0 {
		size = 1
	}

	var leg InstrumentLeg
	switch AssetKind(strings.ToLower(string(s.Asset))) {
	case AssetOption, "option":
		t, err := ParseOptionType(s.Type)
		if err != nil {
			return nil, err
		}
		leg = OptionLeg{
			Type:         t,
			StrikeRatio:  s.Strike,
			Size:         size,
			Position:     pos,
			PremiumRatio: s.Premium,
		}
	case AssetPerp:
		lev := s.Leverage
		if lev == 0 {
			lev = 1
		}
		leg = PerpLeg{
			EntryRatio: s.Entry,
			Size:       size,
			Leverage:   lev,
			Position:   pos,
		}
	default:
		return nil, fmt.Errorf("%w: unknown asset %q", apperrors.ErrInvalidLeg, s.Asset)
	}

	if err := leg.Validate(); err != nil {
		return nil, err
	}
	return leg, nil
}

// SpecFromLeg converts a leg back into its serialised form.
func SpecFromLeg(leg InstrumentLeg) LegSpec {
	switch l := leg.(type) {
	case OptionLeg:
		return LegSpec{
			Asset:    AssetOption,
			Type:     string(l.Type),
			Position: string(l.Position),
			Strike:   l.StrikeRatio,
			Size:     l.Size,
			Premium:  l.PremiumRatio,
		}
	case PerpLeg:
		return LegSpec{
			Asset:    AssetPerp,
			Position: string(l.Position),
			Entry:    l.EntryRatio,
			Size:     l.Size,
			Leverage: l.Leverage,
		}
	}
	return LegSpec{}
}

// LegsFromSpecs converts a list of specs, reporting the index of the first bad one.
func LegsFromSpecs(specs []LegSpec) ([]InstrumentLeg, error) {
	legs := make([]InstrumentLeg, 0, len(specs))
	for i, s := range specs {
		leg, err := s.Leg()
		if err != nil {
			return nil, apperrors.NewLegError(i, string(s.Asset), err)
		}
		legs = append(legs, leg)
	}
	return legs, nil
}

func invalidLeg(field string, value float64, msg string) error {
	return fmt.Errorf("%w: %w", apperrors.ErrInvalidLeg, apperrors.NewValidationError(field, value, msg))
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func nonNegativeFinite(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
