package strategy

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "optviz/internal/errors"
	"optviz/internal/models"
)

// ParseLeg parses the compact leg notation used on the command line:
//
//	opt:<call|put>:<long|short>:<strike>:<size>[:<premium>]
//	perp:<long|short>:<entry>:<size>:<leverage>
//
// Strike, entry and premium are multiples of spot.
func ParseLeg(s string) (models.InstrumentLeg, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")

	spec := models.LegSpec{Asset: models.AssetKind(strings.ToLower(parts[0]))}
	switch spec.Asset {
	case models.AssetOption, "option":
		if len(parts) != 5 && len(parts) != 6 {
			return nil, legSyntaxError(s, "want opt:<call|put>:<long|short>:<strike>:<size>[:<premium>]")
		}
		spec.Asset = models.AssetOption
		spec.Type = parts[1]
		spec.Position = parts[2]

		nums, err := parseNumbers(s, []string{"strike", "size"}, parts[3:5])
		if err != nil {
			return nil, err
		}
		spec.Strike, spec.Size = nums[0], nums[1]

		if len(parts) == 6 {
			prem, err := parseNumbers(s, []string{"premium"}, parts[5:6])
			if err != nil {
				return nil, err
			}
			spec.Premium = &prem[0]
		}

	case models.AssetPerp:
		if len(parts) != 5 {
			return nil, legSyntaxError(s, "want perp:<long|short>:<entry>:<size>:<leverage>")
		}
		spec.Position = parts[1]

		nums, err := parseNumbers(s, []string{"entry", "size", "leverage"}, parts[2:5])
		if err != nil {
			return nil, err
		}
		spec.Entry, spec.Size, spec.Leverage = nums[0], nums[1], nums[2]

	default:
		return nil, legSyntaxError(s, "asset must be opt or perp")
	}

	// Zero in the notation is meant literally, not as "use the default".
	if spec.Size == 0 {
		return nil, invalidField("size", 0, "must be greater than zero")
	}
	if spec.Asset == models.AssetPerp && spec.Leverage == 0 {
		return nil, invalidField("leverage", 0, "must be greater than zero")
	}

	return spec.Leg()
}

// ParseLegs parses several legs, reporting the position of the first bad one.
func ParseLegs(in []string) ([]models.InstrumentLeg, error) {
	legs := make([]models.InstrumentLeg, 0, len(in))
	for i, s := range in {
		leg, err := ParseLeg(s)
		if err != nil {
			return nil, apperrors.NewLegError(i, s, err)
		}
		legs = append(legs, leg)
	}
	return legs, nil
}

func parseNumbers(leg string, names []string, fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, invalidField(names[i], f, fmt.Sprintf("not a number in %q", leg))
		}
		out[i] = v
	}
	return out, nil
}

func legSyntaxError(leg, msg string) error {
	return invalidField("leg", leg, msg)
}

func invalidField(field string, value interface{}, msg string) error {
	return fmt.Errorf("%w: %w", apperrors.ErrInvalidLeg, apperrors.NewValidationError(field, value, msg))
}
