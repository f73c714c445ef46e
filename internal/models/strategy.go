package models

import "encoding/json"

// StrategyTemplate is an immutable catalog entry. Only Components take part in
// the computation; the display fields are passed through to the UI.
type StrategyTemplate struct {
	ID           string
	Name         string
	Description  string
	Sentiment    string
	Proficiency  string
	MaxProfit    string
	MaxLoss      string
	StrategyType string
	// Band names the price grid band the template is best viewed with.
	Band       string
	Components []InstrumentLeg
}

type templateJSON struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Sentiment    string    `json:"sentiment"`
	Proficiency  string    `json:"proficiency"`
	MaxProfit    string    `json:"maxProfit"`
	MaxLoss      string    `json:"maxLoss"`
	StrategyType string    `json:"strategyType"`
	Band         string    `json:"band,omitempty"`
	Components   []LegSpec `json:"components"`
}

// MarshalJSON encodes the components in their serialised LegSpec form.
func (t StrategyTemplate) MarshalJSON() ([]byte, error) {
	specs := make([]LegSpec, len(t.Components))
	for i, c := range t.Components {
		specs[i] = SpecFromLeg(c)
	}
	return json.Marshal(templateJSON{
		ID:           t.ID,
		Name:         t.Name,
		Description:  t.Description,
		Sentiment:    t.Sentiment,
		Proficiency:  t.Proficiency,
		MaxProfit:    t.MaxProfit,
		MaxLoss:      t.MaxLoss,
		StrategyType: t.StrategyType,
		Band:         t.Band,
		Components:   specs,
	})
}

// CustomInstrument is a leg being edited in the strategy builder.
type CustomInstrument struct {
	ID  string
	Leg InstrumentLeg
}

// MarshalJSON flattens the leg next to the instrument id.
func (c CustomInstrument) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID string `json:"id"`
		LegSpec
	}{
		ID:      c.ID,
		LegSpec: SpecFromLeg(c.Leg),
	})
}
