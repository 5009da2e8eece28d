package trace

import (
	"encoding/json"
	"io"

	"github.com/inference-sim/coalescence-sim/sim"
)

// Record is the flat export form of one event.
type Record struct {
	Time        float64 `json:"time"`
	PriorTime   float64 `json:"prior_time"`
	Lineage     uint64  `json:"lineage"`
	Kind        string  `json:"kind"`
	OriginX     uint32  `json:"origin_x"`
	OriginY     uint32  `json:"origin_y"`
	OriginIndex uint32  `json:"origin_index"`
	TargetX     uint32  `json:"target_x,omitempty"`
	TargetY     uint32  `json:"target_y,omitempty"`
	TargetIndex uint32  `json:"target_index,omitempty"`
	Interaction string  `json:"interaction,omitempty"`
	Parent      uint64  `json:"parent,omitempty"`
}

// NewRecord flattens an event.
func NewRecord(e sim.Event) Record {
	r := Record{
		Time:        e.Time,
		PriorTime:   e.PriorTime,
		Lineage:     uint64(e.Lineage),
		Kind:        e.Kind.String(),
		OriginX:     e.Origin.Location.X,
		OriginY:     e.Origin.Location.Y,
		OriginIndex: e.Origin.Index,
	}
	if e.Kind != sim.EventDispersal {
		return r
	}
	r.TargetX, r.TargetY, r.TargetIndex = e.Target.Location.X, e.Target.Location.Y, e.Target.Index
	switch e.Interaction.Kind {
	case sim.InteractionMaybe:
		r.Interaction = "maybe"
	case sim.InteractionCoalescence:
		r.Interaction = "coalescence"
		r.Parent = uint64(e.Interaction.Parent)
	case sim.InteractionDuplicate:
		r.Interaction = "duplicate"
		r.Parent = uint64(e.Interaction.Parent)
	}
	return r
}

// WriteJSONLines writes one JSON record per event.
func WriteJSONLines(w io.Writer, events []sim.Event) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(NewRecord(e)); err != nil {
			return err
		}
	}
	return nil
}
