package orchestrator

import (
	"encoding/json"

	"github.com/jonathan/content-pipeline/internal/types"
)

const gateApproved = "approved"

// substate is the typed view of Run.Substate.
type substate struct {
	Gates       map[string]string `json:"gates,omitempty"`
	PendingGate string            `json:"pending_gate,omitempty"`
	Phases      map[string]string `json:"phases,omitempty"`
}

func loadSubstate(v types.Value) substate {
	var s substate
	if !v.IsNull() {
		// A document that does not fit the shape is treated as empty.
		_ = json.Unmarshal(v.Canonical(), &s)
	}
	if s.Gates == nil {
		s.Gates = make(map[string]string)
	}
	if s.Phases == nil {
		s.Phases = make(map[string]string)
	}
	return s
}

func (s substate) value() types.Value {
	data, err := json.Marshal(s)
	if err != nil {
		return types.EmptyMap()
	}
	v, err := types.ParseValue(data)
	if err != nil {
		return types.EmptyMap()
	}
	return v
}

func (s substate) approved(gate types.RunStatus) bool {
	return s.Gates[string(gate)] == gateApproved
}

func (s substate) phase(step string) string { return s.Phases[step] }
