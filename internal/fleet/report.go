package fleet

import "encoding/json"

// Report is the metrics snapshot an agent uploads. The three percentage
// fields are required by the schema; anything else an agent sends is carried
// opaquely in Extra so the report shape can grow without server changes.
type Report struct {
	CPUPercent  float64
	RAMPercent  float64
	DiskPercent float64
	Extra       map[string]json.RawMessage
}

// reportknown lists the field names lifted into typed struct fields.
var reportKnown = map[string]struct{}{
	"cpu_percent":  {},
	"ram_percent":  {},
	"disk_percent": {},
}

// UnmarshalJSON lifts the known metric fields and keeps the rest verbatim.
func (r *Report) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["cpu_percent"]; ok {
		if err := json.Unmarshal(v, &r.CPUPercent); err != nil {
			return err
		}
	}
	if v, ok := raw["ram_percent"]; ok {
		if err := json.Unmarshal(v, &r.RAMPercent); err != nil {
			return err
		}
	}
	if v, ok := raw["disk_percent"]; ok {
		if err := json.Unmarshal(v, &r.DiskPercent); err != nil {
			return err
		}
	}
	for k, v := range raw {
		if _, known := reportKnown[k]; known {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = v
	}
	return nil
}

// MarshalJSON merges the typed fields back with the extension fields.
func (r Report) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	var err error
	if out["cpu_percent"], err = json.Marshal(r.CPUPercent); err != nil {
		return nil, err
	}
	if out["ram_percent"], err = json.Marshal(r.RAMPercent); err != nil {
		return nil, err
	}
	if out["disk_percent"], err = json.Marshal(r.DiskPercent); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}
