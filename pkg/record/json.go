package record

// Payload is the JSON shape of a cycle for message-based outputs. Faulted
// values are null and listed by name in Faults.
type Payload struct {
	ElapsedMs    int64    `json:"elapsed_ms"`
	Pressure     *float64 `json:"pressure"`
	Temperature1 *float64 `json:"temperature1"`
	Temperature2 *float64 `json:"temperature2"`
	Force        *float64 `json:"force"`
	Faults       []string `json:"faults,omitempty"`
}

// NewPayload converts c into its JSON shape.
func NewPayload(c Cycle) Payload {
	p := Payload{
		ElapsedMs:    c.ElapsedMs(),
		Pressure:     valuePtr(c.Pressure),
		Temperature1: valuePtr(c.Temperature1),
		Temperature2: valuePtr(c.Temperature2),
		Force:        valuePtr(c.Force),
	}
	for _, f := range c.Faults() {
		p.Faults = append(p.Faults, f.String())
	}
	return p
}

func valuePtr(r Reading) *float64 {
	if !r.OK() {
		return nil
	}
	v := r.Value
	return &v
}
