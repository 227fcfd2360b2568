package history

type (
	// Decision is the content of an agent entry. Exactly one of Tool, Agent,
	// or Terminate is set.
	Decision struct {
		Tool      string         `json:"tool,omitempty"`
		Agent     string         `json:"agent,omitempty"`
		Task      string         `json:"task,omitempty"`
		Args      map[string]any `json:"args,omitempty"`
		Terminate bool           `json:"terminate,omitempty"`
		Response  string         `json:"response,omitempty"`
	}

	// OverflowRef is the content of an environment entry whose result was
	// externalized to the overflow store. The raw value is resolvable through
	// OverflowID for the lifetime of the store.
	OverflowRef struct {
		Executed           bool   `json:"executed"`
		Description        string `json:"description"`
		OverflowID         string `json:"overflow_id"`
		PayloadDescription string `json:"payload_description,omitempty"`
	}
)
