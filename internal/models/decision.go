package models

// Decision is the parsed form of a final trade decision.
type Decision struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	Target     float64 `json:"target,omitempty"`
	// Adjusted is set when the plan's stop or target had to be filled in.
	Adjusted bool   `json:"adjusted,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
