package domain

import "encoding/json"

// ProcessingResult is the structured outcome of a single analysis call.
// Only the fields relevant to the job's operation type are populated:
// CLASSIFY fills Classification/Urgency, DRAFT fills Draft, SENTIMENT fills
// SentimentScore, EXTRACT_TASKS fills Tasks. ModelUsed always carries the
// exact model identifier of the upstream call.
type ProcessingResult struct {
	Classification   string   `json:"classification,omitempty"`
	Urgency          string   `json:"urgency,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
	Draft            string   `json:"draft,omitempty"`
	SentimentScore   float64  `json:"sentiment_score,omitempty"`
	Tasks            []string `json:"tasks,omitempty"`
	ModelUsed        string   `json:"model_used"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// Encode serializes the result for storage on the job row and in the cache.
func (r *ProcessingResult) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeProcessingResult parses a serialized result back into its struct form.
func DecodeProcessingResult(raw string) (*ProcessingResult, error) {
	var r ProcessingResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	return &r, nil
}
