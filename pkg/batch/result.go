package batch

import "time"

// ItemResult is one file's outcome within a batch run.
type ItemResult struct {
	Status  string      `json:"status"`
	Content interface{} `json:"content,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Result aggregates a batch run's outcome across every matched file.
type Result struct {
	Total      int                   `json:"total"`
	Successful int                   `json:"successful"`
	Failed     int                   `json:"failed"`
	Duration   time.Duration         `json:"duration"`
	Results    map[string]ItemResult `json:"results"`
}
