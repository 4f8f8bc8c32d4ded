package models

// RateLimitExceededResponse is the JSON body returned with 429 responses.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"` // seconds
}
