package model

type RetryPolicy string

const RETRY_POLICY_FIXED RetryPolicy = "FIXED"
const RETRY_POLICY_BACKOFF RetryPolicy = "BACKOFF"

type RetryConfig struct {
	MaxAttempts       int         `json:"max_attempts"`
	RetryAfterSeconds int         `json:"retry_after_seconds"`
	Policy            RetryPolicy `json:"retry_policy"`
}
