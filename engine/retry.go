package engine

import (
	"time"

	"github.com/stepflow-io/stepflow/model"
)

func DefaultRetryConfig() model.RetryConfig {
	return model.RetryConfig{
		MaxAttempts:       3,
		RetryAfterSeconds: 5,
		Policy:            model.RETRY_POLICY_FIXED,
	}
}

// retryDelay computes the wait before the given attempt runs. BACKOFF
// doubles the base delay per prior failed attempt.
func retryDelay(conf model.RetryConfig, attempt int) time.Duration {
	base := time.Duration(conf.RetryAfterSeconds) * time.Second
	if base <= 0 {
		return 0
	}
	if conf.Policy == model.RETRY_POLICY_BACKOFF {
		delay := base
		for i := 2; i < attempt; i++ {
			delay *= 2
		}
		return delay
	}
	return base
}
