package chatqueue

import "time"

const (
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 30 * time.Second
	defaultMaxElapsedTime  = 2 * time.Minute
)
