package qos

import "errors"

var (
	errInvalidHistoryDepth         = errors.New("qos: KEEP_LAST history requires depth >= 1")
	errHistoryExceedsResourceLimit = errors.New("qos: history depth exceeds max_samples_per_instance")
)
