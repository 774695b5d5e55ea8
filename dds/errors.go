package dds

import "errors"

// ErrResourceLimitsExceeded is returned by DataWriter.Write/Dispose when
// the writer's RESOURCE_LIMITS policy caps the HistoryCache and every
// cached sample is still unacknowledged, leaving nothing eligible for
// eviction to make room for the new one.
var ErrResourceLimitsExceeded = errors.New("dds: resource_limits exceeded, oldest sample still unacknowledged")
