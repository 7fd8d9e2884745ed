package models

import "time"

const (
	// MinLeadTime: earliest a booking may start relative to request time.
	MinLeadTime = 2 * time.Hour

	// AssumedDuration stands in for the end time of requests that omit one
	// when resolving slot conflicts.
	AssumedDuration = time.Hour

	// AutoCancelTimeout: how long a booking may sit unanswered in
	// pending_provider_review before the sweeper expires it.
	AutoCancelTimeout = 12 * time.Hour

	// AutoCancelInterval is the auto-cancel sweep cadence.
	AutoCancelInterval = 5 * time.Minute

	// StrikeWindow is the trailing window over which auto-cancellations
	// count toward a service's blocking threshold.
	StrikeWindow = 7 * 24 * time.Hour

	// StrikeThreshold: auto-cancellations within StrikeWindow that trigger
	// a service block.
	StrikeThreshold = 3

	// BlockDuration is how long a struck service stays suspended.
	BlockDuration = 48 * time.Hour

	// UnblockInterval is the unblock sweep cadence.
	UnblockInterval = 15 * time.Minute

	// BlockCacheTTL bounds staleness of the redis-side blocked flag.
	BlockCacheTTL = time.Minute

	// NotifyQueueSize is the notification dispatcher buffer.
	NotifyQueueSize = 256
)
