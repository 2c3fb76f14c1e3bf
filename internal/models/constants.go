package models

// Occurrence statuses. Transitions are monotone along
// scheduled -> queued -> {published | failed}, with
// failed -> retrying -> queued while retry budget remains, and any
// non-terminal status -> cancelled on explicit user cancellation.
const (
	OccurrenceDraft     = "draft"
	OccurrenceScheduled = "scheduled"
	OccurrenceQueued    = "queued"
	OccurrenceRetrying  = "retrying"
	OccurrencePublished = "published"
	OccurrenceFailed    = "failed"
	OccurrenceCancelled = "cancelled"
)

// Per-platform outcome statuses.
const (
	OutcomePending   = "pending"
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeRetrying  = "retrying"
)

// Supported publishing platforms.
const (
	PlatformTwitch    = "twitch"
	PlatformTwitter   = "twitter"
	PlatformInstagram = "instagram"
	PlatformDiscord   = "discord"
)

// StatusReasonPartial marks an occurrence where some platforms
// published and some failed; only the failed ones stay retry-eligible.
const StatusReasonPartial = "partial failure"

const (
	// DefaultMaxRetries caps publish attempts per occurrence.
	DefaultMaxRetries = 5

	// MaxRecurrenceCount is a hard safety bound against runaway
	// recurrence fan-out.
	MaxRecurrenceCount = 50

	// DefaultSelectorBatchSize bounds one due-work selection pass.
	DefaultSelectorBatchSize = 50

	// DefaultWorkerCount is the size of the dispatch worker pool.
	DefaultWorkerCount = 4

	// DefaultPlatformConcurrency caps in-flight calls per platform.
	DefaultPlatformConcurrency = 2

	// DefaultPublishTimeoutSeconds bounds a single publisher call.
	DefaultPublishTimeoutSeconds = 30

	// DefaultEnablementTTL is the platform-enablement cache TTL in
	// seconds.
	DefaultEnablementTTL = 300
)
