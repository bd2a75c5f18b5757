package featureflag

type Flag string

const (
	// FlagStrictInvariants makes the spatial index verify its structural
	// invariants after every mutation. Expensive, debug builds only.
	FlagStrictInvariants Flag = "STRICT_INVARIANTS"

	// FlagDisableQueryCache bypasses the query result cache so every query
	// hits the index directly.
	FlagDisableQueryCache Flag = "DISABLE_QUERY_CACHE"

	// FlagDisableFrameStatsPush stops the periodic frame statistics push to
	// connected debug clients.
	FlagDisableFrameStatsPush Flag = "DISABLE_FRAME_STATS_PUSH"

	// FlagDisableDetection turns off the detection behavior system.
	FlagDisableDetection Flag = "DISABLE_DETECTION_SYSTEM"
)
