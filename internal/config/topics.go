package config

const (
	// TopicSyncTick wakes the source syncers. An empty body syncs every
	// registered type; a scoped body targets one.
	TopicSyncTick = "rag.sync.tick"

	// TopicIngestTick wakes the ingestion worker for one bounded batch.
	TopicIngestTick = "rag.ingest.tick"

	// TopicSweepTick wakes the orphan cleanup sweeper for one bounded pass.
	TopicSweepTick = "rag.sweep.tick"
)

// Topics lists every NSQ topic the pipeline consumes, for pre-creation at boot.
func Topics() []string {
	return []string{TopicSyncTick, TopicIngestTick, TopicSweepTick}
}
