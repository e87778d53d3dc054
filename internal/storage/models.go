package storage

// Bucket names. Stores create their own buckets on first use.
const (
	AuditBucket       = "audit_events"
	AuditIndexBucket  = "audit_ids" // ULID -> sequence key
	TokensBucket      = "privacy_tokens"
	AccessRulesBucket = "access_rules"
	MetaBucket        = "meta"
)

const SchemaVersionKey = "schema"

// CurrentSchemaVersion is bumped whenever a bucket layout changes
const CurrentSchemaVersion = 1

// DatabaseFileName is created inside the data directory
const DatabaseFileName = "grcgate.db"
