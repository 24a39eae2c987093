package ir

// Version constants.
const (
	// SchemaVersion is the version of the entity schema format.
	SchemaVersion = "1"

	// EngineVersion is the collx version.
	EngineVersion = "0.1.0"
)
