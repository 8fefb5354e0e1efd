package event

// Version constants for the persisted record layout and the client.
const (
	// SchemaVersion is the persisted record schema version.
	SchemaVersion = 1

	// ClientVersion is reported in the User-Agent of outbound requests.
	ClientVersion = "0.3.0"
)
