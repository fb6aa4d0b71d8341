package pipeline

// Sender delivers outbound frames to the bound WebSocket connection. The
// Connection Session implements this; the Pipeline Manager never touches a
// socket directly.
type Sender interface {
	SendJSON(v any) error
	SendAudio(chunk []byte) error
}
