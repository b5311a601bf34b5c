package telemetry

// Payload is the metrics document submitted once per session.
//
// Latencies are in milliseconds. ManifestLatency is nil when either of
// its anchor timestamps never fired.
type Payload struct {
	SessionID string `json:"session_id"`
	SourceURL string `json:"source_url"`
	ContentID string `json:"content_id,omitempty"`
	Reason    string `json:"reason"`

	StartupLatency    int64  `json:"startup_latency_ms"`
	FirstFrameLatency int64  `json:"first_frame_latency_ms"`
	ManifestLatency   *int64 `json:"manifest_latency_ms,omitempty"`

	BufferingEvents int    `json:"buffering_events"`
	DeliverySource  string `json:"delivery_source"`
	BandwidthBps    int64  `json:"bandwidth_bps,omitempty"`

	TransferSize    int64  `json:"transfer_size,omitempty"`
	EncodedBodySize int64  `json:"encoded_body_size,omitempty"`
	DecodedBodySize int64  `json:"decoded_body_size,omitempty"`
	Protocol        string `json:"protocol,omitempty"`

	DeviceClass string `json:"device_class"`
	UserAgent   string `json:"user_agent,omitempty"`
}
