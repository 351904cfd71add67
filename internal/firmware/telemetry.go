package firmware

// ReadingTypeHeartbeat marks a liveness ping without readings.
const ReadingTypeHeartbeat = "heartbeat"

// TelemetryPayload is the body generated firmware posts to TelemetryPath
// (or publishes to aquaponics/<deviceMac>/telemetry over MQTT).
type TelemetryPayload struct {
	APIKey      string    `json:"apiKey"`
	DeviceMAC   string    `json:"deviceMac"`
	ReadingType string    `json:"readingType"`
	Readings    []Reading `json:"readings,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

// Reading is one sensor measurement inside a payload.
type Reading struct {
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
	Timestamp int64   `json:"timestamp"`
}

// IsHeartbeat reports whether the payload is a liveness ping.
func (p *TelemetryPayload) IsHeartbeat() bool {
	return p.ReadingType == ReadingTypeHeartbeat
}

// TelemetryResponse is what the ingestion endpoint answers.
type TelemetryResponse struct {
	ReadingInterval int `json:"reading_interval,omitempty"`
}

// MQTTTopic returns the topic a device publishes telemetry on.
func MQTTTopic(deviceMAC string) string {
	return MQTTTopicPrefix + deviceMAC + MQTTTopicSuffix
}
