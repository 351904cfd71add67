package firmware

import (
	"fmt"
	"strings"

	"aquaflash/internal/catalog"
)

type writer struct {
	b strings.Builder
}

func (w *writer) line(s string) {
	w.b.WriteString(s)
	w.b.WriteByte('\n')
}

func (w *writer) linef(format string, args ...any) {
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

// block writes lines indented by two spaces.
func (w *writer) block(lines []string) {
	for _, l := range lines {
		w.line("  " + l)
	}
}

func (w *writer) section(title string) {
	w.line("")
	w.linef("// ---- %s ----", title)
}

func render(cfg *Config, p *sketchPlan, libs []catalog.Library) string {
	w := &writer{}
	code := make(map[*instance]driverCode)
	for _, in := range p.instances {
		if !in.complete() {
			continue
		}
		if emit, ok := emitters[in.sensor.Driver]; ok {
			code[in] = emit(in)
		}
	}

	renderHeader(w, cfg, p)
	renderIncludes(w, cfg, libs)
	renderPins(w, p)
	renderGlobals(w, p, code)
	renderNetwork(w, cfg)
	renderIdentity(w, cfg)
	renderHelpers(w, cfg)
	renderSetup(w, cfg, p, code)
	renderLoop(w, cfg, p, code)

	return w.b.String()
}

func renderHeader(w *writer, cfg *Config, p *sketchPlan) {
	w.linef("// %s firmware", commentSafe(cfg.deviceName()))
	w.linef("// Board: %s (%s)", cfg.Board.Name, cfg.Board.FQBN)
	w.linef("// Transport: %s", strings.ToUpper(string(cfg.transport())))
	for _, in := range p.instances {
		var wires []string
		for _, a := range in.pins {
			wires = append(wires, fmt.Sprintf("%s=%s (GPIO %d)", a.SensorPin, a.PinID, a.GPIO))
		}
		w.linef("// Sensor: %s: %s", commentSafe(in.label()), strings.Join(wires, ", "))
	}
	w.line("// Generated by aquaflash. Regenerate instead of editing by hand.")
}

func renderIncludes(w *writer, cfg *Config, libs []catalog.Library) {
	w.line("")
	w.line("#include <Arduino.h>")
	w.line("#include <WiFi.h>")
	w.line("#include <time.h>")
	if cfg.DeepSleep {
		w.line("#include <esp_sleep.h>")
	}
	seen := make(map[string]bool)
	for _, l := range libs {
		if l.Header == "" || seen[l.Header] {
			continue
		}
		seen[l.Header] = true
		w.linef("#include <%s>", l.Header)
	}
}

func renderPins(w *writer, p *sketchPlan) {
	w.section("Pin definitions")
	if len(p.instances) == 0 {
		w.line("// No sensors assigned")
		return
	}
	for _, in := range p.instances {
		for _, a := range in.pins {
			w.linef("#define %s %d", in.pinConst(a.SensorPin), a.GPIO)
		}
	}
}

func renderGlobals(w *writer, p *sketchPlan, code map[*instance]driverCode) {
	w.section("Sensor drivers")
	for _, in := range p.instances {
		c, ok := code[in]
		if !ok {
			w.linef("// %s: not wired completely, skipped", commentSafe(in.label()))
			continue
		}
		for _, g := range c.globals {
			w.line(g)
		}
	}
}

func renderNetwork(w *writer, cfg *Config) {
	w.section("Network")
	w.linef("const char* WIFI_SSID = %s;", cQuote(cfg.WiFiSSID))
	w.linef("const char* WIFI_PASSWORD = %s;", cQuote(cfg.WiFiPassword))
	w.linef("const char* SERVER_HOST = %s;", cQuote(cfg.host()))
	w.linef("const uint16_t SERVER_PORT = %d;", cfg.port())
	if cfg.transport() == TransportMQTT {
		w.linef("const char* MQTT_TOPIC_PREFIX = %s;", cQuote(MQTTTopicPrefix))
		w.linef("const char* MQTT_TOPIC_SUFFIX = %s;", cQuote(MQTTTopicSuffix))
	} else {
		w.linef("const char* TELEMETRY_PATH = %s;", cQuote(TelemetryPath))
	}
	w.linef("const int WIFI_MAX_ATTEMPTS = %d;", WiFiMaxAttempts)
}

func renderIdentity(w *writer, cfg *Config) {
	w.section("Device identity")
	w.linef("const char* DEVICE_NAME = %s;", cQuote(cfg.deviceName()))
	w.linef("const char* API_KEY = %s;", cQuote(cfg.apiKey()))
	w.linef("const char* DEVICE_MAC = %s; // empty: use the WiFi MAC", cQuote(cfg.deviceMAC()))
	w.linef("const char* READING_TYPE = %s;", cQuote(cfg.readingType()))
	w.linef("const unsigned long MIN_SENSOR_INTERVAL = %d;", MinSensorInterval)
	w.linef("unsigned long sensorInterval = %d;", cfg.interval())
	if cfg.DeepSleep {
		seconds := cfg.DeepSleepSeconds
		if seconds <= 0 {
			seconds = DefaultDeepSleepSeconds
		}
		w.linef("const uint64_t DEEP_SLEEP_SECONDS = %d;", seconds)
	}
	if cfg.OTA {
		w.linef("const char* OTA_HOSTNAME = %s;", cQuote(Sketchname(cfg.deviceName())))
	}
}

const helpersCommon = `WiFiClient netClient;
unsigned long lastReading = 0;

String deviceMac() {
  if (strlen(DEVICE_MAC) > 0) return String(DEVICE_MAC);
  return WiFi.macAddress();
}

unsigned long currentTimestamp() {
  time_t now = time(nullptr);
  if (now > 1700000000) return (unsigned long) now;
  return millis() / 1000;
}

void addReading(JsonArray readings, const char* type, float value, const char* unit) {
  JsonObject reading = readings.add<JsonObject>();
  reading["type"] = type;
  reading["value"] = value;
  reading["unit"] = unit;
  reading["timestamp"] = currentTimestamp();
}

bool connectWiFi() {
  if (WiFi.status() == WL_CONNECTED) return true;
  WiFi.mode(WIFI_STA);
  WiFi.begin(WIFI_SSID, WIFI_PASSWORD);
  for (int attempt = 0; attempt < WIFI_MAX_ATTEMPTS; attempt++) {
    if (WiFi.status() == WL_CONNECTED) {
      Serial.print("WiFi connected, IP ");
      Serial.println(WiFi.localIP());
      return true;
    }
    delay(500);
  }
  Serial.println("WiFi connection failed");
  return false;
}
`

const helpersHTTP = `
bool sendPayload(JsonDocument& doc) {
  if (!connectWiFi()) return false;
  String body;
  serializeJson(doc, body);

  HTTPClient http;
  http.begin(netClient, SERVER_HOST, SERVER_PORT, TELEMETRY_PATH);
  http.addHeader("Content-Type", "application/json");
  int status = http.POST(body);
  bool ok = status >= 200 && status < 300;
  if (ok) {
    JsonDocument response;
    if (deserializeJson(response, http.getString()) == DeserializationError::Ok) {
      unsigned long interval = response["reading_interval"] | 0UL;
      if (interval >= MIN_SENSOR_INTERVAL) sensorInterval = interval;
    }
  } else {
    Serial.printf("Telemetry POST failed: %d\n", status);
  }
  http.end();
  return ok;
}
`

const helpersMQTT = `PubSubClient mqtt(netClient);

String telemetryTopic() {
  return String(MQTT_TOPIC_PREFIX) + deviceMac() + MQTT_TOPIC_SUFFIX;
}

bool connectMqtt() {
  if (mqtt.connected()) return true;
  mqtt.setServer(SERVER_HOST, SERVER_PORT);
  mqtt.setBufferSize(1024);
  for (int attempt = 0; attempt < 5; attempt++) {
    if (mqtt.connect(deviceMac().c_str())) return true;
    Serial.printf("MQTT connect failed: %d\n", mqtt.state());
    delay(1000);
  }
  return false;
}

bool sendPayload(JsonDocument& doc) {
  if (!connectWiFi() || !connectMqtt()) return false;
  String body;
  serializeJson(doc, body);
  bool ok = mqtt.publish(telemetryTopic().c_str(), body.c_str());
  if (!ok) Serial.println("Telemetry publish failed");
  return ok;
}
`

const helpersHeartbeat = `
void sendHeartbeat() {
  JsonDocument doc;
  doc["apiKey"] = API_KEY;
  doc["deviceMac"] = deviceMac();
  doc["readingType"] = "heartbeat";
  doc["timestamp"] = currentTimestamp();
  if (sendPayload(doc)) Serial.println("Registered with server");
}`

func renderHelpers(w *writer, cfg *Config) {
	w.section("Telemetry")
	w.b.WriteString(helpersCommon)
	if cfg.transport() == TransportMQTT {
		w.line("")
		w.b.WriteString(helpersMQTT)
	} else {
		w.b.WriteString(helpersHTTP)
	}
	w.line(helpersHeartbeat)
}

func renderSetup(w *writer, cfg *Config, p *sketchPlan, code map[*instance]driverCode) {
	w.line("")
	w.line("void setup() {")
	w.line("  Serial.begin(115200);")
	w.line("  delay(100);")
	w.line("  Serial.println();")
	w.linef("  Serial.println(%s);", cQuote("Starting "+cfg.deviceName()))

	for _, in := range p.instances {
		if _, ok := code[in]; !ok {
			continue
		}
		for _, a := range in.pins {
			w.linef("  pinMode(%s, %s);", in.pinConst(a.SensorPin), pinMode(in.sensor.Driver, a.SensorPin))
		}
	}
	if p.i2c != nil {
		w.linef("  Wire.begin(%s, %s);", p.i2c.sda, p.i2c.scl)
	}
	for _, in := range p.instances {
		if c, ok := code[in]; ok {
			w.block(c.setup)
		}
	}

	w.line("")
	w.line("  connectWiFi();")
	w.line(`  configTime(0, 0, "pool.ntp.org", "time.nist.gov");`)
	if cfg.OTA {
		w.line("  ArduinoOTA.setHostname(OTA_HOSTNAME);")
		w.line("  ArduinoOTA.begin();")
	}
	w.line("  sendHeartbeat();")
	w.line("}")
}

func renderLoop(w *writer, cfg *Config, p *sketchPlan, code map[*instance]driverCode) {
	w.line("")
	w.line("void loop() {")
	if cfg.OTA {
		w.line("  ArduinoOTA.handle();")
	}
	if cfg.transport() == TransportMQTT {
		w.line("  mqtt.loop();")
	}
	if !cfg.DeepSleep {
		w.line("  unsigned long now = millis();")
		w.line("  if (lastReading != 0 && now - lastReading < sensorInterval) {")
		w.line("    delay(10);")
		w.line("    return;")
		w.line("  }")
		w.line("  lastReading = now;")
	}
	w.line("")
	w.line("  JsonDocument doc;")
	w.line("  doc[\"apiKey\"] = API_KEY;")
	w.line("  doc[\"deviceMac\"] = deviceMac();")
	w.line("  doc[\"readingType\"] = READING_TYPE;")
	w.line("  JsonArray readings = doc[\"readings\"].to<JsonArray>();")
	for _, in := range p.instances {
		if c, ok := code[in]; ok {
			w.line("")
			w.linef("  // %s", commentSafe(in.label()))
			w.block(c.read)
		}
	}
	w.line("")
	w.line("  doc[\"timestamp\"] = currentTimestamp();")
	w.line("  if (readings.size() > 0) {")
	w.line("    sendPayload(doc);")
	w.line("  } else {")
	w.line("    Serial.println(\"No readings collected\");")
	w.line("  }")
	if cfg.DeepSleep {
		w.line("")
		w.line("  Serial.println(\"Entering deep sleep\");")
		w.line("  Serial.flush();")
		w.line("  esp_sleep_enable_timer_wakeup(DEEP_SLEEP_SECONDS * 1000000ULL);")
		w.line("  esp_deep_sleep_start();")
	}
	w.line("}")
}
