package firmware

import "aquaflash/internal/catalog"

var (
	libArduinoJSON = catalog.Library{Name: "ArduinoJson", Version: "7.2.1", URL: "https://github.com/bblanchon/ArduinoJson", Header: "ArduinoJson.h"}
	libPubSub      = catalog.Library{Name: "PubSubClient", Version: "2.8", URL: "https://github.com/knolleary/pubsubclient", Header: "PubSubClient.h"}
	libHTTPClient  = catalog.Library{Name: "HTTPClient", Header: "HTTPClient.h", Builtin: true}
	libOTA         = catalog.Library{Name: "ArduinoOTA", Header: "ArduinoOTA.h", Builtin: true}
)

// resolveLibraries collects the base, transport, sensor and feature libraries,
// keeping the first occurrence of each name.
func resolveLibraries(cfg *Config, p *sketchPlan) []catalog.Library {
	var libs []catalog.Library
	seen := make(map[string]bool)
	add := func(list ...catalog.Library) {
		for _, l := range list {
			if seen[l.Name] {
				continue
			}
			seen[l.Name] = true
			libs = append(libs, l)
		}
	}

	add(libArduinoJSON)
	if cfg.transport() == TransportMQTT {
		add(libPubSub)
	} else {
		add(libHTTPClient)
	}
	for _, in := range p.instances {
		if in.sensor != nil {
			add(in.sensor.Libraries...)
		}
	}
	if cfg.OTA {
		add(libOTA)
	}
	return libs
}
