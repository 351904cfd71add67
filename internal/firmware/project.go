package firmware

import (
	"strings"

	"gopkg.in/yaml.v3"

	"aquaflash/internal/catalog"
)

// ESP32CorePlatform pins the Arduino core the sketches are written against.
const ESP32CorePlatform = "esp32:esp32 (3.0.7)"

type sketchProject struct {
	Profiles       map[string]sketchProfile `yaml:"profiles"`
	DefaultProfile string                   `yaml:"default_profile"`
}

type sketchProfile struct {
	Notes     string           `yaml:"notes,omitempty"`
	FQBN      string           `yaml:"fqbn"`
	Platforms []sketchPlatform `yaml:"platforms"`
	Libraries []string         `yaml:"libraries,omitempty"`
}

type sketchPlatform struct {
	Platform string `yaml:"platform"`
}

// renderProject builds the arduino-cli sketch.yaml for the sketch. Core
// libraries are left out since the platform provides them.
func renderProject(cfg *Config, libs []catalog.Library, filename string) string {
	profile := sketchProfile{
		Notes:     commentSafe(cfg.deviceName()) + " on " + cfg.Board.Name,
		FQBN:      cfg.Board.FQBN,
		Platforms: []sketchPlatform{{Platform: ESP32CorePlatform}},
	}
	for _, l := range libs {
		if !l.Builtin {
			profile.Libraries = append(profile.Libraries, l.ProfileEntry())
		}
	}

	name := strings.TrimSuffix(filename, ".ino")
	data, err := yaml.Marshal(sketchProject{
		Profiles:       map[string]sketchProfile{name: profile},
		DefaultProfile: name,
	})
	if err != nil {
		return ""
	}
	return string(data)
}

// LibraryNames returns the names of the non-builtin libraries, the list a
// compile service has to install.
func LibraryNames(libs []catalog.Library) []string {
	var names []string
	for _, l := range libs {
		if !l.Builtin {
			names = append(names, l.Name)
		}
	}
	return names
}
