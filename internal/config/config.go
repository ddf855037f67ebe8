// Package config loads the node-wide TOML configuration file: broker
// address, unit/experiment identity, persistent-store location, and
// per-job defaults. Mirrors the teacher's flat TOML config shape.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the top-level node configuration.
type Config struct {
	Namespace  string `toml:"namespace"`
	Unit       string `toml:"unit"`
	Experiment string `toml:"experiment"`

	MQTT struct {
		BrokerURL string `toml:"broker_url"`
	} `toml:"mqtt"`

	Storage struct {
		PersistentDBPath string `toml:"persistent_db_path"`
	} `toml:"storage"`

	Stirring struct {
		TargetRPM float64 `toml:"target_rpm"`
		PWMPin    int     `toml:"pwm_pin"`
		HallPin   int     `toml:"hall_pin"`
	} `toml:"stirring"`

	ODReading struct {
		SamplesPerSecond float64 `toml:"samples_per_second"`
		IRLedIntensity   float64 `toml:"ir_led_intensity"`
		PDChannel        int     `toml:"pd_channel"`
	} `toml:"od_reading"`

	Dosing struct {
		VialVolumeML float64 `toml:"vial_volume_ml"`
		MaxChunkML   float64 `toml:"max_chunk_ml"`
	} `toml:"dosing"`

	Pumps struct {
		MediaPin    int `toml:"media_pin"`
		AltMediaPin int `toml:"alt_media_pin"`
		WastePin    int `toml:"waste_pin"`
	} `toml:"pumps"`

	Monitor struct {
		SelfCheckInterval string `toml:"self_check_interval"` // parsed with time.ParseDuration
		ButtonPin         int    `toml:"button_pin"`
		LEDPin            int    `toml:"led_pin"`
	} `toml:"monitor"`
}

// Default returns the out-of-the-box configuration a freshly imaged
// node boots with.
func Default() Config {
	var c Config
	c.Namespace = "pioreactor"
	c.MQTT.BrokerURL = "tcp://localhost:1883"
	c.Storage.PersistentDBPath = "/var/lib/reactorcore/store.db"
	c.Stirring.TargetRPM = 500
	c.ODReading.SamplesPerSecond = 0.2
	c.ODReading.IRLedIntensity = 50
	c.Dosing.VialVolumeML = 14
	c.Dosing.MaxChunkML = 0.6
	c.Pumps.MediaPin = 19
	c.Pumps.AltMediaPin = 20
	c.Pumps.WastePin = 21
	c.Monitor.SelfCheckInterval = "12h"
	return c
}

// Load reads and parses a TOML config file, layering it over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
