package config

import "strings"

// DeviceConfig describes the device this process acts for. The signals
// mirror the headers a browser sends so the fingerprint matches the one
// the portal UI would compute.
type DeviceConfig struct {
	// Key skips fingerprinting and uses this value as the device key.
	Key string `env:"KEY"`

	UserAgent      string `env:"USER_AGENT"      envDefault:"portal-session"`
	AcceptLanguage string `env:"ACCEPT_LANGUAGE" envDefault:"en-US,en"`
	Platform       string `env:"PLATFORM"`
	Screen         string `env:"SCREEN"` // WIDTHxHEIGHT[xDEPTH][@RATIO]
	Timezone       string `env:"TIMEZONE"` // NAME[;OFFSET_MINUTES]
}

// Sanitize trims whitespace from every signal.
func (d *DeviceConfig) Sanitize() {
	d.Key = strings.TrimSpace(d.Key)
	d.UserAgent = strings.TrimSpace(d.UserAgent)
	d.AcceptLanguage = strings.TrimSpace(d.AcceptLanguage)
	d.Platform = strings.TrimSpace(d.Platform)
	d.Screen = strings.TrimSpace(d.Screen)
	d.Timezone = strings.TrimSpace(d.Timezone)
}
