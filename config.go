package main

import (
	"fmt"
	"os"
	"strconv"
)

// envPrefix namespaces every configuration key, e.g. BCI_PORT.
const envPrefix = "BCI_"

// Settings is the process configuration, environment-driven with flag
// overrides in main.
type Settings struct {
	Host string
	Port int

	StreamFrequencyHz int

	DataDir     string
	DatasetName string

	MaxConnections    int
	SessionTTLSeconds int

	NoiseInjectionEnabled bool
	NoiseStd              float64
	DriftAmplitude        float64
	DriftPeriodSeconds    float64

	LSLEnabled    bool
	LSLStreamName string
	LSLStreamType string
	LSLSourceID   string
	LSLAddr       string
}

// LoadSettings reads the BCI_* environment. Malformed values are fatal
// configuration errors.
func LoadSettings() (Settings, error) {
	s := Settings{
		Host:              "0.0.0.0",
		Port:              8000,
		StreamFrequencyHz: 40,
		DataDir:           "data/raw",
		DatasetName:       "mc_maze",
		MaxConnections:    10,
		SessionTTLSeconds: 3600,

		NoiseStd:           0.5,
		DriftAmplitude:     0.2,
		DriftPeriodSeconds: 60,

		LSLStreamName: "bcistream-neural",
		LSLStreamType: "EEG",
		LSLSourceID:   "bcistream-001",
		LSLAddr:       "",
	}

	var err error
	s.Host = envString("HOST", s.Host)
	s.DataDir = envString("DATA_DIR", s.DataDir)
	s.DatasetName = envString("DATASET_NAME", s.DatasetName)
	s.LSLStreamName = envString("LSL_STREAM_NAME", s.LSLStreamName)
	s.LSLStreamType = envString("LSL_STREAM_TYPE", s.LSLStreamType)
	s.LSLSourceID = envString("LSL_SOURCE_ID", s.LSLSourceID)
	s.LSLAddr = envString("LSL_ADDR", s.LSLAddr)

	if s.Port, err = envInt("PORT", s.Port); err != nil {
		return s, err
	}
	if s.StreamFrequencyHz, err = envInt("STREAM_FREQUENCY_HZ", s.StreamFrequencyHz); err != nil {
		return s, err
	}
	if s.MaxConnections, err = envInt("MAX_CONNECTIONS", s.MaxConnections); err != nil {
		return s, err
	}
	if s.SessionTTLSeconds, err = envInt("SESSION_TTL_SECONDS", s.SessionTTLSeconds); err != nil {
		return s, err
	}
	if s.NoiseInjectionEnabled, err = envBool("NOISE_INJECTION_ENABLED", s.NoiseInjectionEnabled); err != nil {
		return s, err
	}
	if s.NoiseStd, err = envFloat("NOISE_STD", s.NoiseStd); err != nil {
		return s, err
	}
	if s.DriftAmplitude, err = envFloat("DRIFT_AMPLITUDE", s.DriftAmplitude); err != nil {
		return s, err
	}
	if s.DriftPeriodSeconds, err = envFloat("DRIFT_PERIOD_SECONDS", s.DriftPeriodSeconds); err != nil {
		return s, err
	}
	if s.LSLEnabled, err = envBool("LSL_ENABLED", s.LSLEnabled); err != nil {
		return s, err
	}

	if s.StreamFrequencyHz <= 0 {
		return s, fmt.Errorf("config: %sSTREAM_FREQUENCY_HZ must be positive, got %d", envPrefix, s.StreamFrequencyHz)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return s, fmt.Errorf("config: %sPORT out of range: %d", envPrefix, s.Port)
	}
	return s, nil
}

// PacketIntervalMS derives the tick interval from the stream rate.
func (s Settings) PacketIntervalMS() float64 {
	return 1000.0 / float64(s.StreamFrequencyHz)
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	return b, nil
}
