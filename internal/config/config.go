// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the edge agent's configuration file,
// following the teacher's read-validate-decode sequence
// (os.ReadFile → jsonschema.Validate → json.Decode with
// DisallowUnknownFields).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clustercockpit/cc-edge-agent/pkg/log"
)

// NatsConfig is the subset of internal/sender.NatsConfig exposed through
// the top-level config file.
type NatsConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"creds-file-path,omitempty"`
	Topic         string `json:"topic"`
	MaxSendSize   int    `json:"max-send-size,omitempty"`
}

// S3Config mirrors internal/sender.S3Config.
type S3Config struct {
	Endpoint     string `json:"endpoint,omitempty"`
	Bucket       string `json:"bucket"`
	KeyPrefix    string `json:"key-prefix,omitempty"`
	AccessKey    string `json:"access-key,omitempty"`
	SecretKey    string `json:"secret-key,omitempty"`
	Region       string `json:"region,omitempty"`
	UsePathStyle bool   `json:"use-path-style,omitempty"`
	MaxSendSize  int    `json:"max-send-size,omitempty"`
}

// TransportConfig selects exactly one of Nats or S3 as the sender's
// upload transport.
type TransportConfig struct {
	Nats *NatsConfig `json:"nats,omitempty"`
	S3   *S3Config   `json:"s3,omitempty"`
}

// CloudAuthConfig mirrors internal/cloudauth.Config.
type CloudAuthConfig struct {
	IssuerURL    string   `json:"issuer-url"`
	ClientID     string   `json:"client-id"`
	ClientSecret string   `json:"client-secret"`
	TokenURL     string   `json:"token-url"`
	Scopes       []string `json:"scopes,omitempty"`
}

// RateLimiterConfig seeds the token bucket (spec §4.A). InitialTokens is
// accepted but not read: ratelimiter.New always starts the bucket full.
type RateLimiterConfig struct {
	MaxTokens            uint32 `json:"max-tokens"`
	TokensPerSecond      uint32 `json:"tokens-per-second"`
	InitialTokens        uint32 `json:"initial-tokens,omitempty"`
}

// PersistenceConfig controls the Cache-and-Persist store (spec §6).
type PersistenceConfig struct {
	Root        string `json:"root"`
	MaxBytes    int64  `json:"max-bytes"`
	MaxReadSize int64  `json:"max-read-size"`
}

// SchemeManagerConfig controls polling/verification for manifests and
// collection schemes (spec §4.I).
type SchemeManagerConfig struct {
	TickInterval    string `json:"tick-interval"`
	VerifyPublicKey string `json:"verify-public-key-path,omitempty"`
}

// DiagnosticsConfig controls the /healthz + /metrics HTTP surface.
// GopsAddr is accepted but not read: the gops agent is started by the
// -gops flag with its default options.
type DiagnosticsConfig struct {
	Addr     string `json:"addr"`
	GopsAddr string `json:"gops-addr,omitempty"`
}

// Config is the edge agent's root configuration.
type Config struct {
	DeviceID      string              `json:"device-id"`
	LogLevel      string              `json:"log-level,omitempty"`
	Persistence   PersistenceConfig   `json:"persistence"`
	RateLimiter   RateLimiterConfig   `json:"rate-limiter"`
	SchemeManager SchemeManagerConfig `json:"scheme-manager"`
	Transport     TransportConfig     `json:"transport"`
	CloudAuth     *CloudAuthConfig    `json:"cloud-auth,omitempty"`
	Diagnostics   DiagnosticsConfig   `json:"diagnostics"`
	IdleTime      string              `json:"forwarder-idle-time,omitempty"`
	User          string              `json:"user,omitempty"`
	Group         string              `json:"group,omitempty"`
}

// Keys holds the process-wide configuration loaded via Init, following the
// teacher's package-level Keys convention.
var Keys = Config{
	LogLevel: "info",
	Persistence: PersistenceConfig{
		Root:        "./var/edge-agent",
		MaxBytes:    64 << 20,
		MaxReadSize: 8 << 20,
	},
	RateLimiter: RateLimiterConfig{
		MaxTokens:       100,
		TokensPerSecond: 10,
	},
	SchemeManager: SchemeManagerConfig{
		TickInterval: "1s",
	},
	Diagnostics: DiagnosticsConfig{
		Addr: ":8088",
	},
	IdleTime: "100ms",
}

var configLog = log.WithComponent("config")

// Init reads flagConfigFile, validates it against Schema, and decodes it
// into Keys. A missing file is not an error: Keys keeps its defaults.
func Init(flagConfigFile string) error {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			configLog.Warnf("no config file at %q, using defaults", flagConfigFile)
			return nil
		}
		return fmt.Errorf("config: read %q: %w", flagConfigFile, err)
	}

	if err := Validate(Schema, raw); err != nil {
		return fmt.Errorf("config: validate %q: %w", flagConfigFile, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return fmt.Errorf("config: decode %q: %w", flagConfigFile, err)
	}

	if Keys.DeviceID == "" {
		return fmt.Errorf("config: device-id is required")
	}
	if Keys.Transport.Nats == nil && Keys.Transport.S3 == nil {
		return fmt.Errorf("config: transport requires exactly one of nats or s3")
	}
	if Keys.Transport.Nats != nil && Keys.Transport.S3 != nil {
		return fmt.Errorf("config: transport must not set both nats and s3")
	}

	return nil
}
