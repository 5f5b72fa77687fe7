// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

// Schema is the JSON Schema validated against the config file before
// decoding, following the teacher's configSchema string-literal
// convention in internal/config/schema.go.
const Schema = `
{
  "type": "object",
  "properties": {
    "device-id": {
      "description": "Stable identifier for this vehicle/device; must be non-empty.",
      "type": "string"
    },
    "log-level": {
      "type": "string",
      "enum": ["debug", "info", "warn", "error"]
    },
    "persistence": {
      "type": "object",
      "properties": {
        "root": { "type": "string" },
        "max-bytes": { "type": "integer" },
        "max-read-size": { "type": "integer" }
      },
      "required": ["root", "max-bytes"]
    },
    "rate-limiter": {
      "type": "object",
      "properties": {
        "max-tokens": { "type": "integer" },
        "tokens-per-second": { "type": "integer" },
        "initial-tokens": { "type": "integer" }
      },
      "required": ["max-tokens", "tokens-per-second"]
    },
    "scheme-manager": {
      "type": "object",
      "properties": {
        "tick-interval": { "type": "string" },
        "verify-public-key-path": { "type": "string" }
      },
      "required": ["tick-interval"]
    },
    "transport": {
      "type": "object",
      "properties": {
        "nats": {
          "type": "object",
          "properties": {
            "address": { "type": "string" },
            "username": { "type": "string" },
            "password": { "type": "string" },
            "creds-file-path": { "type": "string" },
            "topic": { "type": "string" },
            "max-send-size": { "type": "integer" }
          },
          "required": ["address", "topic"]
        },
        "s3": {
          "type": "object",
          "properties": {
            "endpoint": { "type": "string" },
            "bucket": { "type": "string" },
            "key-prefix": { "type": "string" },
            "access-key": { "type": "string" },
            "secret-key": { "type": "string" },
            "region": { "type": "string" },
            "use-path-style": { "type": "boolean" },
            "max-send-size": { "type": "integer" }
          },
          "required": ["bucket"]
        }
      }
    },
    "cloud-auth": {
      "type": "object",
      "properties": {
        "issuer-url": { "type": "string" },
        "client-id": { "type": "string" },
        "client-secret": { "type": "string" },
        "token-url": { "type": "string" },
        "scopes": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "required": ["issuer-url", "client-id", "token-url"]
    },
    "diagnostics": {
      "type": "object",
      "properties": {
        "addr": { "type": "string" },
        "gops-addr": { "type": "string" }
      },
      "required": ["addr"]
    },
    "forwarder-idle-time": { "type": "string" },
    "user": { "type": "string" },
    "group": { "type": "string" }
  },
  "required": ["device-id", "persistence", "rate-limiter", "scheme-manager", "transport", "diagnostics"]
}`
