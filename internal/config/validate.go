// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks instance against schema, following the teacher's
// CompileString-then-Validate sequence (internal/config/validate.go), but
// returns an error instead of calling log.Fatal: a config load failure in
// the agent must be handled by the caller, not abort the process from a
// library function.
func Validate(schema string, instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("edge-agent-config.json", schema)
	if err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("config: unmarshal instance: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: validate instance: %w", err)
	}
	return nil
}
