// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"os"
	"reflect"
)

// JSONOutput adds --json support to a command's parameter struct.
// Embedding it contributes the flag through [BindFlags] and provides
// [JSONOutput.EmitJSON] for conditional machine-readable output.
//
//	type listParams struct {
//	    cli.JSONOutput
//	    Thread string `flag:"thread" desc:"filter by thread"`
//	}
//
//	if done, err := params.EmitJSON(entries); done {
//	    return err
//	}
//	// ... text rendering ...
type JSONOutput struct {
	OutputJSON bool `flag:"json" desc:"output as JSON"`
}

// EmitJSON writes result as indented JSON to stdout when --json was
// given. Returns (true, nil) on success, (true, err) on write failure,
// and (false, nil) when the caller should render text instead. Nil
// slices are emitted as [], never null.
func (j *JSONOutput) EmitJSON(result any) (bool, error) {
	if !j.OutputJSON {
		return false, nil
	}
	return true, WriteJSON(normalizeNilSlice(result))
}

// WriteJSON marshals value as indented JSON to stdout. Prefer
// [JSONOutput.EmitJSON], which also honors the --json flag.
func WriteJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

// normalizeNilSlice substitutes an empty slice for a nil one so the
// JSON output is [] rather than null.
func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}
