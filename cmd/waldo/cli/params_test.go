// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

type bindTestParams struct {
	JSONOutput
	Config  string        `flag:"config,c" desc:"config file path"`
	Thread  string        `flag:"thread" desc:"filter by thread" default:"all"`
	Limit   int           `flag:"limit" desc:"maximum entries" default:"20"`
	Follow  bool          `flag:"follow" desc:"keep watching"`
	Timeout time.Duration `flag:"timeout" desc:"request timeout" default:"30s"`

	// Untagged fields must be skipped by the binder.
	internal string
}

func TestBindFlagsDefaults(t *testing.T) {
	var params bindTestParams
	flagSet := FlagsFromParams("test", &params)

	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if params.Thread != "all" {
		t.Errorf("Thread = %q, want default %q", params.Thread, "all")
	}
	if params.Limit != 20 {
		t.Errorf("Limit = %d, want default 20", params.Limit)
	}
	if params.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want default 30s", params.Timeout)
	}
	if params.Follow || params.OutputJSON {
		t.Error("bool fields should default to false")
	}
}

func TestBindFlagsParsesValues(t *testing.T) {
	var params bindTestParams
	flagSet := FlagsFromParams("test", &params)

	args := []string{
		"-c", "/tmp/waldo.yaml",
		"--thread", "1726000000.000100",
		"--limit", "5",
		"--follow",
		"--timeout", "1m",
		"--json",
	}
	if err := flagSet.Parse(args); err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if params.Config != "/tmp/waldo.yaml" {
		t.Errorf("Config = %q (shorthand -c should bind)", params.Config)
	}
	if params.Thread != "1726000000.000100" {
		t.Errorf("Thread = %q", params.Thread)
	}
	if params.Limit != 5 {
		t.Errorf("Limit = %d, want 5", params.Limit)
	}
	if !params.Follow {
		t.Error("Follow = false, want true")
	}
	if params.Timeout != time.Minute {
		t.Errorf("Timeout = %v, want 1m", params.Timeout)
	}
	if !params.OutputJSON {
		t.Error("OutputJSON = false, want true (embedded JSONOutput)")
	}
}

func TestBindFlagsRejectsNonPointer(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	err := BindFlags(bindTestParams{}, flagSet)
	if err == nil {
		t.Fatal("BindFlags(non-pointer) = nil, want error")
	}
	if !strings.Contains(err.Error(), "pointer to a struct") {
		t.Errorf("error = %q, want mention of pointer to a struct", err.Error())
	}
}

func TestBindFlagsRejectsUnsupportedType(t *testing.T) {
	var params struct {
		Ratio float64 `flag:"ratio" desc:"unsupported"`
	}
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	err := BindFlags(&params, flagSet)
	if err == nil {
		t.Fatal("BindFlags() = nil, want error for float64 field")
	}
	if !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("error = %q, want 'unsupported type'", err.Error())
	}
}

func TestBindFlagsRejectsBadDefault(t *testing.T) {
	var params struct {
		Limit int `flag:"limit" default:"twenty"`
	}
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&params, flagSet); err == nil {
		t.Fatal("BindFlags() = nil, want error for unparseable default")
	}
}

func TestFlagsFromParamsPanicsOnBadStruct(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("FlagsFromParams did not panic on a malformed params struct")
		}
	}()
	var params struct {
		Ratio float64 `flag:"ratio"`
	}
	FlagsFromParams("test", &params)
}

func TestEmitJSONDisabled(t *testing.T) {
	var output JSONOutput
	done, err := output.EmitJSON([]string{"a"})
	if done || err != nil {
		t.Errorf("EmitJSON without --json = (%v, %v), want (false, nil)", done, err)
	}
}

func TestNormalizeNilSlice(t *testing.T) {
	var entries []string
	normalized := normalizeNilSlice(entries)
	slice, ok := normalized.([]string)
	if !ok {
		t.Fatalf("normalized type = %T, want []string", normalized)
	}
	if slice == nil {
		t.Error("normalized slice is still nil")
	}

	// Non-slice values pass through untouched.
	if got := normalizeNilSlice(42); got != 42 {
		t.Errorf("normalizeNilSlice(42) = %v, want 42", got)
	}
}
