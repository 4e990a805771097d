package main

import (
	"errors"
	"flag"
	"testing"
)

func TestInvalidateRefusesPrivateCache(t *testing.T) {
	t.Setenv("DATA_BACKEND", "memory")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("INVALIDATION_MODE", "direct")
	t.Setenv("LOG_LEVEL", "error")

	err := runInvalidate([]string{"-user", "u", "-month", "2025-01"})
	if !errors.Is(err, errPrivateCache) {
		t.Errorf("err = %v, want errPrivateCache", err)
	}
}

func TestListWithPrivateCache(t *testing.T) {
	t.Setenv("DATA_BACKEND", "memory")
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("INVALIDATION_MODE", "direct")
	t.Setenv("LOG_LEVEL", "error")

	if err := runList([]string{"-user", "u", "-month", "2025-01", "-mode", "billing"}); err != nil {
		t.Errorf("list: %v", err)
	}
}

func TestPeriodFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"valid", []string{"-user", "u", "-month", "2025-03"}, false},
		{"billing mode", []string{"-user", "u", "-month", "2025-03", "-mode", "billing"}, false},
		{"missing user", []string{"-month", "2025-03"}, true},
		{"bad month", []string{"-user", "u", "-month", "2025-13"}, true},
		{"bad mode", []string{"-user", "u", "-month", "2025-03", "-mode", "weekly"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			period := addPeriodFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			_, month, _, err := period.parse()
			if (err != nil) != tt.wantErr {
				t.Fatalf("parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && month.String() != "2025-03" {
				t.Errorf("month = %s", month)
			}
		})
	}
}
