package main

import (
	"strings"
	"testing"
	"time"
)

const mainTestPrefix = "cmd/socketd:main_test"

func TestUsage_ContainsCommands(t *testing.T) {
	required := []string{"serve", "migrate", "ensure-db", "failures", "clear", "DATABASE_URL", "COMMS_URL"}
	for _, word := range required {
		if !strings.Contains(usage, word) {
			t.Errorf("%s - usage should contain %q", mainTestPrefix, word)
		}
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		args    []string
		want    int
		wantErr bool
	}{
		{nil, 20, false},
		{[]string{"5"}, 5, false},
		{[]string{"0"}, 0, true},
		{[]string{"abc"}, 0, true},
	}
	for _, tt := range tests {
		got, err := parseLimit(tt.args)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("%s - parseLimit(%v) = %d, %v", mainTestPrefix, tt.args, got, err)
		}
	}
}

func TestParseOlderThan(t *testing.T) {
	tests := []struct {
		args    []string
		want    time.Duration
		wantErr bool
	}{
		{nil, 0, false},
		{[]string{"72h"}, 72 * time.Hour, false},
		{[]string{"-1h"}, 0, true},
		{[]string{"soon"}, 0, true},
	}
	for _, tt := range tests {
		got, err := parseOlderThan(tt.args)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("%s - parseOlderThan(%v) = %v, %v", mainTestPrefix, tt.args, got, err)
		}
	}
}
