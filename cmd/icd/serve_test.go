package main

import (
	"testing"

	"github.com/didirc/icd/internal/logger"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.Level
	}{
		{"debug", logger.DebugLevel},
		{"warn", logger.WarnLevel},
		{"error", logger.ErrorLevel},
		{"info", logger.InfoLevel},
		{"", logger.InfoLevel},
		{"nonsense", logger.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseLevel(tt.in); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
