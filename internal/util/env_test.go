package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("TEST_BOOL", "")
	if !ParseBoolEnv("TEST_BOOL", true) {
		t.Error("empty value should use default")
	}
	t.Setenv("TEST_BOOL", "yes")
	if !ParseBoolEnv("TEST_BOOL", false) {
		t.Error("yes should parse true")
	}
	t.Setenv("TEST_BOOL", "off")
	if ParseBoolEnv("TEST_BOOL", true) {
		t.Error("off should parse false")
	}
	t.Setenv("TEST_BOOL", "banana")
	if !ParseBoolEnv("TEST_BOOL", true) {
		t.Error("invalid value should use default")
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.72")
	if got := ParseFloatEnv("TEST_FLOAT", 0.5); got != 0.72 {
		t.Errorf("got %v", got)
	}
	t.Setenv("TEST_FLOAT", "nope")
	if got := ParseFloatEnv("TEST_FLOAT", 0.5); got != 0.5 {
		t.Errorf("invalid value should use default, got %v", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR", "4m")
	if got := ParseDurationEnv("TEST_DUR", time.Minute); got != 4*time.Minute {
		t.Errorf("got %v", got)
	}
	t.Setenv("TEST_DUR", "")
	if got := ParseDurationEnv("TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("empty value should use default, got %v", got)
	}
}
