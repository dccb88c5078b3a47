package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_STR", "hello")
	if got := GetEnv("TEST_STR", "default"); got != "hello" {
		t.Fatalf("expected hello, got %s", got)
	}
	if got := GetEnv("TEST_MISSING", "default"); got != "default" {
		t.Fatalf("expected default, got %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := GetEnvInt("TEST_INT", 1); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("TEST_INT_BAD", "abc")
	if got := GetEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "false")
	if GetEnvBool("TEST_BOOL", true) {
		t.Fatal("expected false")
	}
	if !GetEnvBool("TEST_BOOL_MISSING", true) {
		t.Fatal("expected default true")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "1500ms")
	if got := GetEnvDuration("TEST_DUR", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %v", got)
	}
}

func TestGetEnvDecimal(t *testing.T) {
	t.Setenv("TEST_DEC", "0.15")
	want := decimal.RequireFromString("0.15")
	if got := GetEnvDecimal("TEST_DEC", decimal.Zero); !got.Equal(want) {
		t.Fatalf("expected 0.15, got %s", got)
	}
	t.Setenv("TEST_DEC_BAD", "x.y")
	if got := GetEnvDecimal("TEST_DEC_BAD", want); !got.Equal(want) {
		t.Fatalf("expected fallback 0.15, got %s", got)
	}
}
