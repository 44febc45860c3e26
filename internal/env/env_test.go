package env

import (
	"os"
	"testing"
	"time"
)

func TestIntFallsBackOnUnset(t *testing.T) {
	os.Unsetenv("ENV_TEST_INT")
	if got := Int("ENV_TEST_INT", 42); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestIntParsesSetValue(t *testing.T) {
	os.Setenv("ENV_TEST_INT2", "7")
	defer os.Unsetenv("ENV_TEST_INT2")
	if got := Int("ENV_TEST_INT2", 42); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestDurationParsesSetValue(t *testing.T) {
	os.Setenv("ENV_TEST_DUR", "45s")
	defer os.Unsetenv("ENV_TEST_DUR")
	if got := Duration("ENV_TEST_DUR", time.Second); got != 45*time.Second {
		t.Fatalf("got %v, want 45s", got)
	}
}
