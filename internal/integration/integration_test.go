//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/buckleypaul/dutkit/dut"
	"github.com/buckleypaul/dutkit/expect"
	"github.com/buckleypaul/dutkit/harness"
	"github.com/buckleypaul/dutkit/unity"
)

// appPath returns the built ESP-IDF app from the environment, or skips
// the test if it is not set.
func appPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("DUTKIT_APP_PATH")
	if p == "" {
		t.Skip("DUTKIT_APP_PATH not set; skipping integration tests")
	}
	return p
}

// TestIntegrationQemuHelloWorld boots the hello_world example in QEMU and
// waits for its greeting.
func TestIntegrationQemuHelloWorld(t *testing.T) {
	app := appPath(t)

	d := harness.New(t,
		harness.WithServices("idf,qemu"),
		harness.WithDevice(dut.KeyAppPath, app),
		harness.WithOpenOptions(harness.Options{Console: harness.Verbose()}),
	)
	ctx := context.Background()
	if _, err := d.Expect(ctx, "Hello world!", expect.WithTimeout(60*time.Second)); err != nil {
		t.Fatalf("waiting for greeting: %v", err)
	}
	if err := d.HardReset(ctx); err != nil {
		t.Fatalf("hard reset over QMP: %v", err)
	}
	if _, err := d.Expect(ctx, "Hello world!", expect.WithTimeout(60*time.Second)); err != nil {
		t.Fatalf("waiting for greeting after reset: %v", err)
	}
}

// TestIntegrationEspUnityMenu flashes a Unity test app to a board on
// ESPPORT, or an auto-detected one, and runs every single-board case.
func TestIntegrationEspUnityMenu(t *testing.T) {
	app := appPath(t)
	if os.Getenv("DUTKIT_HARDWARE") == "" {
		t.Skip("DUTKIT_HARDWARE not set; skipping hardware tests")
	}

	d := harness.New(t,
		harness.WithServices("esp,idf"),
		harness.WithDevice(dut.KeyAppPath, app),
		harness.WithOpenOptions(harness.Options{Console: harness.Verbose()}),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := d.RunAllSingleBoardCases(ctx, unity.Filter{}, false, unity.RunOptions{Reset: true}); err != nil {
		t.Fatalf("running unity cases: %v", err)
	}
	if d.Suite().Len() == 0 {
		t.Fatal("expected at least one unity case")
	}
}
