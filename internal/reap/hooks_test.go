package reap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestHooksRoundtrip(t *testing.T) {
	newTestConfig(t)

	hooks := []Hook{
		{Name: "rebuild-initramfs", Event: HookPostInstall, Script: "mkinitcpio -P", Package: "linux", Blocking: true},
		{Name: "notify", Event: HookPostInstall, Script: "notify-send done"},
	}
	if err := SaveHooks(hooks); err != nil {
		t.Fatalf("SaveHooks: %v", err)
	}
	got, err := LoadHooks()
	if err != nil {
		t.Fatalf("LoadHooks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("%d hooks, want 2", len(got))
	}
	if got[0].Name != "rebuild-initramfs" || !got[0].Blocking || got[0].Package != "linux" {
		t.Errorf("hook = %+v", got[0])
	}
}

func TestLoadHooksMissingFile(t *testing.T) {
	newTestConfig(t)
	hooks, err := LoadHooks()
	if err != nil {
		t.Fatalf("LoadHooks: %v", err)
	}
	if hooks != nil {
		t.Errorf("hooks = %v, want none", hooks)
	}
}

func TestRunHooksFiltersEventAndPackage(t *testing.T) {
	newTestConfig(t)
	marker := filepath.Join(t.TempDir(), "fired")
	wrongMarker := filepath.Join(t.TempDir(), "wrong")

	hooks := []Hook{
		{Name: "match", Event: HookPreInstall, Package: "vim", Script: "touch " + marker},
		{Name: "other-event", Event: HookPostInstall, Script: "touch " + wrongMarker},
		{Name: "other-package", Event: HookPreInstall, Package: "htop", Script: "touch " + wrongMarker},
	}
	if err := SaveHooks(hooks); err != nil {
		t.Fatalf("SaveHooks: %v", err)
	}

	err := RunHooks(context.Background(), HookPreInstall, rec("vim", "9.1", OriginPacman), "tx-1")
	if err != nil {
		t.Fatalf("RunHooks: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("matching hook did not run: %v", err)
	}
	if _, err := os.Stat(wrongMarker); !os.IsNotExist(err) {
		t.Error("non-matching hook ran")
	}
}

func TestRunHooksExposeTransactionID(t *testing.T) {
	newTestConfig(t)
	out := filepath.Join(t.TempDir(), "env")

	hooks := []Hook{
		{Name: "record", Event: HookPostBuild, Script: "echo \"$REAP_TRANSACTION\" > " + out, Blocking: true},
	}
	if err := SaveHooks(hooks); err != nil {
		t.Fatalf("SaveHooks: %v", err)
	}
	if err := RunHooks(context.Background(), HookPostBuild, rec("vim", "9.1", OriginPacman), "tx-abc"); err != nil {
		t.Fatalf("RunHooks: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("hook did not run: %v", err)
	}
	if string(data) != "tx-abc\n" {
		t.Errorf("REAP_TRANSACTION = %q", data)
	}
}

func TestRunHooksBlockingFailure(t *testing.T) {
	newTestConfig(t)
	hooks := []Hook{
		{Name: "gate", Event: HookPreInstall, Script: "exit 3", Blocking: true},
	}
	if err := SaveHooks(hooks); err != nil {
		t.Fatalf("SaveHooks: %v", err)
	}
	if err := RunHooks(context.Background(), HookPreInstall, rec("x", "1.0", OriginAUR), ""); err == nil {
		t.Error("blocking hook failure ignored")
	}
}

func TestRunHooksNonBlockingFailureTolerated(t *testing.T) {
	newTestConfig(t)
	hooks := []Hook{
		{Name: "flaky", Event: HookPreInstall, Script: "exit 1"},
	}
	if err := SaveHooks(hooks); err != nil {
		t.Fatalf("SaveHooks: %v", err)
	}
	if err := RunHooks(context.Background(), HookPreInstall, rec("x", "1.0", OriginAUR), ""); err != nil {
		t.Errorf("non-blocking failure surfaced: %v", err)
	}
}
