package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/c2h5oh/datasize"

	"clipforge/internal/config"
	"clipforge/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("disk", dir, 0); !result.Passed {
		t.Fatalf("expected pass without minimum, got: %s", result.Detail)
	}
	if result := CheckFreeSpace("disk", dir, datasize.EB); result.Passed {
		t.Fatalf("expected failure for impossible minimum, got: %s", result.Detail)
	}
}

func TestCheckRedis_OK(t *testing.T) {
	srv := miniredis.RunT(t)
	result := CheckRedis(context.Background(), config.GPU{RedisAddr: srv.Addr()})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckRedis_Unreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	result := CheckRedis(context.Background(), config.GPU{RedisAddr: addr})
	if result.Passed {
		t.Fatal("expected failure for closed server")
	}
}

func TestCheckRedis_MissingAddr(t *testing.T) {
	if result := CheckRedis(context.Background(), config.GPU{}); result.Passed {
		t.Fatal("expected failure for missing address")
	}
}

func TestRunAll(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := RunAll(context.Background(), cfg)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected all checks to pass, got failures: %#v", failed)
	}
	// Four directories, free space, four tools.
	if len(results) != 9 {
		t.Fatalf("expected 9 results, got %d: %#v", len(results), results)
	}

	cfg.Tools.Whisper = "definitely-missing-whisper"
	cfg.GPU.LockBackend = config.LockBackendRedis
	cfg.GPU.RedisAddr = ""
	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) != 2 {
		t.Fatalf("expected redis and whisper failures, got %#v", failed)
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatalf("expected nil results, got %#v", results)
	}
}
