package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"clipforge/internal/api"
)

func TestConfigInitAndValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "clipforge", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting an existing file")
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Daemon", "GPU Lock", "memory", "video", "transcription", "COMPLETED"} {
		requireContains(t, out, want)
	}

	out, _, err = runCLI(t, []string{"--json", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status JSON: %v\n%s", err, out)
	}
	if !status.Running || len(status.Workflow.Queues) != 2 {
		t.Fatalf("unexpected status: %#v", status)
	}
}

func TestSubmitWaitReportsFailureAndTaskIsInspectable(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"submit", "https://example.com/clip.mp4", "--user", "alice", "--request-id", "r1", "--wait"}, env.configPath)
	if err == nil {
		t.Fatal("expected waited submission to report the download failure")
	}
	requireContains(t, out, "Task alice:r1: FAILED")
	requireContains(t, err.Error(), "alice:r1 failed")
	if len(env.runner.CallsTo("yt-dlp")) != 1 {
		t.Fatalf("expected one downloader call, got %#v", env.runner.Calls())
	}

	out, _, err = runCLI(t, []string{"tasks", "--user", "alice"}, env.configPath)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	requireContains(t, out, "alice:r1")
	requireContains(t, out, "FAILED")

	out, _, err = runCLI(t, []string{"show", "alice:r1", "--history"}, env.configPath)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Task alice:r1")
	requireContains(t, out, "RUNNING")
	requireContains(t, out, "alice_r1.log")

	out, _, err = runCLI(t, []string{"--json", "tasks", "--status", "FAILED"}, env.configPath)
	if err != nil {
		t.Fatalf("tasks --json: %v", err)
	}
	var tasks []api.Task
	if err := json.Unmarshal([]byte(out), &tasks); err != nil {
		t.Fatalf("decode tasks JSON: %v\n%s", err, out)
	}
	if len(tasks) != 1 || tasks[0].ID != "alice:r1" || tasks[0].ErrorMessage == "" {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}

	out, _, err = runCLI(t, []string{"cancel", "alice:r1"}, env.configPath)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "not queued or running")
}

func TestTranscribeRequiresUser(t *testing.T) {
	env := setupCLITestEnv(t)
	media := filepath.Join(t.TempDir(), "talk.mp4")
	if err := os.WriteFile(media, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := runCLI(t, []string{"transcribe", media}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "user") {
		t.Fatalf("expected missing --user error, got %v", err)
	}
}

func TestUnknownTaskHint(t *testing.T) {
	env := setupCLITestEnv(t)

	for _, args := range [][]string{{"show", "nobody:x"}, {"cancel", "nobody:x"}, {"logs", "nobody:x"}} {
		_, _, err := runCLI(t, args, env.configPath)
		if err == nil {
			t.Fatalf("%v: expected error", args)
		}
		requireContains(t, err.Error(), "owner:request-id")
	}
}

func TestCheckCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "Preflight")
	requireContains(t, out, "Work directory")
	requireContains(t, out, "Whisper")
}

func TestBuildTaskCountRowsOrdersByLifecycle(t *testing.T) {
	rows := buildTaskCountRows(map[string]int{"FAILED": 2, "PENDING": 1, "LEGACY": 4})
	var got []string
	for _, row := range rows {
		got = append(got, row[0]+"="+row[1])
	}
	want := "PENDING=1 RUNNING=0 COMPLETED=0 FAILED=2 LEGACY=4"
	if strings.Join(got, " ") != want {
		t.Fatalf("got %v, want %s", got, want)
	}
}
