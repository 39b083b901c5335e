package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"gas/internal/config"
	"gas/internal/messages"
	"gas/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Logging.Format = "json"
	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (env *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := runCLI(t, args, env.configPath)
	if err != nil {
		t.Fatalf("gas %s: %v (stderr %q)", strings.Join(args, " "), err, stderr)
	}
	return out
}

func TestCLIAccountsAndUpgrade(t *testing.T) {
	env := setupCLITestEnv(t)

	env.mustRun(t, "accounts", "add", "U-1", "--name", "Ada", "--email", "ada@example.org")
	out := env.mustRun(t, "accounts", "show", "U-1")
	if !strings.Contains(out, "Ada") || !strings.Contains(out, "ada@example.org") {
		t.Fatalf("accounts show output missing profile: %q", out)
	}

	out = env.mustRun(t, "accounts", "upgrade", "U-1")
	if !strings.Contains(out, "is now premium_user") || !strings.Contains(out, "Restore of archived results requested") {
		t.Fatalf("unexpected upgrade output: %q", out)
	}
	out = env.mustRun(t, "accounts", "upgrade", "U-1")
	if !strings.Contains(out, "already premium_user") {
		t.Fatalf("second upgrade should report no change: %q", out)
	}

	b := testsupport.MustOpenBroker(t, env.cfg)
	delivery := testsupport.MustReceive(t, b, env.cfg.Queues.Restore)
	var upgrade messages.TierUpgrade
	if err := messages.Decode(delivery.Body, &upgrade); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if upgrade.UserID != "U-1" {
		t.Fatalf("upgrade user = %q", upgrade.UserID)
	}

	if _, _, err := runCLI(t, []string{"accounts", "upgrade", "U-missing"}, env.configPath); err == nil {
		t.Fatal("expected upgrade of unknown user to fail")
	}
}

func TestCLISubmitAndInspectJobs(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "sample.vcf")
	testsupport.WriteFile(t, input, testsupport.SampleVCF)

	out := env.mustRun(t, "submit", input, "--user", "U-1", "--job-id", "job-cli")
	if !strings.Contains(out, "Submitted job job-cli") {
		t.Fatalf("unexpected submit output: %q", out)
	}

	b := testsupport.MustOpenBroker(t, env.cfg)
	delivery := testsupport.MustReceive(t, b, env.cfg.Queues.Uploads)
	var upload messages.UploadCompleted
	if err := messages.Decode(delivery.Body, &upload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if upload.Key != "gas/U-1/job-cli~sample.vcf" {
		t.Fatalf("upload key = %q", upload.Key)
	}
	objects := testsupport.MustOpenObjects(t, env.cfg)
	if !testsupport.ObjectExists(t, objects, upload.Bucket, upload.Key) {
		t.Fatal("input was not uploaded")
	}

	// No submitter is running, so the job store is still empty.
	out = env.mustRun(t, "jobs", "list")
	if !strings.Contains(out, "No jobs") {
		t.Fatalf("unexpected jobs list output: %q", out)
	}
	out = env.mustRun(t, "jobs", "stats")
	if !strings.Contains(out, env.cfg.Queues.Uploads) {
		t.Fatalf("stats output missing queues: %q", out)
	}
	if _, _, err := runCLI(t, []string{"jobs", "show", "job-cli"}, env.configPath); err == nil {
		t.Fatal("expected show of unrecorded job to fail")
	}
}

func TestCLIJobsListShowsRecordedJobs(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenStore(t, env.cfg)
	testsupport.MustCreateJob(t, store, "job-1", "U-1", "a.vcf")
	testsupport.MustCreateJob(t, store, "job-2", "U-2", "b.vcf")

	out := env.mustRun(t, "jobs", "list", "--user", "U-1")
	if !strings.Contains(out, "job-1") || strings.Contains(out, "job-2") {
		t.Fatalf("unexpected filtered list: %q", out)
	}
	out = env.mustRun(t, "jobs", "show", "job-2")
	if !strings.Contains(out, "b.vcf") || !strings.Contains(out, "Pending") {
		t.Fatalf("unexpected show output: %q", out)
	}
}

func TestCLIDeadLetterCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()
	b := testsupport.MustOpenBroker(t, env.cfg)
	if _, err := b.Publish(ctx, env.cfg.Queues.Results, []byte(`{"bad":true}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	delivery := testsupport.MustReceive(t, b, env.cfg.Queues.Results)
	if err := b.DeadLetter(ctx, delivery, "validation: missing job_id"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	out := env.mustRun(t, "dlq", "list", env.cfg.Queues.Results)
	if !strings.Contains(out, delivery.ID) || !strings.Contains(out, "missing job_id") {
		t.Fatalf("unexpected dlq list: %q", out)
	}
	out = env.mustRun(t, "dlq", "replay", delivery.ID)
	if !strings.Contains(out, "Replayed "+delivery.ID) {
		t.Fatalf("unexpected replay output: %q", out)
	}
	testsupport.MustReceive(t, b, env.cfg.Queues.Results)

	if _, _, err := runCLI(t, []string{"dlq", "replay", "nope"}, env.configPath); err == nil {
		t.Fatal("expected replay of unknown id to fail")
	}
	out = env.mustRun(t, "dlq", "purge", env.cfg.Queues.Results)
	if !strings.Contains(out, "Purged 0") {
		t.Fatalf("unexpected purge output: %q", out)
	}
}

func TestCLIConfigShowMasksSecrets(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.API.Token = "sekrit"
	data, err := toml.Marshal(env.cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(env.configPath, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out := env.mustRun(t, "config", "show")
	if strings.Contains(out, "sekrit") || !strings.Contains(out, "********") {
		t.Fatalf("token not masked: %q", out)
	}
	out = env.mustRun(t, "config", "validate")
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected validate output: %q", out)
	}
}

func TestCLIConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "gas", "config.toml")
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
}

func TestCLIWorkerRejectsUnknownName(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"worker", "juggler"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown worker") {
		t.Fatalf("err = %v", err)
	}
}
