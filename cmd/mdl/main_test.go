package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mdl/internal/config"
	"mdl/internal/momentos"
	"mdl/internal/services"
	"mdl/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	fake       *testsupport.FakeMomentos
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	fake := testsupport.NewFakeMomentos(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithBaseURL(fake.URL())}, opts...)...)
	cfg.Logging.Level = "error"

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, fake: fake, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func login(t *testing.T, env *cliTestEnv) {
	t.Helper()
	out, _, err := runCLI(t, env.configPath, testsupport.FakePassword+"\n", "login", testsupport.FakeEmail)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	requireContains(t, out, "Logged in as "+testsupport.FakeEmail)
}

func TestLoginListDownloadHistoryLogout(t *testing.T) {
	env := setupCLITestEnv(t)
	env.fake.AddGroup("g1", "Team",
		testsupport.FakeEvent{
			ID: "e1", Title: "Intro, Part 1", Published: true,
			Phrases:   []momentos.Phrase{{ID: "p1", Text: "Hello", Start: 0, End: 1.5}},
			Recording: testsupport.Payload(4096),
		},
		testsupport.FakeEvent{ID: "e2", Title: "Pending"},
	)
	env.fake.AddGroup("g2", "Family")

	login(t, env)
	info, err := os.Stat(env.cfg.Paths.CredentialsFile)
	if err != nil {
		t.Fatalf("credentials file missing: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("credentials permissions = %o", info.Mode().Perm())
	}

	out, _, err := runCLI(t, env.configPath, "", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if out != "g1 'Team'\ng2 'Family'\n" {
		t.Fatalf("list output = %q", out)
	}

	out, _, err = runCLI(t, env.configPath, "", "list", "--table")
	if err != nil {
		t.Fatalf("list --table: %v", err)
	}
	requireContains(t, out, "Family")

	out, _, err = runCLI(t, env.configPath, "", "download", "g1")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	requireContains(t, out, "processing group g1 ...")
	requireContains(t, out, "downloading event e1")
	requireContains(t, out, "done with e1")
	requireContains(t, out, "done with e2")
	requireContains(t, out, "2 files written")

	groupDir := filepath.Join(env.cfg.Download.OutputDir, "g1")
	index, err := os.ReadFile(filepath.Join(groupDir, "index.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(index) != "ID,Title,Published\ne1,Intro, Part 1,true\ne2,Pending,false\n" {
		t.Fatalf("index = %q", index)
	}
	transcript, err := os.ReadFile(filepath.Join(groupDir, "e1.vtt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(transcript) != "WEBVTT\n\n00:00:00.000 --> 00:00:01.500\nHello\n\n" {
		t.Fatalf("transcript = %q", transcript)
	}
	recording, err := os.ReadFile(filepath.Join(groupDir, "e1.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(recording, testsupport.Payload(4096)) {
		t.Fatal("recording bytes differ")
	}
	for _, name := range []string{"e2.vtt", "e2.mp4"} {
		if _, err := os.Stat(filepath.Join(groupDir, name)); !os.IsNotExist(err) {
			t.Fatalf("unexpected file %s", name)
		}
	}

	out, _, err = runCLI(t, env.configPath, "", "history", "--limit", "10")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "recording")
	requireContains(t, out, "transcript")

	out, _, err = runCLI(t, env.configPath, "", "logout")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	requireContains(t, out, "Logged out")

	_, _, err = runCLI(t, env.configPath, "", "list")
	if !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected ErrAuth after logout, got %v", err)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, env.configPath, "wrong\n", "login", testsupport.FakeEmail)
	if !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if _, err := os.Stat(env.cfg.Paths.CredentialsFile); !os.IsNotExist(err) {
		t.Fatal("credentials should not be written after a failed login")
	}
}

func TestLoginRequiresPassword(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, env.configPath, "", "login", testsupport.FakeEmail); err == nil {
		t.Fatal("expected error for empty stdin")
	}
}

func TestDownloadWithoutCredentials(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, env.configPath, "", "download", "g1")
	if !errors.Is(err, services.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if len(env.fake.Requests()) != 0 {
		t.Fatalf("expected no requests, got %v", env.fake.Requests())
	}
}

func TestDownloadReportsFailedGroup(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithoutHistory())
	env.fake.AddGroup("g1", "Broken", testsupport.FakeEvent{ID: "e1"})
	env.fake.AddGroup("g2", "Fine", testsupport.FakeEvent{ID: "e2", Recording: testsupport.Payload(10)})
	env.fake.FailListing("g1", http.StatusBadGateway)
	login(t, env)

	altOut := filepath.Join(testsupport.BaseDir(env.cfg), "alt")
	out, _, err := runCLI(t, env.configPath, "", "download", "-o", altOut, "-j", "2", "--no-atomic", "g1", "g2")
	if !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	requireContains(t, out, "group g1 failed")
	requireContains(t, out, "done with e2")
	if _, err := os.Stat(filepath.Join(altOut, "g2", "e2.mp4")); err != nil {
		t.Fatalf("expected g2 recording under --output: %v", err)
	}
}

func TestDownloadEventFailureStillSucceeds(t *testing.T) {
	env := setupCLITestEnv(t)
	env.fake.AddGroup("g1", "Team",
		testsupport.FakeEvent{ID: "e1", Recording: testsupport.Payload(10)},
		testsupport.FakeEvent{ID: "e2", Recording: testsupport.Payload(10)},
	)
	env.fake.FailEvent("e2", http.StatusInternalServerError)
	login(t, env)

	out, _, err := runCLI(t, env.configPath, "", "download", "g1")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	requireContains(t, out, "failed e2")
	requireContains(t, out, "1 events failed")
}

func TestDownloadPublishesNotification(t *testing.T) {
	env := setupCLITestEnv(t)
	env.fake.AddGroup("g1", "Team", testsupport.FakeEvent{ID: "e1", Recording: testsupport.Payload(10)})

	var mu sync.Mutex
	var titles, bodies []string
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		titles = append(titles, r.Header.Get("Title"))
		bodies = append(bodies, string(body))
		mu.Unlock()
	}))
	defer ntfy.Close()
	env.cfg.Notifications.NtfyTopic = ntfy.URL
	writeTestConfig(t, env.configPath, env.cfg)
	login(t, env)

	if _, _, err := runCLI(t, env.configPath, "", "download", "g1"); err != nil {
		t.Fatalf("download: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(titles) != 1 || titles[0] != "mdl - Download Complete" {
		t.Fatalf("unexpected notifications %v", titles)
	}
	requireContains(t, bodies[0], "1 files (10 B) from 1 group")

	out, _, err := runCLI(t, env.configPath, "", "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Test notification sent")
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env.configPath, "", "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "Notification not sent")
}

func TestLogsFiltersByEvent(t *testing.T) {
	env := setupCLITestEnv(t)
	content := "2026-01-01T00:00:00Z INFO download: event started group_id=g1 event_id=e1\n" +
		"2026-01-01T00:00:01Z INFO download: event started group_id=g1 event_id=e2\n" +
		"2026-01-01T00:00:02Z WARN download: transcript failed group_id=g1 event_id=e1\n"
	if err := os.MkdirAll(env.cfg.Paths.StateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.cfg.LogPath(), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, env.configPath, "", "logs", "--event", "e1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Count(out, "\n") != 2 || strings.Contains(out, "event_id=e2") {
		t.Fatalf("unexpected logs output %q", out)
	}

	out, _, err = runCLI(t, env.configPath, "", "logs", "-n", "1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "transcript failed")
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected a single line, got %q", out)
	}
}

func TestHistoryEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, env.configPath, "", "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No downloads recorded")
}

func TestDoctorListsChecks(t *testing.T) {
	env := setupCLITestEnv(t)
	login(t, env)
	out, _, _ := runCLI(t, env.configPath, "", "doctor")
	for _, name := range []string{"Credentials", "Output directory", "Momentos API"} {
		requireContains(t, out, name)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "", "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, env.configPath, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, env.configPath, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when config already exists")
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]column{leftColumn("ID"), rightColumn("Size")}, [][]string{{"e1", "4 kB"}, {"e2"}})
	for _, want := range []string{"ID", "Size", "e1", "4 kB", "e2"} {
		requireContains(t, out, want)
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("expected empty output without columns")
	}
}
