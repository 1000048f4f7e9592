package command

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"autoconsole/internal/application"
	"autoconsole/internal/config"
	"autoconsole/internal/prompt"
	"autoconsole/internal/runlog"
	"autoconsole/internal/session"
)

func init() {
	color.NoColor = true
}

func testTarget(config.Config) (prompt.Target, error) {
	return prompt.Target{Name: "robin", Root: "sys0", DECnetArea: 1, DECnetNumber: 13, Password: "hunter2"}, nil
}

func TestBuildApp_DefaultCommandRunsConsole(t *testing.T) {
	var got config.Config
	calls := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{Profile: "community", Domain: "robin", Transport: "tmux"}
		},
		LoadTarget: testTarget,
		RunConsole: func(_ context.Context, cfg config.Config, target prompt.Target) error {
			calls++
			got = cfg
			if target.Password != "hunter2" {
				t.Fatalf("target not passed through: %+v", target)
			}
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"autoconsole"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if calls != 1 || got.Profile != "community" || got.Domain != "robin" {
		t.Fatalf("unexpected run: calls=%d cfg=%+v", calls, got)
	}
}

func TestBuildApp_RunFlagsOverrideConfig(t *testing.T) {
	var got config.Config
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{Profile: "community", ProfileFile: "/etc/old.toml", Domain: "robin", Transport: "tmux"}
		},
		LoadTarget: testTarget,
		RunConsole: func(_ context.Context, cfg config.Config, _ prompt.Target) error {
			got = cfg
			return nil
		},
	})
	args := []string{"autoconsole", "run", "--profile", "v922", "--domain", "sparrow", "--transport", "WebSocket", "--ws-url", "ws://h/c", "--no-virsh"}
	if err := app.RunContext(context.Background(), args); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got.Profile != "v922" || got.ProfileFile != "" {
		t.Fatalf("--profile should win over the environment file: %+v", got)
	}
	if got.Domain != "sparrow" || got.Transport != "websocket" || got.WSURL != "ws://h/c" || !got.SkipDomain {
		t.Fatalf("unexpected overrides: %+v", got)
	}
}

func TestBuildApp_RunWithoutRunner(t *testing.T) {
	app := BuildApp(Deps{LoadConfig: func() config.Config { return config.Config{} }, LoadTarget: testTarget})
	if err := app.RunContext(context.Background(), []string{"autoconsole", "run"}); err == nil {
		t.Fatal("expected error when no console runner is configured")
	}
}

func TestBuildApp_ProfilesListAndShow(t *testing.T) {
	var out bytes.Buffer
	deps := Deps{LoadConfig: func() config.Config { return config.Config{} }, LoadTarget: testTarget, Out: &out}

	if err := BuildApp(deps).RunContext(context.Background(), []string{"autoconsole", "profiles", "list"}); err != nil {
		t.Fatalf("profiles list failed: %v", err)
	}
	if !strings.Contains(out.String(), "community") || !strings.Contains(out.String(), "v922") {
		t.Fatalf("expected both built-in profiles, got:\n%s", out.String())
	}

	out.Reset()
	if err := BuildApp(deps).RunContext(context.Background(), []string{"autoconsole", "profiles", "show", "community"}); err != nil {
		t.Fatalf("profiles show failed: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "profile community: 36 rules, 33 prompt names") {
		t.Fatalf("unexpected header:\n%s", text)
	}
	if strings.Contains(text, "hunter2") || !strings.Contains(text, "********") {
		t.Fatalf("password should be masked:\n%s", text)
	}
	if !strings.Contains(text, "gate=reboot") || !strings.Contains(text, "arms=reboot resend=10s") {
		t.Fatalf("policies should be shown:\n%s", text)
	}
}

func TestBuildApp_ReplayRequiresFile(t *testing.T) {
	app := BuildApp(Deps{LoadConfig: func() config.Config { return config.Config{} }, LoadTarget: testTarget})
	if err := app.RunContext(context.Background(), []string{"autoconsole", "replay"}); err == nil {
		t.Fatal("expected error without a transcript file")
	}
}

func TestBuildApp_ReplayPassesProfileAndFile(t *testing.T) {
	var out bytes.Buffer
	var gotCfg config.Config
	var gotFile string
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{Profile: "community"} },
		LoadTarget: testTarget,
		RunReplay: func(_ context.Context, cfg config.Config, _ prompt.Target, file string) (application.ReplayResult, error) {
			gotCfg, gotFile = cfg, file
			return application.ReplayResult{Sends: 4, Snapshot: session.Snapshot{Pending: "Username"}}, nil
		},
		Out: &out,
	})
	if err := app.RunContext(context.Background(), []string{"autoconsole", "replay", "--profile", "v922", "boot.log"}); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if gotCfg.Profile != "v922" || gotFile != "boot.log" {
		t.Fatalf("unexpected replay request: %+v %q", gotCfg, gotFile)
	}
	if !strings.Contains(out.String(), "4 responses") || !strings.Contains(out.String(), "8 bytes of unmatched output") {
		t.Fatalf("unexpected summary: %q", out.String())
	}
}

func TestBuildApp_RunsListAndShow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "autoconsole.db")
	st, err := runlog.Open(dbPath, nil)
	if err != nil {
		t.Fatalf("open run log: %v", err)
	}
	ctx := context.Background()
	runID, _ := st.Begin(ctx, runlog.RunInfo{Profile: "community", Domain: "robin", Transport: "tmux"})
	st.Recorder(runID).Record(ctx, session.Event{Kind: session.EventSend, Rule: "BOOTMGR", Cursor: 0, Total: 6, Payload: []byte("AUTO BOOT\r")})
	_ = st.Finish(ctx, runID, errors.New("console gone"))
	_ = st.Close()

	var out bytes.Buffer
	deps := Deps{LoadConfig: func() config.Config { return config.Config{DBPath: dbPath} }, Out: &out}

	if err := BuildApp(deps).RunContext(ctx, []string{"autoconsole", "runs", "list", "--limit", "5"}); err != nil {
		t.Fatalf("runs list failed: %v", err)
	}
	if !strings.Contains(out.String(), runID) || !strings.Contains(out.String(), "failed") {
		t.Fatalf("unexpected runs list:\n%s", out.String())
	}

	out.Reset()
	if err := BuildApp(deps).RunContext(ctx, []string{"autoconsole", "runs", "show", runID}); err != nil {
		t.Fatalf("runs show failed: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "error: console gone") || !strings.Contains(text, `"AUTO BOOT\r"`) || !strings.Contains(text, "1/6") {
		t.Fatalf("unexpected run detail:\n%s", text)
	}

	if err := BuildApp(deps).RunContext(ctx, []string{"autoconsole", "runs", "show", "missing"}); err == nil {
		t.Fatal("expected error for an unknown run")
	}
}

func TestBuildApp_TargetInitAndShow(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	deps := Deps{LoadConfig: func() config.Config { return config.Config{ConfigDir: dir} }, Out: &out}
	ctx := context.Background()

	args := []string{"autoconsole", "target", "init", "--name", "Hawk", "--area", "2", "--number", "7"}
	if err := BuildApp(deps).RunContext(ctx, args); err != nil {
		t.Fatalf("target init failed: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, filepath.Join(dir, "target.toml")) || !strings.Contains(text, "2.7 (scssystemid 2055)") {
		t.Fatalf("unexpected init output:\n%s", text)
	}

	out.Reset()
	if err := BuildApp(deps).RunContext(ctx, []string{"autoconsole", "target", "show"}); err != nil {
		t.Fatalf("target show failed: %v", err)
	}
	if !strings.Contains(out.String(), "hawk") || !strings.Contains(out.String(), "sys0") {
		t.Fatalf("unexpected show output:\n%s", out.String())
	}

	err := BuildApp(deps).RunContext(ctx, []string{"autoconsole", "target", "init", "--area", "70"})
	if err == nil || !strings.Contains(err.Error(), "decnet area 70 out of range") {
		t.Fatalf("expected range error, got %v", err)
	}
	out.Reset()
	_ = BuildApp(deps).RunContext(ctx, []string{"autoconsole", "target", "show"})
	if !strings.Contains(out.String(), "2.7") {
		t.Fatalf("rejected init must keep the previous file:\n%s", out.String())
	}
}
