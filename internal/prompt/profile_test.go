package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func testTarget() Target {
	return Target{
		Name:            "robin",
		Root:            "sys0",
		DECnetArea:      1,
		DECnetNumber:    13,
		Domain:          "xile.realm",
		GatewayAddress:  "192.168.0.201",
		GatewayHostname: "wap.xile.realm",
		BindServer:      "eagle.xile.realm",
		BindAddress:     "192.168.0.2",
		Password:        "s3cret",
	}
}

func TestBuiltinProfiles_Listed(t *testing.T) {
	got := BuiltinProfiles()
	if !slices.Equal(got, []string{"community", "v922"}) {
		t.Fatalf("unexpected builtin profiles: %#v", got)
	}
}

func TestLoadProfile_UnknownName(t *testing.T) {
	_, err := LoadProfile("vax-780")
	if !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
}

func TestCompile_CommunityActionCounts(t *testing.T) {
	p, err := LoadProfile("community")
	if err != nil {
		t.Fatalf("load community failed: %v", err)
	}
	table, err := Compile(p, testTarget())
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	want := map[string]int{
		"ESC":          2,
		"BOOTMGR":      6,
		"SYSBOOT":      5,
		"DOLLAR":       15,
		"UAF":          2,
		"INTSET":       3,
		"USERNAME":     5,
		"PASSWORD":     3,
		"TCPIP_CONFIG": 17,
		"DECNET_LOCAL": 1,
	}
	for name, n := range want {
		if got := len(table.Actions(name)); got != n {
			t.Fatalf("%s: expected %d actions, got %d", name, n, got)
		}
	}
	if table.Len() != 36 {
		t.Fatalf("expected 36 rules, got %d", table.Len())
	}
	if len(table.Names()) != 33 {
		t.Fatalf("expected 33 distinct names, got %d", len(table.Names()))
	}
	if names := table.Names(); names[0] != "ESC" || names[1] != "BOOTMGR" || names[2] != "SYSBOOT" {
		t.Fatalf("unexpected leading names: %#v", names[:3])
	}
}

func TestCompile_CommunityRendersTargetValues(t *testing.T) {
	p, err := LoadProfile("community")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	table, err := Compile(p, testTarget())
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	dollar := table.Actions("DOLLAR")
	if string(dollar[5]) != `write mpd "SCSNODE="""robin""` {
		t.Fatalf("unexpected SCSNODE line: %q", dollar[5])
	}
	if string(dollar[6]) != `write mpd "SCSSYSTEMID="1037` {
		t.Fatalf("unexpected SCSSYSTEMID line: %q", dollar[6])
	}
	if string(table.Actions("UAF")[0]) != `MODIFY SYSTEM/NOPWDEXP/NOPWDLIFE/PASS="s3cret"` {
		t.Fatalf("unexpected UAF line: %q", table.Actions("UAF")[0])
	}
	if string(table.Actions("ESC")[0]) != "\x1b" {
		t.Fatalf("unexpected ESC action: %q", table.Actions("ESC")[0])
	}
	patterns := map[string][]string{}
	for _, r := range table.Rules() {
		patterns[r.Name] = append(patterns[r.Name], r.Pattern)
	}
	if !slices.Equal(patterns["DOLLAR"], []string{"\r\n\x00$ ", "\r\x00$ "}) {
		t.Fatalf("unexpected DOLLAR patterns: %q", patterns["DOLLAR"])
	}
	if !slices.Equal(patterns["DECNET_SYNONYM"], []string{"[ROBIN] : "}) {
		t.Fatalf("unexpected synonym pattern: %q", patterns["DECNET_SYNONYM"])
	}
	if !slices.Equal(patterns["DECNET_PHASE4"], []string{" [1.13] : "}) {
		t.Fatalf("unexpected phase iv pattern: %q", patterns["DECNET_PHASE4"])
	}
	if string(table.Terminator()) != "\r" {
		t.Fatalf("unexpected terminator: %q", table.Terminator())
	}
}

func TestCompile_CommunityPolicies(t *testing.T) {
	p, _ := LoadProfile("community")
	table, err := Compile(p, testTarget())
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	intset := table.Policy("INTSET")
	if intset.Arms != "reboot" || intset.ResendAfter != 10*time.Second {
		t.Fatalf("unexpected INTSET policy: %+v", intset)
	}
	if table.Policy("USERNAME").Gate != "reboot" {
		t.Fatalf("USERNAME should be gated on reboot: %+v", table.Policy("USERNAME"))
	}
	if !slices.Equal(table.Flags(), []string{"reboot"}) {
		t.Fatalf("unexpected flags: %#v", table.Flags())
	}
}

func TestCompile_V922(t *testing.T) {
	p, err := LoadProfile("v922")
	if err != nil {
		t.Fatalf("load v922 failed: %v", err)
	}
	table, err := Compile(p, testTarget())
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if len(table.Actions("DOLLAR")) != 14 || len(table.Actions("ESC")) != 1 {
		t.Fatalf("unexpected v922 action counts: dollar=%d esc=%d", len(table.Actions("DOLLAR")), len(table.Actions("ESC")))
	}
	if table.Policy("USERNAME").Gate != "" {
		t.Fatalf("v922 USERNAME must not be gated")
	}
	if table.Policy("INTSET").ResendAfter != 10*time.Second {
		t.Fatalf("unexpected INTSET policy: %+v", table.Policy("INTSET"))
	}
	if len(table.Flags()) != 0 {
		t.Fatalf("v922 should declare no flags: %#v", table.Flags())
	}
}

func TestProfile_ReferencesPassword(t *testing.T) {
	p, _ := LoadProfile("v922")
	if !p.References("password") {
		t.Fatal("v922 uses the password")
	}
	if p.References("gateway_address") {
		t.Fatal("v922 does not configure TCP/IP")
	}
}

func TestCompile_MissingVariableFails(t *testing.T) {
	p, err := ParseProfile([]byte(`
name = "x"
[[rule]]
pattern = "Login: "
name = "LOGIN"
actions = ["{{.nope}}"]
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := Compile(p, testTarget()); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestParseProfile_RejectsUnknownFields(t *testing.T) {
	_, err := ParseProfile([]byte(`
name = "x"
[[rule]]
pattern = "a"
name = "A"
actions = ["b"]
regex = true
`))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseProfile_BadResendDuration(t *testing.T) {
	p, err := ParseProfile([]byte(`
[[rule]]
pattern = "a"
name = "A"
actions = ["b"]
resend_after = "soon"
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := Compile(p, Target{}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestLoadProfileFile_NameFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "lab.toml")
	body := "terminator = \"\\n\"\n" + "[[rule]]\npattern = \"ok> \"\nname = \"OK\"\nactions = [\"go\"]\n"
	if err := os.WriteFile(file, []byte(body), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	p, err := LoadProfileFile(file)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if p.Name != "lab" {
		t.Fatalf("expected name from file, got %q", p.Name)
	}
	table, err := Compile(p, Target{})
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if string(table.Terminator()) != "\n" {
		t.Fatalf("unexpected terminator: %q", table.Terminator())
	}
}
