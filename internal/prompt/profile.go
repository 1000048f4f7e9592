package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

//go:embed profiles/*.toml
var builtinFS embed.FS

// Profile is the on-disk form of a prompt table. Patterns and actions may
// reference target variables as {{.name}}.
type Profile struct {
	Name        string        `toml:"name"`
	Description string        `toml:"description"`
	Terminator  *string       `toml:"terminator"`
	Rules       []ProfileRule `toml:"rule"`
}

type ProfileRule struct {
	Pattern     string   `toml:"pattern"`
	Name        string   `toml:"name"`
	Actions     []string `toml:"actions"`
	Gate        string   `toml:"gate"`
	Arms        string   `toml:"arms"`
	ResendAfter string   `toml:"resend_after"`
}

func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	p.Name = strings.TrimSpace(p.Name)
	if len(p.Rules) == 0 {
		return nil, fmt.Errorf("%w: profile %q has no rules", ErrInvalidRule, p.Name)
	}
	return &p, nil
}

func LoadProfileFile(file string) (*Profile, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	p, err := ParseProfile(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}
	return p, nil
}

// LoadProfile returns one of the profiles compiled into the binary.
func LoadProfile(name string) (*Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	b, err := builtinFS.ReadFile("profiles/" + name + ".toml")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
		}
		return nil, err
	}
	p, err := ParseProfile(b)
	if err != nil {
		return nil, fmt.Errorf("builtin %s: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}

func BuiltinProfiles() []string {
	entries, err := builtinFS.ReadDir("profiles")
	if err != nil {
		return []string{}
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if n := e.Name(); strings.HasSuffix(n, ".toml") {
			out = append(out, strings.TrimSuffix(n, ".toml"))
		}
	}
	sort.Strings(out)
	return out
}

// References reports whether any pattern or action uses the variable.
func (p *Profile) References(variable string) bool {
	re := regexp.MustCompile(`\{\{\s*\.` + regexp.QuoteMeta(variable) + `\s*\}\}`)
	for _, r := range p.Rules {
		if re.MatchString(r.Pattern) {
			return true
		}
		for _, a := range r.Actions {
			if re.MatchString(a) {
				return true
			}
		}
	}
	return false
}

// Compile renders the profile against a target and validates the result.
func Compile(p *Profile, t Target) (*Table, error) {
	if p == nil {
		return nil, errors.New("profile is nil")
	}
	vars := t.Vars()
	rules := make([]Rule, 0, len(p.Rules))
	for i, pr := range p.Rules {
		pattern, err := render(pr.Pattern, vars)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d (%s) pattern: %v", ErrInvalidRule, i, pr.Name, err)
		}
		var actions [][]byte
		if len(pr.Actions) > 0 {
			actions = make([][]byte, 0, len(pr.Actions))
			for j, a := range pr.Actions {
				out, err := render(a, vars)
				if err != nil {
					return nil, fmt.Errorf("%w: rule %d (%s) action %d: %v", ErrInvalidRule, i, pr.Name, j, err)
				}
				actions = append(actions, []byte(out))
			}
		}
		var resend time.Duration
		if s := strings.TrimSpace(pr.ResendAfter); s != "" {
			resend, err = time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("%w: rule %d (%s) resend_after: %v", ErrInvalidRule, i, pr.Name, err)
			}
		}
		rules = append(rules, Rule{
			Pattern: pattern,
			Name:    pr.Name,
			Actions: actions,
			Policy: Policy{
				Gate:        strings.TrimSpace(pr.Gate),
				Arms:        strings.TrimSpace(pr.Arms),
				ResendAfter: resend,
			},
		})
	}
	var term []byte
	if p.Terminator != nil {
		term = []byte(*p.Terminator)
	}
	return NewTable(p.Name, term, rules)
}

func render(text string, vars map[string]string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tpl, err := template.New("").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tpl.Execute(&b, vars); err != nil {
		return "", err
	}
	return b.String(), nil
}
