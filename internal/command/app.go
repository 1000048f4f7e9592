package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"autoconsole/internal/application"
	"autoconsole/internal/config"
	"autoconsole/internal/global"
	"autoconsole/internal/prompt"
	"autoconsole/internal/runlog"
)

type Deps struct {
	LoadConfig func() config.Config
	LoadTarget func(config.Config) (prompt.Target, error)
	RunConsole func(context.Context, config.Config, prompt.Target) error
	RunReplay  func(context.Context, config.Config, prompt.Target, string) (application.ReplayResult, error)
	OpenRunLog func(config.Config) (*runlog.Store, error)
	Out        io.Writer
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "built-in prompt profile"},
		&cli.StringFlag{Name: "profile-file", Usage: "prompt profile TOML file"},
		&cli.StringFlag{Name: "domain", Aliases: []string{"d"}, Usage: "libvirt domain name"},
		&cli.StringFlag{Name: "uri", Usage: "libvirt connection URI"},
		&cli.StringFlag{Name: "transport", Usage: "tmux or websocket"},
		&cli.StringFlag{Name: "ws-url", Usage: "websocket console URL"},
		&cli.StringFlag{Name: "tmux-socket", Usage: "tmux socket name (-L)"},
		&cli.BoolFlag{Name: "no-virsh", Usage: "attach without checking or starting the domain"},
		&cli.BoolFlag{Name: "keep-session", Usage: "leave the tmux console session running on exit"},
	}
}

func BuildApp(deps Deps) *cli.App {
	runAction := func(ctx *cli.Context) error {
		cfg := applyFlags(ctx, loadConfig(deps))
		target, err := loadTarget(deps, cfg)
		if err != nil {
			return err
		}
		if deps.RunConsole == nil {
			return errors.New("console runner is not configured")
		}
		return deps.RunConsole(ctx.Context, cfg, target)
	}
	return &cli.App{
		Name:   "autoconsole",
		Usage:  "answer OpenVMS console prompts on a libvirt domain",
		Flags:  runFlags(),
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "attach to the console and answer prompts until stopped",
				Flags:  runFlags(),
				Action: runAction,
			},
			{
				Name:  "profiles",
				Usage: "inspect prompt profiles",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list built-in profiles",
						Action: func(ctx *cli.Context) error {
							return writeProfileList(out(deps))
						},
					},
					{
						Name:      "show",
						Usage:     "print the compiled rules of a profile",
						ArgsUsage: "NAME",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "profile-file", Usage: "show a TOML file instead of a built-in profile"},
						},
						Action: func(ctx *cli.Context) error {
							cfg := loadConfig(deps)
							target, err := loadTarget(deps, cfg)
							if err != nil {
								return err
							}
							return showProfile(out(deps), ctx.Args().First(), ctx.String("profile-file"), target)
						},
					},
				},
			},
			{
				Name:  "target",
				Usage: "inspect or write target.toml",
				Subcommands: []*cli.Command{
					{
						Name:  "show",
						Usage: "print the target configuration",
						Action: func(ctx *cli.Context) error {
							store := global.NewTargetStore(loadConfig(deps).ConfigDir)
							tc, err := store.LoadOrInit()
							if err != nil {
								return fmt.Errorf("load target: %w", err)
							}
							return writeTarget(out(deps), store.Path(), tc)
						},
					},
					{
						Name:  "init",
						Usage: "write a target.toml from flags, defaulting anything unset",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Usage: "node name"},
							&cli.StringFlag{Name: "root", Usage: "system root directory"},
							&cli.StringFlag{Name: "domain", Usage: "DNS domain"},
							&cli.IntFlag{Name: "area", Usage: "DECnet area (1-63)"},
							&cli.IntFlag{Name: "number", Usage: "DECnet node number (1-1023)"},
							&cli.StringFlag{Name: "gateway-address", Usage: "default gateway address"},
							&cli.StringFlag{Name: "gateway-hostname", Usage: "default gateway hostname"},
							&cli.StringFlag{Name: "bind-server", Usage: "BIND server hostname"},
							&cli.StringFlag{Name: "bind-address", Usage: "BIND server address"},
						},
						Action: func(ctx *cli.Context) error {
							store := global.NewTargetStore(loadConfig(deps).ConfigDir)
							tc := global.TargetConfig{
								Name:   ctx.String("name"),
								Root:   ctx.String("root"),
								Domain: ctx.String("domain"),
								DECnet: global.DECnetConfig{Area: ctx.Int("area"), Number: ctx.Int("number")},
								TCPIP: global.TCPIPConfig{
									GatewayAddress:  ctx.String("gateway-address"),
									GatewayHostname: ctx.String("gateway-hostname"),
									BindServer:      ctx.String("bind-server"),
									BindAddress:     ctx.String("bind-address"),
								},
							}
							if err := store.Save(tc); err != nil {
								return fmt.Errorf("save target: %w", err)
							}
							saved, err := store.LoadOrInit()
							if err != nil {
								return fmt.Errorf("load target: %w", err)
							}
							return writeTarget(out(deps), store.Path(), saved)
						},
					},
				},
			},
			{
				Name:      "replay",
				Usage:     "feed a captured console transcript through a profile",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "profile", Aliases: []string{"p"}, Usage: "built-in prompt profile"},
					&cli.StringFlag{Name: "profile-file", Usage: "prompt profile TOML file"},
				},
				Action: func(ctx *cli.Context) error {
					file := strings.TrimSpace(ctx.Args().First())
					if file == "" {
						return errors.New("transcript file is required")
					}
					cfg := applyFlags(ctx, loadConfig(deps))
					target, err := loadTarget(deps, cfg)
					if err != nil {
						return err
					}
					if deps.RunReplay == nil {
						return errors.New("replay runner is not configured")
					}
					res, err := deps.RunReplay(ctx.Context, cfg, target, file)
					if err != nil {
						return err
					}
					return writeReplaySummary(out(deps), res)
				},
			},
			{
				Name:  "runs",
				Usage: "inspect the run log",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list recent runs",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum runs to show"},
						},
						Action: func(ctx *cli.Context) error {
							return withRunLog(deps, func(st *runlog.Store) error {
								runs, err := st.List(ctx.Int("limit"))
								if err != nil {
									return err
								}
								return writeRuns(out(deps), runs)
							})
						},
					},
					{
						Name:      "show",
						Usage:     "print one run and its prompt events",
						ArgsUsage: "RUN_ID",
						Action: func(ctx *cli.Context) error {
							runID := strings.TrimSpace(ctx.Args().First())
							if runID == "" {
								return errors.New("run id is required")
							}
							return withRunLog(deps, func(st *runlog.Store) error {
								run, err := st.Get(runID)
								if err != nil {
									return fmt.Errorf("run %s: %w", runID, err)
								}
								events, err := st.Events(runID)
								if err != nil {
									return err
								}
								return writeRun(out(deps), run, events)
							})
						},
					},
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func loadTarget(deps Deps, cfg config.Config) (prompt.Target, error) {
	if deps.LoadTarget != nil {
		return deps.LoadTarget(cfg)
	}
	tc, err := global.NewTargetStore(cfg.ConfigDir).LoadOrInit()
	if err != nil {
		return prompt.Target{}, fmt.Errorf("load target: %w", err)
	}
	return tc.Target(cfg.Password), nil
}

func withRunLog(deps Deps, fn func(*runlog.Store) error) error {
	open := deps.OpenRunLog
	if open == nil {
		open = func(cfg config.Config) (*runlog.Store, error) {
			return runlog.Open(cfg.DBPath, nil)
		}
	}
	st, err := open(loadConfig(deps))
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer func() { _ = st.Close() }()
	return fn(st)
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(ctx *cli.Context, cfg config.Config) config.Config {
	set := func(name string, dst *string) {
		if ctx.IsSet(name) {
			*dst = strings.TrimSpace(ctx.String(name))
		}
	}
	set("profile", &cfg.Profile)
	set("profile-file", &cfg.ProfileFile)
	set("domain", &cfg.Domain)
	set("uri", &cfg.LibvirtURI)
	set("transport", &cfg.Transport)
	set("ws-url", &cfg.WSURL)
	set("tmux-socket", &cfg.TmuxSocket)
	if ctx.IsSet("profile") && !ctx.IsSet("profile-file") {
		cfg.ProfileFile = ""
	}
	cfg.Transport = strings.ToLower(cfg.Transport)
	if ctx.IsSet("no-virsh") {
		cfg.SkipDomain = ctx.Bool("no-virsh")
	}
	if ctx.IsSet("keep-session") {
		cfg.KeepSession = ctx.Bool("keep-session")
	}
	return cfg
}

func out(deps Deps) io.Writer {
	if deps.Out != nil {
		return deps.Out
	}
	return os.Stdout
}
