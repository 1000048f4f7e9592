package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"autoconsole/internal/config"
	"autoconsole/internal/console"
	"autoconsole/internal/lifecycle"
	"autoconsole/internal/logging"
	"autoconsole/internal/prompt"
	"autoconsole/internal/runlog"
	"autoconsole/internal/session"
	"autoconsole/internal/virsh"
)

const queueDepth = 64

type Application struct {
	logger    *slog.Logger
	table     *prompt.Table
	engine    *session.Engine
	sender    *attachedSender
	store     *runlog.Store
	ownsStore bool
	runID     string
	info      runlog.RunInfo
	domain    DomainControl
	open      ConsoleOpener
	poll      time.Duration
	echo      io.Writer
}

// StartApplication compiles the profile, opens the run log and records the
// start of a run. Nothing touches the domain until Run.
func StartApplication(ctx context.Context, opts StartOptions) (*Application, error) {
	logger := logging.OrDiscard(opts.Logger)
	p, table, err := compileProfile(opts.Profile, opts.ProfileFile, opts.Target)
	if err != nil {
		return nil, err
	}
	if opts.Target.Password == "" && p.References("password") {
		return nil, fmt.Errorf("profile %s needs a password: set VMS_PASSWORD", p.Name)
	}

	transport := strings.ToLower(strings.TrimSpace(opts.Transport))
	if transport == "" {
		transport = config.TransportTmux
	}
	open := opts.Hooks.OpenConsole
	if open == nil {
		open, err = transportOpener(transport, opts, logger)
		if err != nil {
			return nil, err
		}
	}

	domain := opts.Hooks.Domain
	if domain == nil && !opts.SkipDomain {
		domain = virsh.NewDomain(opts.URI, opts.Domain, nil)
	}

	store, owns := opts.Hooks.Store, false
	if store == nil && strings.TrimSpace(opts.DBPath) != "" {
		store, err = runlog.Open(opts.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open run log: %w", err)
		}
		owns = true
	}

	app := &Application{
		logger:    logger,
		table:     table,
		sender:    &attachedSender{},
		store:     store,
		ownsStore: owns,
		info:      runlog.RunInfo{Profile: table.Profile(), Domain: opts.Domain, Transport: transport},
		domain:    domain,
		open:      open,
		poll:      opts.StatePoll,
		echo:      opts.Echo,
	}
	if app.poll <= 0 {
		app.poll = time.Second
	}

	var recorder session.Recorder
	if store != nil {
		app.runID, err = store.Begin(ctx, app.info)
		if err != nil {
			_ = app.Shutdown(ctx)
			return nil, fmt.Errorf("begin run: %w", err)
		}
		app.logger = logger.With("run_id", app.runID)
		recorder = store.Recorder(app.runID, opts.Target.Password)
	}
	app.engine = session.NewEngine(table, app.sender,
		session.WithLogger(app.logger),
		session.WithRecorder(recorder),
		session.WithSleep(opts.Hooks.Sleep),
	)
	return app, nil
}

func (a *Application) RunID() string { return a.runID }

func (a *Application) Engine() *session.Engine { return a.engine }

// Run drives the console until ctx is cancelled or something fails. Engine
// state survives every detach and reattach.
func (a *Application) Run(ctx context.Context) error {
	a.logger.Info("run starting", "profile", a.info.Profile, "domain", a.info.Domain, "transport", a.info.Transport, "rules", a.table.Len())
	if a.domain != nil {
		state, err := a.domain.EnsureRunning(ctx)
		if err != nil {
			return a.finish(ctx, fmt.Errorf("ensure domain running: %w", err))
		}
		a.logger.Info("domain ready", "domain", a.info.Domain, "state", state.String())
	}

	queue := make(chan []byte, queueDepth)
	mgr := lifecycle.NewManager(a.logger)
	mgr.AddRun("engine", func(ctx context.Context) error {
		return a.runEngine(ctx, queue)
	})
	mgr.AddRun("attach", func(ctx context.Context) error {
		return a.attachLoop(ctx, queue)
	})
	mgr.AddShutdown("detach-console", func(context.Context) error {
		return a.sender.detach()
	})
	return a.finish(ctx, mgr.StartAndWait(ctx))
}

// Shutdown closes the run log if this application opened it.
func (a *Application) Shutdown(context.Context) error {
	if a == nil || a.store == nil || !a.ownsStore {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *Application) finish(ctx context.Context, err error) error {
	cause := err
	if cause == nil && ctx.Err() != nil {
		cause = context.Canceled
	}
	snap := a.engine.Snapshot()
	a.logger.Info("run finished", "error", errString(cause), "pending_bytes", len(snap.Pending))
	if a.store != nil && a.runID != "" {
		if ferr := a.store.Finish(context.WithoutCancel(ctx), a.runID, cause); ferr != nil {
			a.logger.Warn("record run finish failed", "error", ferr)
		}
	}
	return err
}

// runEngine keeps the engine consuming. Failed sends are logged and the
// prompt stays consumed; the console decides whether the session recovers.
func (a *Application) runEngine(ctx context.Context, queue <-chan []byte) error {
	for {
		err := a.engine.Run(ctx, queue)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		a.logger.Warn("prompt response failed", "error", err)
	}
}

func (a *Application) attachLoop(ctx context.Context, queue chan []byte) error {
	for ctx.Err() == nil {
		if a.domain != nil {
			if _, err := a.domain.WaitAttachable(ctx, a.poll); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		if err := a.attachOnce(ctx, queue); err != nil && ctx.Err() == nil {
			a.logger.Warn("console session ended", "error", err)
		}
		if n := drainQueue(queue); n > 0 {
			a.logger.Info("dropped output from detached console", "chunks", n)
		}
		if err := sleepContext(ctx, a.poll); err != nil {
			return nil
		}
	}
	return nil
}

func (a *Application) attachOnce(ctx context.Context, queue chan<- []byte) error {
	c, err := a.open(ctx)
	if err != nil {
		return fmt.Errorf("open console: %w", err)
	}
	c = console.WithEcho(c, a.echo)
	a.sender.attach(c)
	defer func() {
		if err := a.sender.detach(); err != nil {
			a.logger.Warn("close console failed", "error", err)
		}
	}()
	a.logger.Info("console attached", "transport", a.info.Transport)

	attachCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if a.domain != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.domain.Watch(attachCtx, a.poll, func(prev, next virsh.DomainState) {
				if prev != next {
					a.logger.Info("domain state changed", "from", prev.String(), "to", next.String())
				}
				if !next.Attachable() {
					cancel()
				}
			})
			if err != nil {
				a.logger.Warn("domain watch stopped", "error", err)
				cancel()
			}
		}()
	}

	err = console.Pump(attachCtx, c, queue)
	cancel()
	wg.Wait()
	a.logger.Info("console detached")
	return err
}

// Replay runs a transcript through a compiled profile and writes every
// response to opts.Out. Resend delays are skipped.
func Replay(ctx context.Context, opts ReplayOptions) (ReplayResult, error) {
	logger := logging.OrDiscard(opts.Logger)
	_, table, err := compileProfile(opts.Profile, opts.ProfileFile, opts.Target)
	if err != nil {
		return ReplayResult{}, err
	}
	if opts.Transcript == nil {
		return ReplayResult{}, errors.New("transcript is required")
	}
	rep := console.NewReplay(opts.Transcript, opts.ChunkSize, opts.Out)
	engineOpts := []session.Option{
		session.WithLogger(logger),
		session.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	}
	var result ReplayResult
	if opts.Store != nil {
		result.RunID, err = opts.Store.Begin(ctx, runlog.RunInfo{Profile: table.Profile(), Transport: "replay"})
		if err != nil {
			return result, fmt.Errorf("begin run: %w", err)
		}
		engineOpts = append(engineOpts, session.WithRecorder(opts.Store.Recorder(result.RunID, opts.Target.Password)))
	}
	engine := session.NewEngine(table, rep, engineOpts...)

	runErr := feedAll(ctx, engine, rep)
	if opts.Store != nil {
		if err := opts.Store.Finish(context.WithoutCancel(ctx), result.RunID, runErr); err != nil {
			logger.Warn("record run finish failed", "error", err)
		}
	}
	result.Sends = rep.Sends()
	result.Snapshot = engine.Snapshot()
	return result, runErr
}

func feedAll(ctx context.Context, engine *session.Engine, c console.Console) error {
	for {
		chunk, err := c.Read(ctx)
		if len(chunk) > 0 {
			if ferr := engine.Feed(ctx, chunk); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func compileProfile(name, file string, target prompt.Target) (*prompt.Profile, *prompt.Table, error) {
	p, err := loadProfile(name, file)
	if err != nil {
		return nil, nil, err
	}
	table, err := prompt.Compile(p, target)
	if err != nil {
		return nil, nil, fmt.Errorf("compile profile %s: %w", p.Name, err)
	}
	return p, table, nil
}

func loadProfile(name, file string) (*prompt.Profile, error) {
	if file = strings.TrimSpace(file); file != "" {
		return prompt.LoadProfileFile(file)
	}
	return prompt.LoadProfile(strings.TrimSpace(name))
}

func transportOpener(transport string, opts StartOptions, logger *slog.Logger) (ConsoleOpener, error) {
	switch transport {
	case config.TransportTmux:
		tmuxOpts := console.TmuxOptions{
			Socket:      opts.TmuxSocket,
			URI:         opts.URI,
			Domain:      opts.Domain,
			KeepSession: opts.KeepSession,
			Logger:      logger,
		}
		return func(ctx context.Context) (console.Console, error) {
			return console.OpenTmux(ctx, tmuxOpts)
		}, nil
	case config.TransportWebSocket:
		url := strings.TrimSpace(opts.WSURL)
		if url == "" {
			return nil, errors.New("websocket transport needs a console url")
		}
		return func(ctx context.Context) (console.Console, error) {
			return console.DialWebSocket(ctx, url, nil)
		}, nil
	}
	return nil, fmt.Errorf("unsupported transport: %s", transport)
}

// attachedSender forwards engine responses to whichever console is attached.
type attachedSender struct {
	mu sync.Mutex
	c  console.Console
}

func (s *attachedSender) Send(ctx context.Context, payload []byte) error {
	c := s.current()
	if c == nil {
		return console.ErrClosed
	}
	return c.Send(ctx, payload)
}

func (s *attachedSender) current() console.Console {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

func (s *attachedSender) attach(c console.Console) {
	s.mu.Lock()
	s.c = c
	s.mu.Unlock()
}

func (s *attachedSender) detach() error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// drainQueue discards chunks that were read from a console that is now
// closed, so they are not answered on the next attachment.
func drainQueue(queue chan []byte) int {
	n := 0
	for {
		select {
		case <-queue:
			n++
		default:
			return n
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
