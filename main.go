package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"audiobridge/audio"
	"audiobridge/clipboard"
	"audiobridge/config"
	"audiobridge/doctor"
	"audiobridge/log"
	"audiobridge/shutdown"
	"audiobridge/speech"
)

var version = "dev"

func languageHelp() string {
	var tags []string
	for _, l := range speech.SupportedLanguages() {
		tags = append(tags, l.Tag+" "+l.Name)
	}
	return strings.Join(tags, ", ")
}

type runOptions struct {
	idleStop time.Duration
	hotkey   bool
	hold     time.Duration
}

func run() int {
	langFlag := flag.String("lang", "", "Recognition language as a BCP-47 tag (default en-US). Common: "+languageHelp())
	providerFlag := flag.String("provider", "", "Recognition engine: deepgram, groq, openai or fake (default: first with an API key)")
	deviceFlag := flag.String("device", "", "Capture the named output device instead of the default")
	setupFlag := flag.Bool("setup", false, "Pick the output device to capture")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	debugFlag := flag.Bool("debug", false, "Log per-buffer and per-update events")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven); an optional WAV argument replaces system audio")
	autoStopFlag := flag.Duration("autostop", 0, "Stop transcribing after this long without system audio (0 = never)")
	hotkeyFlag := flag.Bool("hotkey", false, "Start/stop with global Ctrl+Shift+Space (tap to latch, hold to transcribe while held)")
	holdFlag := flag.Duration("hold", 350*time.Millisecond, "Press length that counts as hold rather than tap")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("audiobridge %s\n", version)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *langFlag != "" {
		cfg.Language = *langFlag
	}
	if *providerFlag != "" {
		cfg.Provider = *providerFlag
	}
	if *deviceFlag != "" {
		cfg.Device = *deviceFlag
	}
	if *debugFlag {
		cfg.Debug = true
	}
	if *testFlag && flag.NArg() > 0 {
		cfg.FakeAudioFile = flag.Arg(0)
		if cfg.Provider == "" {
			cfg.Provider = "fake"
		}
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	log.SetDebug(cfg.Debug)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.Infof("audiobridge %s starting: provider=%q language=%s rate=%d", version, cfg.Provider, cfg.Language, cfg.SampleRate)

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if *doctorFlag {
		return doctor.Run(cfg)
	}

	if *setupFlag && cfg.Device == "" {
		name, err := pickDevice()
		if errors.Is(err, audio.ErrSelectionCancelled) {
			return 0
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		cfg.Device = name
	}

	opts := runOptions{idleStop: *autoStopFlag, hotkey: *hotkeyFlag, hold: *holdFlag}

	if *testFlag {
		return runTestMode(cfg, opts.idleStop, os.Stdin, os.Stdout)
	}
	if !*tuiFlag || !term.IsTerminal(int(os.Stdout.Fd())) {
		return runHeadless(cfg, opts)
	}
	return runTUI(cfg, opts)
}

// initCrashLog sends fatal runtime errors to crash_log.txt in the log directory.
func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	f, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(f, debug.CrashOptions{})
}

func pickDevice() (string, error) {
	ctx, err := audio.NewContext()
	if err != nil {
		return "", fmt.Errorf("initializing audio: %w", err)
	}
	defer ctx.Close()
	dev, err := audio.SelectDevice(ctx)
	if err != nil {
		return "", err
	}
	return dev.Name, nil
}

func runTUI(cfg config.Config, opts runOptions) int {
	a := newApp(cfg, tuiSink{}, opts.idleStop)
	p := NewTUIProgram(tuiActions{
		Toggle: a.toggle,
		Copy:   func() error { return clipboard.Copy(a.coord.Full()) },
		Clear:  a.coord.Clear,
	})
	tuiMu.Lock()
	tuiProgram = p
	tuiMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		_, err := p.Run()
		return err
	})
	g.Go(func() error {
		a.announce()
		return a.watch(gctx)
	})
	if opts.hotkey {
		g.Go(func() error {
			a.runHotkey(gctx, opts.hold)
			return nil
		})
	}
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	g.Go(func() error {
		select {
		case <-sigChan:
			log.Info("signal received, quitting")
			p.Quit()
		case <-gctx.Done():
		}
		return nil
	})

	code := 0
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code = 1
	}
	tuiMu.Lock()
	tuiProgram = nil
	tuiMu.Unlock()

	if err := a.close(); err != nil {
		log.Warnf("shutdown: %v", err)
	}
	return code
}

// runHeadless transcribes immediately and prints each confirmed line until
// interrupted.
func runHeadless(cfg config.Config, opts runOptions) int {
	sink := &lineSink{w: os.Stdout, follow: true}
	a := newApp(cfg, sink, opts.idleStop)
	a.announce()
	if err := a.coord.StartTranscription(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.close()
		return 1
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.watch(gctx) })
	if opts.hotkey {
		g.Go(func() error {
			a.runHotkey(gctx, opts.hold)
			return nil
		})
	}

	<-ctx.Done()
	log.Info("signal received, quitting")
	g.Wait()

	if err := a.close(); err != nil {
		log.Warnf("shutdown: %v", err)
		return 1
	}
	return 0
}
