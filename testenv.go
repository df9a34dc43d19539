package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"audiobridge/audio"
	"audiobridge/config"
	"audiobridge/lifecycle"
	"audiobridge/log"
	"audiobridge/speech"
)

var testWaitTimeout = 30 * time.Second

// lineSink writes events as plain lines. With follow set, every newly
// confirmed transcript line is printed once.
type lineSink struct {
	mu      sync.Mutex
	w       io.Writer
	follow  bool
	prefix  string
	printed int
}

func (s *lineSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *lineSink) Status(_, _ lifecycle.State) {}
func (s *lineSink) AudioLevel(float64)          {}

func (s *lineSink) Transcript(full, _ string) {
	if !s.follow {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if full == "" || len(full) < s.printed {
		s.printed = 0 // cleared
	}
	for _, line := range strings.Split(full[s.printed:], "\n") {
		if line != "" {
			fmt.Fprintln(s.w, s.prefix+line)
		}
	}
	s.printed = len(full)
}

func (s *lineSink) Warning(text string) {
	if text != "" {
		s.printf("warning: %s", text)
	}
}

func (s *lineSink) Error(message string)   { s.printf("error: %s", message) }
func (s *lineSink) ModeLine(text string)   { s.printf("mode: %s", text) }
func (s *lineSink) DeviceLine(text string) { s.printf("device: %s", text) }

// runTestMode drives both pipelines from line commands on in. It returns the
// process exit code.
func runTestMode(cfg config.Config, idleStop time.Duration, in io.Reader, out io.Writer) int {
	sink := &lineSink{w: out, follow: true, prefix: "final: "}
	a := newApp(cfg, sink, idleStop)
	a.announce()

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.watch(gctx) })

	code := 0
	scanner := bufio.NewScanner(in)
loop:
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		verb, arg, _ := strings.Cut(cmd, " ")
		switch verb {
		case "":
		case "START":
			if err := a.coord.StartTranscription(); err != nil {
				sink.printf("error: %v", err)
			}
		case "STOP":
			a.coord.Stop()
		case "WAIT_ACTIVE":
			if !a.waitBoth(lifecycle.Active) {
				sink.printf("timeout: %s", verb)
				code = 1
			}
		case "WAIT_IDLE":
			if !a.waitBoth(lifecycle.Idle) {
				sink.printf("timeout: %s", verb)
				code = 1
			}
		case "WAIT_TEXT":
			if !waitUntil(testWaitTimeout, func() bool { return a.coord.Full() != "" }) {
				sink.printf("timeout: %s", verb)
				code = 1
			}
		case "WAIT_AUDIO_DONE":
			if fc, ok := a.rt.Audio.(*audio.FakeContext); ok && fc.Last() != nil {
				select {
				case <-fc.Last().AudioDone():
				case <-time.After(testWaitTimeout):
					sink.printf("timeout: %s", verb)
					code = 1
				}
			}
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "LANG":
			if err := a.setLanguage(arg); err != nil {
				sink.printf("error: %v", err)
			}
		case "LANGS":
			for _, l := range speech.SupportedLanguages() {
				sink.printf("language %s %s", l.Tag, l.Name)
			}
		case "STATUS":
			sink.printf("status audio=%d speech=%d", a.rt.Capture.Status().Code(), a.rt.Speech.Status().Code())
		case "PERMS":
			audioOK, speechOK := a.coord.CheckPermissions()
			sink.printf("permissions audio=%t speech=%t", audioOK, speechOK)
		case "PRINT":
			for _, line := range strings.Split(a.coord.Full(), "\n") {
				sink.printf("transcript: %s", line)
			}
		case "CLEAR":
			a.coord.Clear()
		case "QUIT":
			break loop
		default:
			sink.printf("error: unknown command %q", cmd)
		}
	}

	cancel()
	g.Wait()
	if err := a.close(); err != nil {
		log.Warnf("shutdown: %v", err)
		code = 1
	}
	return code
}

func (a *app) waitBoth(want lifecycle.State) bool {
	ctx, cancel := context.WithTimeout(context.Background(), testWaitTimeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.rt.Capture.Wait(gctx, want) })
	g.Go(func() error { return a.rt.Speech.Wait(gctx, want) })
	return g.Wait() == nil
}

func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return true
}
