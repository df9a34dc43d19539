package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"audiobridge/config"
	"audiobridge/permission"
)

func writeSilence(t *testing.T, samples int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "silence.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func fakeConfig(t *testing.T) config.Config {
	return config.Config{
		Provider:          "fake",
		Language:          "en-US",
		SampleRate:        16000,
		FakeAudioFile:     writeSilence(t, 16000),
		FakeTranscript:    "one two three",
		PermissionTimeout: permission.DefaultTimeout,
	}
}

func runScript(t *testing.T, cfg config.Config, lines ...string) (string, int) {
	t.Helper()
	var out bytes.Buffer
	code := runTestMode(cfg, 0, strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	return out.String(), code
}

func TestTestModeTranscript(t *testing.T) {
	out, code := runScript(t, fakeConfig(t),
		"START", "WAIT_ACTIVE", "STATUS", "WAIT_TEXT", "STOP", "WAIT_IDLE", "STATUS", "PRINT", "QUIT")

	if code != 0 {
		t.Fatalf("exit code %d\n%s", code, out)
	}
	for _, want := range []string{
		"mode: [fake | en-US | network]",
		"device: capturing: default output",
		"status audio=2 speech=2",
		"final: one two three",
		"status audio=0 speech=0",
		"transcript: one two three",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestTestModeCommands(t *testing.T) {
	out, code := runScript(t, fakeConfig(t),
		"PERMS", "LANGS", "LANG fr_FR", "LANG not a tag!", "BOGUS", "SLEEP 5", "QUIT", "START")

	if code != 0 {
		t.Fatalf("exit code %d\n%s", code, out)
	}
	if !strings.Contains(out, "permissions audio=true speech=true") {
		t.Errorf("PERMS\n%s", out)
	}
	if !strings.Contains(out, "language zh-CN 简体中文") {
		t.Errorf("LANGS\n%s", out)
	}
	if !strings.Contains(out, "mode: [fake | fr-FR | network]") {
		t.Errorf("LANG not applied\n%s", out)
	}
	if !strings.Contains(out, `error: unknown command "BOGUS"`) {
		t.Errorf("unknown command not reported\n%s", out)
	}
	if strings.Count(out, "error: ") != 2 {
		t.Errorf("want errors for the bad tag and BOGUS only\n%s", out)
	}
}

func TestTestModeRestartAfterClear(t *testing.T) {
	out, code := runScript(t, fakeConfig(t),
		"START", "WAIT_TEXT", "STOP", "WAIT_IDLE",
		"START", "WAIT_TEXT", "STOP", "WAIT_IDLE", "QUIT")

	if code != 0 {
		t.Fatalf("exit code %d\n%s", code, out)
	}
	if n := strings.Count(out, "final: one two three"); n < 2 {
		t.Errorf("got %d final lines, want one per session\n%s", n, out)
	}
}

func TestTestModeTimeout(t *testing.T) {
	cfg := fakeConfig(t)
	cfg.FakeAudioFile = filepath.Join(t.TempDir(), "missing.wav")

	old := testWaitTimeout
	testWaitTimeout = 200 * time.Millisecond
	t.Cleanup(func() { testWaitTimeout = old })

	out, code := runScript(t, cfg, "START", "WAIT_TEXT", "QUIT")
	if code != 1 {
		t.Errorf("exit code %d, want 1", code)
	}
	if !strings.Contains(out, "error: audio capture did not start") {
		t.Errorf("refusal not reported\n%s", out)
	}
	if !strings.Contains(out, "timeout: WAIT_TEXT") {
		t.Errorf("timeout not reported\n%s", out)
	}
}

func TestLineSinkFollow(t *testing.T) {
	var buf bytes.Buffer
	s := &lineSink{w: &buf, follow: true, prefix: "> "}
	s.Transcript("a", "")
	s.Transcript("a", "partial")
	s.Transcript("a\nb", "")
	s.Transcript("", "")
	s.Transcript("a", "")
	s.Warning("")
	s.Warning("quiet")

	want := "> a\n> b\n> a\nwarning: quiet\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
