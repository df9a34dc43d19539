package doctor

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"audiobridge/config"
)

func writeTone(t *testing.T, samples int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data := make([]int, samples)
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunFake(t *testing.T) {
	old := captureFor
	captureFor = 1500 * time.Millisecond
	t.Cleanup(func() { captureFor = old })

	var out bytes.Buffer
	code := run(config.Config{
		Provider:          "fake",
		Language:          "en-US",
		SampleRate:        16000,
		FakeAudioFile:     writeTone(t, 32000),
		FakeTranscript:    "testing",
		PermissionTimeout: time.Second,
	}, &out)

	got := out.String()
	if code != 0 {
		t.Fatalf("exit code %d\n%s", code, got)
	}
	for _, want := range []string{
		"PASS: 1 output(s)",
		"engine fake, language en-US (network)",
		"Transcribed text: testing",
		"All checks passed!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n%s", want, got)
		}
	}
	if strings.Contains(got, "silent") {
		t.Errorf("tone reported as silence\n%s", got)
	}
}

func TestRunMissingBackendAndEngine(t *testing.T) {
	var out bytes.Buffer
	code := run(config.Config{
		Language:          "en-US",
		SampleRate:        16000,
		FakeAudioFile:     filepath.Join(t.TempDir(), "missing.wav"),
		PermissionTimeout: time.Second,
	}, &out)

	got := out.String()
	if code != 1 {
		t.Errorf("exit code %d, want 1", code)
	}
	if !strings.Contains(got, "FAIL: cannot connect to audio") {
		t.Errorf("backend failure not reported\n%s", got)
	}
	if !strings.Contains(got, "FAIL: no recognition engine") {
		t.Errorf("engine failure not reported\n%s", got)
	}
	if strings.Contains(got, "[2/5]") {
		t.Errorf("capture ran without a backend\n%s", got)
	}
}
