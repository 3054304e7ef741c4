package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chazu/shredctl/bridge"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[engine]
sample_rate = 48000
input_channels = 0
output_channels = 4
buffer_frames = 128
working_directory = "songs"

[shutdown]
poll_interval = "2ms"
grace_delay = "40ms"
quiesce_timeout = "1s"

[globals]
default_read_frames = 2048

[server]
addr = ":9000"

[log]
verbosity = 2
file = "shredctl.log"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	abs, _ := filepath.Abs(dir)
	if c.Dir != abs {
		t.Errorf("dir = %q, want %q", c.Dir, abs)
	}
	if c.Engine.SampleRate != 48000 {
		t.Errorf("sample rate = %d, want 48000", c.Engine.SampleRate)
	}
	if c.Engine.InputChannels != 0 {
		t.Errorf("input channels = %d, want 0", c.Engine.InputChannels)
	}
	if c.Engine.WorkingDirectory != filepath.Join(abs, "songs") {
		t.Errorf("working directory = %q, want it resolved against %q", c.Engine.WorkingDirectory, abs)
	}
	if c.Shutdown.GraceDelay.Duration != 40*time.Millisecond {
		t.Errorf("grace delay = %s, want 40ms", c.Shutdown.GraceDelay)
	}
	if c.Server.Addr != ":9000" {
		t.Errorf("addr = %q, want :9000", c.Server.Addr)
	}
	if got := c.LogFile(); got == nil || *got != filepath.Join(abs, "shredctl.log") {
		t.Errorf("log file = %v", got)
	}

	p := c.Params()
	if p.Engine.OutputChannels != 4 || p.Engine.BufferFrames != 128 {
		t.Errorf("engine params = %+v", p.Engine)
	}
	if p.PollInterval != 2*time.Millisecond || p.QuiesceTimeout != time.Second {
		t.Errorf("shutdown params = %s, %s", p.PollInterval, p.QuiesceTimeout)
	}
	if p.ReadTimeoutFrames != 2048 {
		t.Errorf("read timeout frames = %d, want 2048", p.ReadTimeoutFrames)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("converted params do not validate: %v", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[engine]
sample_rate = 22050
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := bridge.DefaultParams()
	want.Engine.SampleRate = 22050
	if got := c.Params(); got != want {
		t.Errorf("params = %+v, want %+v", got, want)
	}
	if c.Server.Addr != DefaultAddr {
		t.Errorf("addr = %q, want %q", c.Server.Addr, DefaultAddr)
	}
	if c.LogFile() != nil {
		t.Errorf("log file = %q, want stderr", *c.LogFile())
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[engine\n", "parse error"},
		{"unknown key", "[engine]\nsample_rte = 1\n", "engine.sample_rte"},
		{"bad duration", "[shutdown]\ngrace_delay = \"soon\"\n", "parse error"},
		{"zero sample rate", "[engine]\nsample_rate = 0\n", "engine.sample_rate"},
		{"no outputs", "[engine]\noutput_channels = 0\n", "engine.output_channels"},
		{"negative duration", "[shutdown]\nquiesce_timeout = \"-1s\"\n", "shutdown.quiesce_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("Load succeeded, want an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	c := Default()
	c.Engine.SampleRate = -1
	c.Engine.BufferFrames = 0
	c.Server.Addr = ""

	err := c.Validate()
	if !errors.Is(err, bridge.ErrInvalidArgument) {
		t.Fatalf("Validate = %v, want ErrInvalidArgument", err)
	}
	for _, key := range []string{"engine.sample_rate", "engine.buffer_frames", "server.addr"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[server]\naddr = \":7801\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil || c.Server.Addr != ":7801" {
		t.Fatalf("FindAndLoad = %+v, want the root config", c)
	}
}

func TestFindAndLoadNone(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c != nil {
		t.Errorf("FindAndLoad = %+v, want nil", c)
	}
}
