package main

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/shredctl/bridge"
	"github.com/chazu/shredctl/engine"
	"github.com/chazu/shredctl/server"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// startServer serves a fresh coordinator over httptest.
func startServer(t *testing.T) (*bridge.Coordinator, string) {
	t.Helper()
	c := bridge.New(bridge.WithCallbackRegistry(bridge.NewCallbackRegistry()))
	if err := c.Configure(bridge.DefaultParams()); err != nil {
		t.Fatal(err)
	}
	if err := c.Init(); err != nil {
		t.Fatal(err)
	}
	srv := server.New(c)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
		c.Stop()
	})
	return c, ts.URL
}

func TestRunUnknownCommand(t *testing.T) {
	err := run([]string{"dance"})
	var usage usageError
	if !errors.As(err, &usage) {
		t.Errorf("run(dance) = %v, want a usage error", err)
	}
	if err := run(nil); err != nil {
		t.Errorf("run() = %v, want usage printed and nil", err)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct{ addr, want string }{
		{":7800", "http://127.0.0.1:7800"},
		{"10.0.0.2:9000", "http://10.0.0.2:9000"},
		{"http://studio:7800", "http://studio:7800"},
	}
	for _, tt := range tests {
		if got := baseURL(tt.addr); got != tt.want {
			t.Errorf("baseURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestExecAgainstServer(t *testing.T) {
	c, url := startServer(t)
	cfg := writeFile(t, t.TempDir(), "shredctl.toml", "")

	if err := runExec([]string{"--config", cfg, "--addr", url, `+ "while (true) { 1::ms => now; }"`}); err != nil {
		t.Fatalf("exec spork: %v", err)
	}
	if err := runExec([]string{"--config", cfg, "--addr", url, "global", "int", "tempo;"}); err != nil {
		t.Fatalf("exec code: %v", err)
	}
	if err := runExec([]string{"--config", cfg, "--addr", url, "tempo::128"}); err != nil {
		t.Fatalf("exec set: %v", err)
	}
	if _, err := c.Advance(1); err != nil {
		t.Fatal(err)
	}
	if v, err := c.Globals().Int("tempo"); err != nil || v != 128 {
		t.Errorf("tempo = %d, %v, want 128", v, err)
	}
	if list, err := c.Shreds().List(); err != nil || len(list.All) != 1 {
		t.Errorf("live shreds = %v, %v, want the looping one", list.All, err)
	}

	err := runExec([]string{"--config", cfg, "--addr", url, "- 42"})
	if !errors.Is(err, bridge.ErrNotFound) {
		t.Errorf("exec remove of unknown shred = %v, want ErrNotFound", err)
	}
	if err := runExec([]string{"--config", cfg, "--addr", url, "edit 1"}); err == nil {
		t.Error("exec of an editor command succeeded")
	}
	if err := runStatus([]string{"--config", cfg, "--addr", url}); err != nil {
		t.Errorf("status: %v", err)
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "shredctl.toml", "[engine]\nsample_rate = 1000\nbuffer_frames = 64\n")
	song := writeFile(t, dir, "song.ck", "global int hits;\nwhile (true) { 1 => hits; 10::ms => now; }\n")

	err := runRender([]string{"--config", cfg, "-n", "500", "-g", "-e", "<<< 1 >>>;", song})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if err := runRender([]string{"--config", cfg, "-n", "-1"}); err == nil {
		t.Error("render with negative frames succeeded")
	}
}

func TestPrintResult(t *testing.T) {
	v := engine.FloatValue(0.5)
	tests := []struct {
		cmd  bridge.Command
		res  bridge.Result
		want string
	}{
		{bridge.Command{Op: bridge.OpGetGlobal}, bridge.Result{OK: true, Value: &v}, "0.5"},
		{bridge.Command{Op: bridge.OpNow}, bridge.Result{OK: true, Now: 44100}, "now: 44100 samples"},
		{bridge.Command{Op: bridge.OpClear}, bridge.Result{OK: true, Count: 3}, "removed 3 shreds"},
		{bridge.Command{Op: bridge.OpSignal}, bridge.Result{OK: true}, "ok"},
		{
			bridge.Command{Op: bridge.OpSpork},
			bridge.Result{OK: true, Shreds: []bridge.ShredHandle{{ID: 7, Name: bridge.CodeShredName}}},
			"sporked shred 7 (compiled.code)",
		},
		{
			bridge.Command{Op: bridge.OpList},
			bridge.Result{OK: true, List: &engine.ShredList{All: []engine.ShredID{1, 2}, Ready: []engine.ShredID{1, 2}}},
			"ready:   1 2\nblocked: -",
		},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := printResult(&buf, tt.cmd, tt.res); err != nil {
			t.Errorf("printResult(%s) = %v", tt.cmd.Op, err)
			continue
		}
		if got := strings.TrimSpace(buf.String()); got != tt.want {
			t.Errorf("printResult(%s) = %q, want %q", tt.cmd.Op, got, tt.want)
		}
	}
}
