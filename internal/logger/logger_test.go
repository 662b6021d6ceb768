package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestConsoleWriter_WithDirOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: filepath.Join(dir, "logs")}
	w := cfg.ConsoleWriter("bitcoind")
	if w == nil {
		t.Fatalf("expected writer when Dir is set")
	}
	_, _ = w.Write([]byte("hello-console\n"))
	closeIf(w)
	p := filepath.Join(dir, "logs", "bitcoind.console.log")
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("console log not created at %s: %v", p, err)
	}
	if !strings.Contains(string(b), "hello-console") {
		t.Fatalf("unexpected content %q", b)
	}
}

func TestConsoleWriter_ExplicitFileWins(t *testing.T) {
	dir := t.TempDir()
	fp := filepath.Join(dir, "explicit.log")
	cfg := Config{Dir: dir, File: fp}
	if got := cfg.Path("ignored"); got != fp {
		t.Fatalf("Path = %q, want %q", got, fp)
	}
	w := cfg.ConsoleWriter("ignored")
	_, _ = w.Write([]byte("x"))
	closeIf(w)
	if _, err := os.Stat(fp); err != nil {
		t.Fatalf("explicit path not created: %v", err)
	}
}

func TestConsoleWriter_DisabledAndDefaults(t *testing.T) {
	if w := (Config{}).ConsoleWriter("n"); w != nil {
		t.Fatalf("expected nil writer when no Dir/File set")
	}
	w := Config{File: "x"}.ConsoleWriter("n")
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 || l.Compress {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}

	w = Config{File: "y", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.ConsoleWriter("n")
	l = w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewFormats(t *testing.T) {
	for _, format := range []string{"text", "json", "color"} {
		var buf bytes.Buffer
		l, c, err := New(Options{Level: "debug", Format: format, Writer: &buf})
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		l.With("node", "n1").Debug("probe", "attempt", 2)
		closeIf(c)
		out := buf.String()
		if !strings.Contains(out, "probe") || !strings.Contains(out, "n1") {
			t.Fatalf("%s: unexpected output %q", format, out)
		}
	}
	if _, _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestNewLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, _, err := New(Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filter not applied: %q", buf.String())
	}
}

func TestNewWithFileCopy(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l, c, err := New(Options{Writer: &buf, File: &Config{Dir: dir}})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("to-both", "k", "v")
	closeIf(c)
	b, err := os.ReadFile(filepath.Join(dir, "nodekeeper.supervisor.log"))
	if err != nil {
		t.Fatalf("supervisor log file missing: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"to-both"`) || !strings.Contains(buf.String(), "to-both") {
		t.Fatalf("record not duplicated: file=%q stderr=%q", b, buf.String())
	}
}

func TestColorTextHandlerWithoutTime(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	slog.New(h).WithGroup("g").Error("bad", "k", 1)
	out := buf.String()
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be omitted: %q", out)
	}
	// the text handler quotes the message, so the escape shows up as \x1b
	if !strings.Contains(out, `\x1b[31mERROR`) || !strings.Contains(out, "g.k=1") {
		t.Fatalf("unexpected output %q", out)
	}
}
