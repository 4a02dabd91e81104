package ffkit

import (
	"io"
	"strings"
	"testing"
	"time"
)

// TestStartAndWait 验证 stdout 透传与正常退出
func TestStartAndWait(t *testing.T) {
	p, err := Start(Config{
		Name:    "echo",
		BinPath: "sh",
		Args:    []string{"-c", "printf hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(p.Stdout())
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "hello" {
		t.Errorf("stdout = %q, want %q", out, "hello")
	}
	if err := p.Wait(); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
	if code := p.ExitCode(); code != 0 {
		t.Errorf("ExitCode() = %d, want 0", code)
	}
}

// TestNonZeroExit 非零退出码应通过 Wait 返回
func TestNonZeroExit(t *testing.T) {
	p, err := Start(Config{
		Name:    "fail",
		BinPath: "sh",
		Args:    []string{"-c", "exit 3"},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.ReadAll(p.Stdout())
	if err := p.Wait(); err == nil {
		t.Fatal("Wait() = nil, want exit error")
	}
	if code := p.ExitCode(); code != 3 {
		t.Errorf("ExitCode() = %d, want 3", code)
	}
}

// TestStopKillsWithinGrace 长驻进程应在宽限期内被强制终止
func TestStopKillsWithinGrace(t *testing.T) {
	p, err := Start(Config{
		Name:        "sleep",
		BinPath:     "sh",
		Args:        []string{"-c", "sleep 60"},
		GracePeriod: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := p.Stop(); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Stop took %v, want < 3s", elapsed)
	}
}

// TestStderrRing stderr 应进入日志环而非阻塞
func TestStderrRing(t *testing.T) {
	p, err := Start(Config{
		Name:    "stderr",
		BinPath: "sh",
		Args:    []string{"-c", "echo warn1 >&2; echo warn2 >&2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.ReadAll(p.Stdout())
	_ = p.Wait()

	lines := p.Log()
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "warn1") || !strings.Contains(joined, "warn2") {
		t.Errorf("stderr ring = %v, want warn1/warn2", lines)
	}
}

// TestWriteStdin stdin 管道应可写入
func TestWriteStdin(t *testing.T) {
	p, err := Start(Config{
		Name:    "cat",
		BinPath: "sh",
		Args:    []string{"-c", "head -c 4"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.WriteStdin([]byte("abcd")); err != nil {
		t.Fatal(err)
	}
	out, _ := io.ReadAll(p.Stdout())
	if string(out) != "abcd" {
		t.Errorf("stdout = %q, want abcd", out)
	}
	_ = p.Wait()
}

// TestStdinProducer 配置的 stdin 生产者应被持续写入
func TestStdinProducer(t *testing.T) {
	p, err := Start(Config{
		Name:    "producer",
		BinPath: "sh",
		Args:    []string{"-c", "head -c 6"},
		Stdin:   strings.NewReader("abcdef-extra"),
	})
	if err != nil {
		t.Fatal(err)
	}
	out, _ := io.ReadAll(p.Stdout())
	if string(out) != "abcdef" {
		t.Errorf("stdout = %q, want abcdef", out)
	}
	_ = p.Wait()
}
