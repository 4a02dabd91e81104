// Package ffkit 封装 ffmpeg 子进程的启动、监控与终止
// 上层组件只关心参数向量与 stdout 字节流，进程树的清理由本包保证
package ffkit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

// DefaultGracePeriod 软退出后等待进程自行结束的时长，超时则杀死整个进程组
const DefaultGracePeriod = 4 * time.Second

type (
	// Config 启动一个 ffmpeg 实例所需的全部信息
	Config struct {
		Name string // 组件名，仅用于日志
		Args []string
		// Stdin 可选，为 nil 时仍会建立 stdin 管道以便发送 "q" 软退出
		Stdin io.Reader
		// GracePeriod 为 0 时使用 DefaultGracePeriod
		GracePeriod time.Duration
		// BinPath 为空时使用 "ffmpeg"
		BinPath string
	}

	// Process 一个受监管的 ffmpeg 进程句柄
	// 只有创建者可以向其发送信号，见 Interrupt/Stop
	Process struct {
		name    string
		cmd     *exec.Cmd
		stdout  io.ReadCloser
		stdin   io.WriteCloser
		grace   time.Duration
		logRing *queue.CirQueue[string]

		m        sync.Mutex
		started  bool
		stopped  bool
		waitOnce sync.Once
		waitErr  error
		done     chan struct{}
		wg       sync.WaitGroup
	}
)

// Start 启动子进程并返回句柄
// stderr 会被并发读取写入日志环，不会阻塞调用方
func Start(cfg Config) (*Process, error) {
	if len(cfg.Args) == 0 {
		return nil, fmt.Errorf("ffkit: args is required")
	}
	bin := cfg.BinPath
	if bin == "" {
		bin = "ffmpeg"
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	cmd := exec.Command(bin, cfg.Args...)
	// 独立进程组，终止时连同 ffmpeg 可能派生的子进程一起清理
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffkit: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffkit: stderr pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffkit: stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffkit: start %s: %w", bin, err)
	}

	p := Process{
		name:    cfg.Name,
		cmd:     cmd,
		stdout:  stdout,
		stdin:   stdin,
		grace:   grace,
		logRing: queue.NewCirQueue[string](100),
		started: true,
		done:    make(chan struct{}),
	}

	p.wg.Go(func() { p.drainStderr(stderr) })
	if cfg.Stdin != nil {
		p.wg.Go(func() { p.feedStdin(cfg.Stdin) })
	}

	slog.Debug("ffmpeg 已启动", "name", cfg.Name, "pid", cmd.Process.Pid)
	return &p, nil
}

// Stdout 子进程标准输出（二进制流）
func (p *Process) Stdout() io.Reader { return p.stdout }

// WriteStdin 向子进程 stdin 写入数据
func (p *Process) WriteStdin(b []byte) (int, error) {
	p.m.Lock()
	defer p.m.Unlock()
	if p.stopped {
		return 0, fmt.Errorf("ffkit: process stopped")
	}
	return p.stdin.Write(b)
}

// feedStdin 将外部 Reader 持续写入子进程 stdin
func (p *Process) feedStdin(r io.Reader) {
	_, _ = io.Copy(p.stdin, r)
}

// drainStderr 读取 ffmpeg 的 stderr 输出用于日志记录
// ffmpeg 的警告和错误信息都会输出到 stderr
func (p *Process) drainStderr(stderr io.Reader) {
	scan := bufio.NewScanner(stderr)
	scan.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scan.Scan() {
		p.logRing.Push(scan.Text())
	}
}

// Log 返回 stderr 日志环中最近的输出
func (p *Process) Log() []string {
	return p.logRing.Range()
}

// Wait 等待进程退出，非零退出码以 *exec.ExitError 形式返回
// 可被多个协程调用，结果一致
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		p.wg.Wait()
		close(p.done)
	})
	<-p.done
	return p.waitErr
}

// Done 进程退出后关闭
func (p *Process) Done() <-chan struct{} {
	go func() { _ = p.Wait() }()
	return p.done
}

// ExitCode 进程退出码，未退出时返回 -1
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
	default:
		return -1
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if p.waitErr != nil {
		return -1
	}
	return 0
}

// Interrupt 软中断：向 stdin 写 "q"，ffmpeg 会冲刷输出后自行退出
func (p *Process) Interrupt() {
	p.m.Lock()
	defer p.m.Unlock()
	if p.stopped {
		return
	}
	_, _ = p.stdin.Write([]byte("q"))
}

// Stop 软退出后等待 grace 时长，超时则杀死整个进程组
func (p *Process) Stop() error {
	p.m.Lock()
	if !p.started || p.stopped {
		p.m.Unlock()
		return nil
	}
	p.stopped = true
	_, _ = p.stdin.Write([]byte("q"))
	_ = p.stdin.Close()
	p.m.Unlock()

	waitCh := make(chan error, 1)
	go func() { waitCh <- p.Wait() }()

	select {
	case err := <-waitCh:
		return ignoreExit(err)
	case <-time.After(p.grace):
		p.KillTree()
		err := <-waitCh
		slog.Warn("ffmpeg 超时未退出，已强制终止", "name", p.name, "tail", tail(p.Log(), 3))
		return ignoreExit(err)
	}
}

// KillTree 杀死进程及其派生的全部子进程
func (p *Process) KillTree() {
	if p.cmd.Process == nil {
		return
	}
	pid := p.cmd.Process.Pid
	// 负 pid 表示整个进程组
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = p.cmd.Process.Kill()
	}
}

// ignoreExit 主动停止场景下，进程被杀或收到 q 退出都视为正常
func ignoreExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
