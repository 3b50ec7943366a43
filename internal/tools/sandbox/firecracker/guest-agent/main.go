//go:build linux

// Command guest-agent runs inside a Firecracker microVM and answers the
// host's vsock-framed GuestRequest/GuestResponse protocol (see
// ../vsock.go). Python code runs against a single persistent python3
// worker subprocess so state (imported modules, variables, open
// matplotlib figures) survives across calls; every other request type
// is handled directly in this process.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/agentplatform/core/internal/tools/sandbox/firecracker"
)

const workspaceDir = "/workspace"

func main() {
	agent := newAgent()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		fmt.Println("received shutdown signal")
		agent.shutdown()
	}()

	if err := os.MkdirAll(workspaceDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "create workspace: %v\n", err)
		os.Exit(1)
	}

	if err := agent.run(); err != nil {
		fmt.Fprintf(os.Stderr, "agent failed: %v\n", err)
		os.Exit(1)
	}
}

// agent dispatches framed GuestRequests arriving over vsock.
type agent struct {
	listener *firecracker.VsockListener
	py       *pyWorker
	execSeq  int

	mu         sync.Mutex
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

func newAgent() *agent {
	return &agent{
		py:         newPyWorker(),
		shutdownCh: make(chan struct{}),
	}
}

func (a *agent) run() error {
	listener, err := firecracker.NewVsockListener(firecracker.GuestAgentPort)
	if err != nil {
		return fmt.Errorf("create vsock listener: %w", err)
	}
	a.listener = listener

	fmt.Printf("guest agent listening on vsock port %d\n", firecracker.GuestAgentPort)

	for {
		select {
		case <-a.shutdownCh:
			return nil
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-a.shutdownCh:
				return nil
			default:
				fmt.Fprintf(os.Stderr, "accept error: %v\n", err)
				continue
			}
		}

		a.wg.Add(1)
		go a.handleConn(conn)
	}
}

func (a *agent) handleConn(conn io.ReadWriteCloser) {
	defer a.wg.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		select {
		case <-a.shutdownCh:
			return
		default:
		}

		req, err := readRequest(reader)
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "read request: %v\n", err)
			}
			return
		}

		resp := a.handle(req)
		if err := writeResponse(writer, resp); err != nil {
			fmt.Fprintf(os.Stderr, "write response: %v\n", err)
			return
		}

		if req.Type == firecracker.RequestTypeShutdown {
			a.shutdown()
			return
		}
	}
}

func readRequest(r io.Reader) (*firecracker.GuestRequest, error) {
	body, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	var req firecracker.GuestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}

func readFrame(r io.Reader) ([]byte, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length > firecracker.MaxMessageSize {
		return nil, fmt.Errorf("frame too large: %d bytes", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func writeResponse(w *bufio.Writer, resp *firecracker.GuestResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	lengthBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBuf, uint32(len(data)))
	if _, err := w.Write(lengthBuf); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Flush()
}

func (a *agent) handle(req *firecracker.GuestRequest) *firecracker.GuestResponse {
	switch req.Type {
	case firecracker.RequestTypePython:
		return a.handlePython(req)
	case firecracker.RequestTypeBash:
		return a.handleBash(req)
	case firecracker.RequestTypeWriteFile:
		return a.handleWriteFile(req, false)
	case firecracker.RequestTypeWriteFileB:
		return a.handleWriteFile(req, true)
	case firecracker.RequestTypeReadFile:
		return a.handleReadFile(req, false)
	case firecracker.RequestTypeReadFileB:
		return a.handleReadFile(req, true)
	case firecracker.RequestTypeListFiles:
		return a.handleListFiles(req)
	case firecracker.RequestTypeInstall:
		return a.handleInstall(req)
	case firecracker.RequestTypeGetState:
		return a.handleGetState(req)
	case firecracker.RequestTypeReset:
		return a.handleReset(req)
	case firecracker.RequestTypePing:
		return &firecracker.GuestResponse{ID: req.ID, Success: true, Extra: rawJSON(map[string]any{"pong": true, "exec_count": a.execSeq})}
	case firecracker.RequestTypeShutdown:
		return &firecracker.GuestResponse{ID: req.ID, Success: true}
	default:
		return &firecracker.GuestResponse{ID: req.ID, Error: fmt.Sprintf("unknown request type: %s", req.Type)}
	}
}

// handlePython proxies to the persistent python3 worker so imports and
// variables survive across cells.
func (a *agent) handlePython(req *firecracker.GuestRequest) *firecracker.GuestResponse {
	a.execSeq++
	cellID := req.CellID
	if cellID == "" {
		cellID = fmt.Sprintf("In[%d]", a.execSeq)
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	result, err := a.py.exec(req.Code, cellID, timeout)
	if err != nil {
		return &firecracker.GuestResponse{ID: req.ID, Error: fmt.Sprintf("python worker: %v", err)}
	}
	result.ID = req.ID
	return result
}

func (a *agent) handleBash(req *firecracker.GuestRequest) *firecracker.GuestResponse {
	timeout := time.Duration(req.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return runBash(req.ID, req.Command, timeout)
}

func (a *agent) handleInstall(req *firecracker.GuestRequest) *firecracker.GuestResponse {
	if len(req.Packages) == 0 {
		return &firecracker.GuestResponse{ID: req.ID, Error: "no packages specified"}
	}
	safe := make([]string, 0, len(req.Packages))
	for _, p := range req.Packages {
		if p = strings.TrimSpace(p); p != "" {
			safe = append(safe, p)
		}
	}
	cmd := fmt.Sprintf("pip3 install --quiet --no-cache-dir %s 2>&1", strings.Join(safe, " "))
	return runBash(req.ID, cmd, 120*time.Second)
}

func runBash(id uint64, command string, timeout time.Duration) *firecracker.GuestResponse {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/bash", "-c", command)
	cmd.Dir = "/tmp"
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin:/usr/local/sbin:/usr/sbin:/sbin",
		"HOME=/root", "LANG=C.UTF-8", "TMPDIR=/tmp",
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	elapsed := time.Since(start).Seconds()

	if ctx.Err() == context.DeadlineExceeded {
		return &firecracker.GuestResponse{
			ID: id, Success: false,
			Outputs:       []firecracker.Output{{Type: firecracker.OutputError, Content: fmt.Sprintf("timed out after %s", timeout)}},
			Error:         fmt.Sprintf("bash timed out after %s", timeout),
			ExitCode:      -1,
			ExecutionTime: elapsed,
		}
	}

	exitCode := 0
	var errText string
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		errText = runErr.Error()
	}

	outputs := []firecracker.Output{}
	if stdout.Len() > 0 {
		outputs = append(outputs, firecracker.Output{Type: firecracker.OutputText, Content: stdout.String()})
	}
	if stderr.Len() > 0 {
		outputs = append(outputs, firecracker.Output{Type: firecracker.OutputStderr, Content: stderr.String(), Name: "stderr"})
		if exitCode != 0 {
			outputs = append(outputs, firecracker.Output{Type: firecracker.OutputError, Content: stderr.String()})
		}
	}

	success := exitCode == 0 && errText == ""
	if errText == "" && exitCode != 0 {
		errText = stderr.String()
	}

	return &firecracker.GuestResponse{
		ID: id, Success: success, Outputs: outputs,
		Output: stdout.String(), Stderr: stderr.String(), Error: errText,
		ExitCode: exitCode, ExecutionTime: elapsed,
	}
}

func (a *agent) handleWriteFile(req *firecracker.GuestRequest, isBinary bool) *firecracker.GuestResponse {
	path, err := safeWorkspacePath(req.Path)
	if err != nil {
		return &firecracker.GuestResponse{ID: req.ID, Error: err.Error()}
	}
	content := []byte(req.Content)
	if isBinary {
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return &firecracker.GuestResponse{ID: req.ID, Error: fmt.Sprintf("decode base64 content: %v", err)}
		}
		content = decoded
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &firecracker.GuestResponse{ID: req.ID, Error: err.Error()}
		}
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return &firecracker.GuestResponse{ID: req.ID, Error: err.Error()}
	}
	return &firecracker.GuestResponse{ID: req.ID, Success: true, Extra: rawJSON(map[string]any{"path": path, "bytes_written": len(content)})}
}

func (a *agent) handleReadFile(req *firecracker.GuestRequest, isBinary bool) *firecracker.GuestResponse {
	path, err := safeWorkspacePath(req.Path)
	if err != nil {
		return &firecracker.GuestResponse{ID: req.ID, Error: err.Error()}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &firecracker.GuestResponse{ID: req.ID, Error: err.Error()}
	}
	if len(data) > firecracker.MaxOutputSize {
		data = data[:firecracker.MaxOutputSize]
	}
	if isBinary {
		return &firecracker.GuestResponse{ID: req.ID, Success: true, Extra: rawJSON(map[string]any{
			"path": path, "content": base64.StdEncoding.EncodeToString(data), "encoding": "base64", "size": len(data),
		})}
	}
	return &firecracker.GuestResponse{ID: req.ID, Success: true, Extra: rawJSON(map[string]any{"path": path, "content": string(data)})}
}

func (a *agent) handleListFiles(req *firecracker.GuestRequest) *firecracker.GuestResponse {
	path := req.Path
	if path == "" {
		path = workspaceDir
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return &firecracker.GuestResponse{ID: req.ID, Error: err.Error()}
	}
	type fileEntry struct {
		Name  string `json:"name"`
		IsDir bool   `json:"is_dir"`
		Size  int64  `json:"size"`
	}
	listed := make([]fileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		listed = append(listed, fileEntry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].Name < listed[j].Name })
	return &firecracker.GuestResponse{ID: req.ID, Success: true, Extra: rawJSON(map[string]any{"path": path, "entries": listed})}
}

func (a *agent) handleGetState(req *firecracker.GuestRequest) *firecracker.GuestResponse {
	vars, err := a.py.state()
	if err != nil {
		return &firecracker.GuestResponse{ID: req.ID, Error: fmt.Sprintf("python worker: %v", err)}
	}
	return &firecracker.GuestResponse{ID: req.ID, Success: true, Extra: rawJSON(map[string]any{
		"exec_count": a.execSeq, "variables": vars,
	})}
}

func (a *agent) handleReset(req *firecracker.GuestRequest) *firecracker.GuestResponse {
	if err := a.py.reset(); err != nil {
		return &firecracker.GuestResponse{ID: req.ID, Error: fmt.Sprintf("python worker: %v", err)}
	}
	a.execSeq = 0
	if err := os.RemoveAll(workspaceDir); err != nil {
		return &firecracker.GuestResponse{ID: req.ID, Error: err.Error()}
	}
	if err := os.MkdirAll(workspaceDir, 0755); err != nil {
		return &firecracker.GuestResponse{ID: req.ID, Error: err.Error()}
	}
	return &firecracker.GuestResponse{ID: req.ID, Success: true}
}

func safeWorkspacePath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}
	return filepath.Join(workspaceDir, filepath.Clean("/"+name)), nil
}

func rawJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func (a *agent) shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	select {
	case <-a.shutdownCh:
		return
	default:
		close(a.shutdownCh)
	}

	if a.listener != nil {
		a.listener.Close()
	}
	a.py.close()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		fmt.Println("shutdown timeout, forcing exit")
	}

	syscall.Sync()
	if err := syscall.Reboot(syscall.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		fmt.Fprintf(os.Stderr, "reboot failed: %v\n", err)
	}
}
