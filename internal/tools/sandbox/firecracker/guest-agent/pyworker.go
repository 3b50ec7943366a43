//go:build linux

package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentplatform/core/internal/tools/sandbox/firecracker"
)

// pyWorker owns a single long-lived python3 process that keeps one
// global namespace alive across handlePython calls, mirroring a
// Jupyter kernel's persistent execution state. Requests are serialized
// through mu since the embedded script has no concurrency of its own.
type pyWorker struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	started bool
}

func newPyWorker() *pyWorker {
	return &pyWorker{}
}

func (w *pyWorker) ensureStarted() error {
	if w.started {
		return nil
	}
	scriptPath := filepath.Join(os.TempDir(), "pyworker.py")
	if err := os.WriteFile(scriptPath, []byte(pyWorkerScript), 0644); err != nil {
		return fmt.Errorf("write worker script: %w", err)
	}

	cmd := exec.Command("python3", "-u", scriptPath)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start python3: %w", err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.stdout = bufio.NewReader(stdout)
	w.started = true
	return nil
}

type pyWorkerRequest struct {
	Op     string `json:"op"`
	Code   string `json:"code,omitempty"`
	CellID string `json:"cell_id,omitempty"`
}

func (w *pyWorker) roundTrip(req pyWorkerRequest, timeout time.Duration) (map[string]any, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStarted(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	lengthBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBuf, uint32(len(payload)))
	if _, err := w.stdin.Write(lengthBuf); err != nil {
		return nil, fmt.Errorf("write worker request length: %w", err)
	}
	if _, err := w.stdin.Write(payload); err != nil {
		return nil, fmt.Errorf("write worker request body: %w", err)
	}

	type result struct {
		resp map[string]any
		err  error
	}
	done := make(chan result, 1)
	go func() {
		respLenBuf := make([]byte, 4)
		if _, err := io.ReadFull(w.stdout, respLenBuf); err != nil {
			done <- result{err: fmt.Errorf("read worker response length: %w", err)}
			return
		}
		length := binary.BigEndian.Uint32(respLenBuf)
		body := make([]byte, length)
		if _, err := io.ReadFull(w.stdout, body); err != nil {
			done <- result{err: fmt.Errorf("read worker response body: %w", err)}
			return
		}
		var resp map[string]any
		if err := json.Unmarshal(body, &resp); err != nil {
			done <- result{err: fmt.Errorf("decode worker response: %w", err)}
			return
		}
		done <- result{resp: resp}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("python worker timed out after %s", timeout)
	}
}

func (w *pyWorker) exec(code, cellID string, timeout time.Duration) (*firecracker.GuestResponse, error) {
	resp, err := w.roundTrip(pyWorkerRequest{Op: "exec", Code: code, CellID: cellID}, timeout+5*time.Second)
	if err != nil {
		// The stuck reader goroutine from the timed-out round trip is
		// still attached to the old stdout pipe; restarting the worker
		// process is simpler than trying to resynchronize the stream.
		_ = w.reset()
		return nil, err
	}
	return decodeExecResult(resp), nil
}

func (w *pyWorker) state() (map[string]any, error) {
	resp, err := w.roundTrip(pyWorkerRequest{Op: "state"}, 10*time.Second)
	if err != nil {
		return nil, err
	}
	vars, _ := resp["variables"].(map[string]any)
	return vars, nil
}

func (w *pyWorker) reset() error {
	w.mu.Lock()
	if w.started && w.cmd != nil && w.cmd.Process != nil {
		w.stdin.Close()
		_ = w.cmd.Process.Kill()
		_, _ = w.cmd.Process.Wait()
		w.started = false
	}
	w.mu.Unlock()
	return w.ensureStarted()
}

func (w *pyWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started && w.cmd != nil && w.cmd.Process != nil {
		w.stdin.Close()
		_ = w.cmd.Process.Kill()
	}
}

func decodeExecResult(resp map[string]any) *firecracker.GuestResponse {
	result := &firecracker.GuestResponse{}
	if v, ok := resp["success"].(bool); ok {
		result.Success = v
	}
	if v, ok := resp["output"].(string); ok {
		result.Output = v
	}
	if v, ok := resp["stderr"].(string); ok {
		result.Stderr = v
	}
	if v, ok := resp["error"].(string); ok {
		result.Error = v
	}
	if v, ok := resp["execution_time"].(float64); ok {
		result.ExecutionTime = v
	}
	if v, ok := resp["cell_id"].(string); ok {
		result.CellID = v
	}
	if raw, ok := resp["outputs"].([]any); ok {
		for _, o := range raw {
			m, ok := o.(map[string]any)
			if !ok {
				continue
			}
			out := firecracker.Output{}
			if v, ok := m["type"].(string); ok {
				out.Type = firecracker.OutputType(v)
			}
			if v, ok := m["content"].(string); ok {
				out.Content = v
			}
			if v, ok := m["name"].(string); ok {
				out.Name = v
			}
			if v, ok := m["format"].(string); ok {
				out.Format = v
			}
			if v, ok := m["encoding"].(string); ok {
				out.Encoding = v
			}
			result.Outputs = append(result.Outputs, out)
		}
	}
	return result
}

// pyWorkerScript is a persistent exec() loop: it keeps one globals dict
// alive across requests and auto-captures matplotlib figures as base64
// PNG after each cell, the same way a Jupyter kernel would.
const pyWorkerScript = `#!/usr/bin/env python3
import base64, contextlib, io, json, struct, sys, time, traceback

MAX_OUTPUT = 1_000_000
_globals = {"__builtins__": __builtins__, "__name__": "__main__"}
_exec_count = 0


def _recv_exact(stream, n):
    buf = bytearray()
    while len(buf) < n:
        chunk = stream.read(n - len(buf))
        if not chunk:
            raise EOFError("stdin closed")
        buf.extend(chunk)
    return bytes(buf)


def recv_msg(stream):
    length = struct.unpack(">I", _recv_exact(stream, 4))[0]
    return json.loads(_recv_exact(stream, length))


def send_msg(stream, data):
    payload = json.dumps(data).encode("utf-8")
    stream.write(struct.pack(">I", len(payload)))
    stream.write(payload)
    stream.flush()


def capture_figures():
    captured = []
    try:
        plt = _globals.get("plt")
        if plt is None:
            for v in _globals.values():
                if hasattr(v, "get_fignums") and hasattr(v, "savefig"):
                    plt = v
                    break
        if plt is None or not hasattr(plt, "get_fignums"):
            return captured
        fignums = plt.get_fignums()
        for num in fignums:
            try:
                fig = plt.figure(num)
                buf = io.BytesIO()
                fig.savefig(buf, format="png", dpi=150, bbox_inches="tight")
                captured.append({
                    "type": "image",
                    "content": base64.b64encode(buf.getvalue()).decode("ascii"),
                    "name": "figure_%s.png" % num,
                    "format": "png",
                    "encoding": "base64",
                })
            except Exception:
                pass
        if fignums:
            plt.close("all")
    except Exception:
        pass
    return captured


def exec_cell(code, cell_id):
    global _exec_count
    _exec_count += 1
    if not cell_id:
        cell_id = "In[%d]" % _exec_count

    stdout_buf, stderr_buf = io.StringIO(), io.StringIO()
    start = time.monotonic()
    success, error = True, None
    try:
        with contextlib.redirect_stdout(stdout_buf), contextlib.redirect_stderr(stderr_buf):
            exec(compile(code, cell_id, "exec"), _globals)
    except SystemExit as e:
        success = int(e.code or 0) == 0
        if not success:
            error = "SystemExit(%s)" % e.code
    except Exception:
        success = False
        error = traceback.format_exc()

    elapsed = round(time.monotonic() - start, 4)
    stdout_text = stdout_buf.getvalue()[:MAX_OUTPUT]
    stderr_text = stderr_buf.getvalue()[:MAX_OUTPUT]

    outputs = []
    if stdout_text:
        outputs.append({"type": "text", "content": stdout_text, "encoding": "utf-8"})
    if stderr_text:
        outputs.append({"type": "stderr", "content": stderr_text, "name": "stderr", "encoding": "utf-8"})
    outputs.extend(capture_figures())
    if error:
        outputs.append({"type": "error", "content": error, "encoding": "utf-8"})

    return {
        "success": success, "outputs": outputs, "output": stdout_text,
        "stderr": stderr_text, "error": error, "execution_time": elapsed, "cell_id": cell_id,
    }


def describe_state():
    skip = {"__builtins__", "__name__", "__doc__", "__loader__", "__spec__", "__package__", "__file__"}
    variables = {}
    for k, v in _globals.items():
        if k.startswith("__") or k in skip:
            continue
        try:
            tname = type(v).__name__
            if hasattr(v, "shape"):
                repr_str = "%s%s" % (tname, v.shape)
            elif hasattr(v, "__len__"):
                repr_str = "%s[%d]" % (tname, len(v))
            else:
                repr_str = repr(v)[:120]
            variables[k] = {"type": tname, "repr": repr_str}
        except Exception:
            variables[k] = {"type": type(v).__name__, "repr": "<unprintable>"}
    return variables


def main():
    stdin = sys.stdin.buffer
    stdout = sys.stdout.buffer
    while True:
        try:
            req = recv_msg(stdin)
        except EOFError:
            return
        op = req.get("op", "exec")
        if op == "exec":
            send_msg(stdout, exec_cell(req.get("code", ""), req.get("cell_id", "")))
        elif op == "state":
            send_msg(stdout, {"success": True, "variables": describe_state()})
        else:
            send_msg(stdout, {"success": False, "error": "unknown op: %r" % op})


if __name__ == "__main__":
    main()
`
