package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Termination tells why a sandboxed run ended.
type Termination string

const (
	TermNormal         Termination = "NORMAL"
	TermTimeout        Termination = "TIMEOUT"
	TermMemoryExceeded Termination = "MEMORY_EXCEEDED"
	TermSignal         Termination = "SIGNAL"
	TermInternal       Termination = "INTERNAL"
)

// RunReport is the sandbox's account of one execution. The sandbox enforces
// the limits; the engine only reads the reported termination.
type RunReport struct {
	Stdout       string
	Stderr       string
	ExitCode     int
	WallTimeMS   int64
	PeakMemoryKB int64
	Termination  Termination
}

// CompileReport is the outcome of the compile (or syntax-check) phase.
// ArtifactID references the cached build product for subsequent runs.
type CompileReport struct {
	OK          bool
	Diagnostics string
	ArtifactID  string
	WallTimeMS  int64
}

// Sandbox abstracts the isolated executor. Implementations must enforce the
// given limits and never run the payload in-process.
type Sandbox interface {
	// Compile prepares source for execution and caches the artifact.
	Compile(ctx context.Context, lang Language, source string, timeLimitMS, memoryLimitMB int) (*CompileReport, error)
	// Run executes a prepared artifact against stdin under the limits.
	Run(ctx context.Context, lang Language, artifactID, stdin string, timeLimitMS, memoryLimitMB int) (*RunReport, error)
	// Cleanup drops cached artifacts (best-effort).
	Cleanup(ctx context.Context, artifactIDs ...string) error
}

// sandboxLangConfig describes how one language compiles and runs inside the
// go-judge executor.
type sandboxLangConfig struct {
	SourceName   string
	CompileArgs  []string
	CacheOut     []string
	ArtifactKey  string
	RunArgs      []string
}

// Every language gets a compile phase: real compilers for the compiled
// languages, a syntax check for the interpreted ones, so COMPILATION_ERROR is
// reportable uniformly.
var sandboxLangConfigs = map[Language]sandboxLangConfig{
	LangC: {
		SourceName:  "main.c",
		CompileArgs: []string{"/usr/bin/gcc", "main.c", "-std=gnu17", "-O2", "-pipe", "-static", "-s", "-o", "main"},
		CacheOut:    []string{"main"},
		ArtifactKey: "main",
		RunArgs:     []string{"./main"},
	},
	LangCpp: {
		SourceName:  "main.cpp",
		CompileArgs: []string{"/usr/bin/g++", "main.cpp", "-std=gnu++17", "-O2", "-pipe", "-s", "-o", "main"},
		CacheOut:    []string{"main"},
		ArtifactKey: "main",
		RunArgs:     []string{"./main"},
	},
	LangPython: {
		SourceName:  "main.py",
		CompileArgs: []string{"/usr/bin/python3", "-m", "py_compile", "main.py"},
		CacheOut:    []string{"main.py"},
		ArtifactKey: "main.py",
		RunArgs:     []string{"/usr/bin/python3", "main.py"},
	},
	LangJavaScript: {
		SourceName:  "main.js",
		CompileArgs: []string{"/usr/bin/node", "--check", "main.js"},
		CacheOut:    []string{"main.js"},
		ArtifactKey: "main.js",
		RunArgs:     []string{"/usr/bin/node", "main.js"},
	},
	LangTypeScript: {
		SourceName:  "main.ts",
		CompileArgs: []string{"/bin/sh", "-c", "tsc --outFile main.js main.ts"},
		CacheOut:    []string{"main.js"},
		ArtifactKey: "main.js",
		RunArgs:     []string{"/usr/bin/node", "main.js"},
	},
	LangJava: {
		SourceName:  "Main.java",
		CompileArgs: []string{"/bin/sh", "-c", "javac Main.java && jar cfe Main.jar Main *.class"},
		CacheOut:    []string{"Main.jar"},
		ArtifactKey: "Main.jar",
		RunArgs:     []string{"/usr/bin/java", "-jar", "Main.jar"},
	},
	LangGo: {
		SourceName:  "main.go",
		CompileArgs: []string{"/bin/sh", "-c", "GOCACHE=/tmp/gocache /usr/local/go/bin/go build -o main main.go"},
		CacheOut:    []string{"main"},
		ArtifactKey: "main",
		RunArgs:     []string{"./main"},
	},
	LangRust: {
		SourceName:  "main.rs",
		CompileArgs: []string{"/usr/bin/rustc", "-O", "-o", "main", "main.rs"},
		CacheOut:    []string{"main"},
		ArtifactKey: "main",
		RunArgs:     []string{"./main"},
	},
}

// HTTPSandbox calls a go-judge compatible HTTP executor.
type HTTPSandbox struct {
	client *http.Client
	base   string
}

func NewHTTPSandbox(baseURL string) *HTTPSandbox {
	return &HTTPSandbox{
		client: &http.Client{Timeout: 60 * time.Second},
		base:   baseURL,
	}
}

// go-judge wire structures

type sandboxFile struct {
	Name    string  `json:"name,omitempty"`
	Max     int     `json:"max,omitempty"`
	Content *string `json:"content,omitempty"`
	FileID  string  `json:"fileId,omitempty"`
}

type sandboxCommand struct {
	Args          []string               `json:"args"`
	Env           []string               `json:"env,omitempty"`
	Files         []sandboxFile          `json:"files"`
	CPULimit      int64                  `json:"cpuLimit"`
	MemoryLimit   int64                  `json:"memoryLimit"`
	ProcLimit     int32                  `json:"procLimit"`
	CopyIn        map[string]sandboxFile `json:"copyIn,omitempty"`
	CopyOut       []string               `json:"copyOut,omitempty"`
	CopyOutCached []string               `json:"copyOutCached,omitempty"`
}

type sandboxResponse struct {
	Status     string            `json:"status"`
	Time       int64             `json:"time"`   // ns
	Memory     int64             `json:"memory"` // bytes
	ExitStatus int               `json:"exitStatus"`
	Error      string            `json:"error"`
	Files      map[string]string `json:"files"`
	FileIDs    map[string]string `json:"fileIds"`
}

const (
	sandboxStdioMax  = 10_000_000 // stdout cap inside the executor
	sandboxStderrMax = 256 * 1024
	sandboxProcLimit = 50
)

func (s *HTTPSandbox) Compile(ctx context.Context, lang Language, source string, timeLimitMS, memoryLimitMB int) (*CompileReport, error) {
	cfg, ok := sandboxLangConfigs[lang]
	if !ok {
		return nil, fmt.Errorf("%w: no sandbox config for %s", ErrValidation, lang)
	}
	if timeLimitMS <= 0 {
		timeLimitMS = 5000
	}
	if memoryLimitMB <= 0 {
		memoryLimitMB = 256
	}

	cmd := sandboxCommand{
		Args:          cfg.CompileArgs,
		Env:           []string{"PATH=/usr/local/go/bin:/usr/bin:/bin"},
		Files:         []sandboxFile{{Name: "stdout", Max: sandboxStderrMax}, {Name: "stderr", Max: sandboxStderrMax}},
		CPULimit:      int64(timeLimitMS) * 1_000_000,
		MemoryLimit:   int64(memoryLimitMB) * 1024 * 1024,
		ProcLimit:     sandboxProcLimit,
		CopyIn:        map[string]sandboxFile{cfg.SourceName: {Content: &source}},
		CopyOutCached: cfg.CacheOut,
	}

	res, err := s.post(ctx, cmd)
	if err != nil {
		return nil, err
	}

	report := &CompileReport{WallTimeMS: res.Time / 1_000_000}
	switch res.Status {
	case "Accepted":
		if res.ExitStatus != 0 {
			report.Diagnostics = res.Files["stderr"]
			return report, nil
		}
		report.OK = true
		report.ArtifactID = res.FileIDs[cfg.ArtifactKey]
		if report.ArtifactID == "" {
			return nil, fmt.Errorf("%w: compile produced no artifact", ErrSandboxInternal)
		}
		return report, nil
	case "Nonzero Exit Status", "Signalled":
		report.Diagnostics = res.Files["stderr"]
		if report.Diagnostics == "" {
			report.Diagnostics = res.Error
		}
		return report, nil
	case "Time Limit Exceeded", "Memory Limit Exceeded", "Output Limit Exceeded":
		report.Diagnostics = "compiler exceeded resource limits"
		return report, nil
	default:
		return nil, fmt.Errorf("%w: compile status %s: %s", ErrSandboxInternal, res.Status, res.Error)
	}
}

func (s *HTTPSandbox) Run(ctx context.Context, lang Language, artifactID, stdin string, timeLimitMS, memoryLimitMB int) (*RunReport, error) {
	cfg, ok := sandboxLangConfigs[lang]
	if !ok {
		return nil, fmt.Errorf("%w: no sandbox config for %s", ErrValidation, lang)
	}
	if artifactID == "" {
		return nil, errors.New("empty artifact id")
	}
	if timeLimitMS <= 0 {
		timeLimitMS = 2000
	}
	if memoryLimitMB <= 0 {
		memoryLimitMB = 256
	}

	cmd := sandboxCommand{
		Args: cfg.RunArgs,
		Env:  []string{"PATH=/usr/local/go/bin:/usr/bin:/bin"},
		Files: []sandboxFile{
			{Content: &stdin},
			{Name: "stdout", Max: sandboxStdioMax},
			{Name: "stderr", Max: sandboxStderrMax},
		},
		CPULimit:    int64(timeLimitMS) * 1_000_000,
		MemoryLimit: int64(memoryLimitMB) * 1024 * 1024,
		ProcLimit:   sandboxProcLimit,
		CopyIn:      map[string]sandboxFile{cfg.ArtifactKey: {FileID: artifactID}},
	}

	res, err := s.post(ctx, cmd)
	if err != nil {
		return nil, err
	}

	report := &RunReport{
		Stdout:       res.Files["stdout"],
		Stderr:       res.Files["stderr"],
		ExitCode:     res.ExitStatus,
		WallTimeMS:   res.Time / 1_000_000,
		PeakMemoryKB: res.Memory / 1024,
	}
	switch res.Status {
	case "Accepted":
		report.Termination = TermNormal
	case "Nonzero Exit Status":
		report.Termination = TermNormal
	case "Time Limit Exceeded":
		report.Termination = TermTimeout
	case "Memory Limit Exceeded":
		report.Termination = TermMemoryExceeded
	case "Output Limit Exceeded", "Signalled":
		report.Termination = TermSignal
	default:
		report.Termination = TermInternal
	}
	return report, nil
}

// Cleanup deletes cached artifacts; missing files are not an error.
func (s *HTTPSandbox) Cleanup(ctx context.Context, artifactIDs ...string) error {
	if s.base == "" {
		return errors.New("sandbox url not configured")
	}
	for _, id := range artifactIDs {
		if strings.TrimSpace(id) == "" {
			continue
		}
		endpoint := fmt.Sprintf("%s/file/%s", s.base, url.PathEscape(id))
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("sandbox file delete returned %d for %s", resp.StatusCode, id)
		}
	}
	return nil
}

func (s *HTTPSandbox) post(ctx context.Context, cmd sandboxCommand) (*sandboxResponse, error) {
	if s.base == "" {
		return nil, errors.New("sandbox url not configured")
	}

	payload := map[string]any{"cmd": []sandboxCommand{cmd}}
	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/run", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSandboxInternal, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var textErr string
		_ = json.NewDecoder(resp.Body).Decode(&textErr)
		return nil, fmt.Errorf("%w: sandbox returned %d: %s", ErrSandboxInternal, resp.StatusCode, textErr)
	}
	var body []sandboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSandboxInternal, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty sandbox response", ErrSandboxInternal)
	}
	return &body[0], nil
}
