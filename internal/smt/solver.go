package smt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ErrUnavailable is returned when the solver binary cannot be run
var ErrUnavailable = errors.New("smt solver unavailable")

// Status is a solver verdict
type Status string

const (
	StatusSat     Status = "sat"
	StatusUnsat   Status = "unsat"
	StatusUnknown Status = "unknown"
)

// Result is the outcome of one solver run
type Result struct {
	Solver string
	Status Status
	// UnsatCore lists the clause labels of the unsat core, sorted
	UnsatCore []string
	Elapsed   time.Duration
}

// Solver runs a script and reports a verdict
type Solver interface {
	Name() string
	Available(ctx context.Context) bool
	Check(ctx context.Context, script Script) (Result, error)
}

// runFunc executes the solver with the script on stdin and returns stdout
type runFunc func(ctx context.Context, binary string, args []string, stdin string) ([]byte, error)

func runCommand(ctx context.Context, binary string, args []string, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil && stdout.Len() == 0 {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	// z3 exits non-zero when get-unsat-core follows a sat answer; the verdict is still on stdout
	return stdout.Bytes(), nil
}

// ExecSolver runs an SMT-LIB2 solver binary such as z3
type ExecSolver struct {
	binary  string
	args    []string
	timeout time.Duration
	health  *HealthCache
	run     runFunc
}

// NewExecSolver creates a solver around a binary. A zero timeout means none.
func NewExecSolver(binary string, args []string, timeout time.Duration) *ExecSolver {
	if binary == "" {
		binary = "z3"
	}
	if args == nil {
		args = []string{"-in", "-smt2"}
	}
	return &ExecSolver{
		binary:  binary,
		args:    append([]string(nil), args...),
		timeout: timeout,
		health:  NewHealthCache(0),
		run:     runCommand,
	}
}

// WithHealthCache shares a health cache between solvers
func (s *ExecSolver) WithHealthCache(h *HealthCache) *ExecSolver {
	if h != nil {
		s.health = h
	}
	return s
}

// Name returns the binary name
func (s *ExecSolver) Name() string {
	return s.binary
}

// Available reports whether the binary can be found
func (s *ExecSolver) Available(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return s.health.Available(s.binary)
}

// Check runs the script. A timeout is an unknown verdict, not an error.
func (s *ExecSolver) Check(ctx context.Context, script Script) (Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := s.run(ctx, s.binary, s.args, script.Text)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Solver: s.binary, Status: StatusUnknown, Elapsed: elapsed}, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Result{}, fmt.Errorf("run solver %s: %w", s.binary, err)
	}

	res, err := ParseOutput(out, script.Clauses)
	if err != nil {
		return Result{}, err
	}
	res.Solver = s.binary
	res.Elapsed = elapsed
	return res, nil
}

// ParseOutput reads the verdict and, for unsat, the core of named assertions.
// Core names are mapped through clauses when a label is known.
func ParseOutput(out []byte, clauses map[string]string) (Result, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	res := Result{Status: StatusUnknown}

	i := 0
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i == len(lines) {
		return res, fmt.Errorf("parse solver output: no verdict")
	}
	line := strings.TrimSpace(lines[i])
	switch Status(line) {
	case StatusSat, StatusUnsat, StatusUnknown:
		res.Status = Status(line)
	default:
		return res, fmt.Errorf("parse solver output: unexpected line %q", line)
	}
	if res.Status != StatusUnsat {
		return res, nil
	}

	rest := strings.TrimSpace(strings.Join(lines[i+1:], " "))
	if !strings.HasPrefix(rest, "(") || strings.HasPrefix(rest, "(error") {
		return res, nil
	}
	end := strings.Index(rest, ")")
	if end < 0 {
		return res, nil
	}
	for _, name := range strings.Fields(rest[1:end]) {
		name = strings.Trim(name, "|")
		if label, ok := clauses[name]; ok {
			name = name + ": " + label
		}
		res.UnsatCore = append(res.UnsatCore, name)
	}
	sort.Strings(res.UnsatCore)
	return res, nil
}

// HealthCache remembers whether a solver binary can be found, so a missing
// binary is checked once per TTL rather than once per expression
type HealthCache struct {
	cache  *gocache.Cache
	lookup func(binary string) (string, error)
}

// NewHealthCache creates a health cache with the given TTL
func NewHealthCache(ttl time.Duration) *HealthCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HealthCache{
		cache:  gocache.New(ttl, 2*ttl),
		lookup: exec.LookPath,
	}
}

// Available reports whether the binary resolves on PATH
func (h *HealthCache) Available(binary string) bool {
	if v, found := h.cache.Get(binary); found {
		return v.(bool)
	}
	_, err := h.lookup(binary)
	ok := err == nil
	h.cache.SetDefault(binary, ok)
	return ok
}

// Invalidate forgets the cached answer for a binary
func (h *HealthCache) Invalidate(binary string) {
	h.cache.Delete(binary)
}
