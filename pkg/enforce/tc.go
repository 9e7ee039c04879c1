package enforce

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec and folds stderr into the error.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}

// TCSink shapes a Linux interface with an HTB qdisc via tc(8).
//
// The hierarchy is root qdisc 1:, root class 1:1, and one leaf class 1:<id>
// per ClassSpec with u32 destination filters. Class minors are written in
// hex, as tc parses them.
type TCSink struct {
	runner Runner
	bin    string
	logger *slog.Logger
}

// NewTCSink creates a sink running bin (default "tc") through runner
// (default ExecRunner).
func NewTCSink(runner Runner, bin string, logger *slog.Logger) *TCSink {
	if runner == nil {
		runner = ExecRunner{}
	}
	if bin == "" {
		bin = "tc"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TCSink{runner: runner, bin: bin, logger: logger}
}

func (s *TCSink) Name() string { return "tc" }

func (s *TCSink) Install(ctx context.Context, dev string, h Hierarchy) error {
	// A missing root qdisc makes the delete fail, which is expected on a
	// fresh interface.
	if err := s.runner.Run(ctx, s.bin, "qdisc", "del", "dev", dev, "root"); err != nil {
		s.logger.Debug("no root qdisc to delete", "dev", dev, "error", err)
	}

	root := bits(h.RootRateBps)
	cmds := [][]string{
		{"qdisc", "add", "dev", dev, "root", "handle", "1:", "htb", "default", fmt.Sprintf("%x", h.DefaultClass)},
		{"class", "add", "dev", dev, "parent", "1:", "classid", "1:1", "htb", "rate", root, "ceil", root},
	}
	for _, c := range h.Classes {
		cmds = append(cmds, []string{
			"class", "add", "dev", dev, "parent", "1:1", "classid", classID(c.ID),
			"htb", "rate", bits(c.RateBps), "ceil", bits(c.CeilBps),
		})
		for _, dst := range c.Match {
			cmds = append(cmds, []string{
				"filter", "add", "dev", dev, "protocol", "ip", "parent", "1:0", "prio", "1",
				"u32", "match", "ip", "dst", dst, "flowid", classID(c.ID),
			})
		}
	}

	for _, args := range cmds {
		if err := s.runner.Run(ctx, s.bin, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *TCSink) ChangeClass(ctx context.Context, dev string, c ClassSpec) error {
	return s.runner.Run(ctx, s.bin,
		"class", "change", "dev", dev, "parent", "1:1", "classid", classID(c.ID),
		"htb", "rate", bits(c.RateBps), "ceil", bits(c.CeilBps),
	)
}

func classID(id uint16) string { return fmt.Sprintf("1:%x", id) }

func bits(bps uint64) string { return fmt.Sprintf("%dbit", bps) }

// LogSink only logs what it would do. It never fails.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Install(_ context.Context, target string, h Hierarchy) error {
	s.logger.Info("install hierarchy",
		"target", target,
		"root_bps", h.RootRateBps,
		"default_class", h.DefaultClass,
		"classes", len(h.Classes),
	)
	return nil
}

func (s *LogSink) ChangeClass(_ context.Context, target string, c ClassSpec) error {
	s.logger.Info("change class",
		"target", target,
		"class", c.ID,
		"rate_bps", c.RateBps,
		"ceil_bps", c.CeilBps,
	)
	return nil
}
