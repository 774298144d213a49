package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/asaengine/pkg/metrics"
	"github.com/cuemby/asaengine/pkg/types"
)

// ValidationError describes one PatchSet validation failure.
type ValidationError struct {
	Index   int
	Patch   types.Patch
	Message string
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("patch[%d] %s: %s", v.Index, v.Patch.FilePath, v.Message)
}

// ValidationErrors aggregates one or more ValidationError.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

type appliedRecord struct {
	relPath    string
	backupPath string
}

// Applicator applies PatchSets to files rooted at a single workspace.
type Applicator struct {
	workspace string
	applied   []appliedRecord
}

// New creates an Applicator rooted at workspace.
func New(workspace string) *Applicator {
	return &Applicator{workspace: workspace}
}

// Validate checks every patch in ps against the workspace's current file
// state. With failFast it stops at the first violation; otherwise it
// accumulates every violation found. It returns nil when ps is clean, or a
// ValidationErrors (which implements error) otherwise.
func (a *Applicator) Validate(ps *types.PatchSet, failFast bool) error {
	var errs ValidationErrors

	for i, p := range ps.Patches {
		if err := a.validateOne(p); err != nil {
			errs = append(errs, ValidationError{Index: i, Patch: p, Message: err.Error()})
			metrics.PatchValidationFailuresTotal.WithLabelValues(classifyValidationFailure(err.Error())).Inc()
			if failFast {
				return errs
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// classifyValidationFailure buckets a validateOne error message into a
// small, stable label set for PatchValidationFailuresTotal.
func classifyValidationFailure(msg string) string {
	switch {
	case strings.Contains(msg, "does not exist"):
		return "missing_file"
	case strings.Contains(msg, "is a directory"):
		return "not_a_file"
	case strings.Contains(msg, "line"):
		return "bad_line_range"
	case strings.Contains(msg, "replacement text"):
		return "missing_replacement_text"
	case strings.Contains(msg, "unknown operation"):
		return "unknown_operation"
	default:
		return "other"
	}
}

func (a *Applicator) validateOne(p types.Patch) error {
	abs, err := a.resolve(p.FilePath)
	if err != nil {
		return err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("file does not exist: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory")
	}

	if p.StartLine < 1 {
		return fmt.Errorf("start line must be >= 1, got %d", p.StartLine)
	}
	if p.EndLine < p.StartLine {
		return fmt.Errorf("end line (%d) must be >= start line (%d)", p.EndLine, p.StartLine)
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	lineCount := len(splitLines(content))

	maxEnd := lineCount
	if p.Operation == types.PatchInsert {
		// An insert may target the position immediately after the last
		// line (appending to the file), which is one past the last valid
		// replace/delete endpoint.
		maxEnd = lineCount + 1
	}
	if p.EndLine > maxEnd {
		return fmt.Errorf("end line (%d) exceeds file length (%d)", p.EndLine, lineCount)
	}

	switch p.Operation {
	case types.PatchReplace, types.PatchInsert:
		if strings.TrimSpace(p.ReplacementText) == "" {
			return fmt.Errorf("replacement text is required for %s", p.Operation)
		}
	case types.PatchDelete:
	default:
		return fmt.Errorf("unknown operation %q", p.Operation)
	}

	return nil
}

// Apply validates then applies every patch in ps, in order. If any patch
// fails, every patch already applied in this call is rolled back before
// the error is returned — a partially applied PatchSet is never left on
// disk.
func (a *Applicator) Apply(ps *types.PatchSet) error {
	if err := a.Validate(ps, true); err != nil {
		metrics.PatchApplyTotal.WithLabelValues("validation_failed").Inc()
		return err
	}

	mark := len(a.applied)
	for _, p := range ps.Patches {
		if err := a.applyOne(p); err != nil {
			earlier := a.applied[:mark:mark]
			a.applied = a.applied[mark:]
			a.Rollback()
			a.applied = earlier
			metrics.PatchApplyTotal.WithLabelValues("apply_failed").Inc()
			return fmt.Errorf("failed to apply patch to %s: %w", p.FilePath, err)
		}
	}
	metrics.PatchApplyTotal.WithLabelValues("success").Inc()
	return nil
}

func (a *Applicator) applyOne(p types.Patch) error {
	abs, err := a.resolve(p.FilePath)
	if err != nil {
		return err
	}

	backupPath, err := a.backup(p.FilePath, abs)
	if err != nil {
		return fmt.Errorf("failed to back up file: %w", err)
	}
	a.applied = append(a.applied, appliedRecord{relPath: p.FilePath, backupPath: backupPath})

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	lines := splitLines(content)

	newLines, err := splice(lines, p)
	if err != nil {
		return err
	}

	if err := writeAtomic(abs, []byte(strings.Join(newLines, ""))); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Rollback restores every file this Applicator has touched since the last
// Rollback, in reverse application order, then clears the applied list.
func (a *Applicator) Rollback() error {
	var firstErr error
	for i := len(a.applied) - 1; i >= 0; i-- {
		rec := a.applied[i]
		abs, err := a.resolve(rec.relPath)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		data, err := os.ReadFile(rec.backupPath)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to read backup %s: %w", rec.backupPath, err)
			}
			continue
		}
		if err := writeAtomic(abs, data); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to restore %s: %w", rec.relPath, err)
			}
		}
	}
	a.applied = nil
	return firstErr
}

// Preview renders a human-readable diff-like preview of p without applying
// it, showing contextLines of unchanged lines around the change and
// annotating new lines with "+".
func (a *Applicator) Preview(p types.Patch, contextLines int) (string, error) {
	abs, err := a.resolve(p.FilePath)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	lines := splitLines(content)

	start := p.StartLine - 1 - contextLines
	if start < 0 {
		start = 0
	}
	end := p.EndLine + contextLines
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", p.FilePath)
	for i := start; i < p.StartLine-1 && i < len(lines); i++ {
		fmt.Fprintf(&b, "  %4d | %s", i+1, lines[i])
	}
	switch p.Operation {
	case types.PatchDelete:
		for i := p.StartLine - 1; i < p.EndLine && i < len(lines); i++ {
			fmt.Fprintf(&b, "- %4d | %s", i+1, lines[i])
		}
	case types.PatchInsert:
		for _, repl := range strings.SplitAfter(normalize(p.ReplacementText), "\n") {
			if repl == "" {
				continue
			}
			fmt.Fprintf(&b, "+      | %s", repl)
		}
	case types.PatchReplace:
		for i := p.StartLine - 1; i < p.EndLine && i < len(lines); i++ {
			fmt.Fprintf(&b, "- %4d | %s", i+1, lines[i])
		}
		for _, repl := range strings.SplitAfter(normalize(p.ReplacementText), "\n") {
			if repl == "" {
				continue
			}
			fmt.Fprintf(&b, "+      | %s", repl)
		}
	}
	for i := p.EndLine; i < end; i++ {
		fmt.Fprintf(&b, "  %4d | %s", i+1, lines[i])
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "\n# %s\n", p.Description)
	}
	return b.String(), nil
}

func (a *Applicator) resolve(relPath string) (string, error) {
	abs := filepath.Join(a.workspace, relPath)
	rel, err := filepath.Rel(a.workspace, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes workspace", relPath)
	}
	return abs, nil
}

func (a *Applicator) backup(relPath, abs string) (string, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(relPath)
	base := filepath.Base(relPath)
	backupDir := filepath.Join(a.workspace, ".backups", dir)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s.%s.bak", base, strconv.FormatInt(time.Now().UnixNano(), 10))
	backupPath := filepath.Join(backupDir, name)
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", err
	}
	return backupPath, nil
}

// splice applies one patch's operation to a line sequence where each
// element already carries its own trailing line terminator, so
// strings.Join(lines, "") reconstructs the exact file content.
func splice(lines []string, p types.Patch) ([]string, error) {
	start := p.StartLine - 1
	end := p.EndLine
	if start > len(lines) || end > len(lines) {
		if p.Operation != types.PatchInsert || start != len(lines) {
			return nil, fmt.Errorf("patch range [%d,%d] out of bounds for %d lines", p.StartLine, p.EndLine, len(lines))
		}
	}

	switch p.Operation {
	case types.PatchReplace:
		out := make([]string, 0, len(lines)-(end-start)+1)
		out = append(out, lines[:start]...)
		out = append(out, normalize(p.ReplacementText))
		out = append(out, lines[end:]...)
		return out, nil
	case types.PatchInsert:
		out := make([]string, 0, len(lines)+1)
		out = append(out, lines[:start]...)
		out = append(out, normalize(p.ReplacementText))
		out = append(out, lines[start:]...)
		return out, nil
	case types.PatchDelete:
		out := make([]string, 0, len(lines)-(end-start))
		out = append(out, lines[:start]...)
		out = append(out, lines[end:]...)
		return out, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", p.Operation)
	}
}

func normalize(text string) string {
	if !strings.HasSuffix(text, "\n") {
		return text + "\n"
	}
	return text
}

func splitLines(content []byte) []string {
	s := string(content)
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".patch-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if info, statErr := os.Stat(path); statErr == nil {
		_ = os.Chmod(tmpPath, info.Mode())
	}
	return os.Rename(tmpPath, path)
}
