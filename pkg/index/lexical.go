package index

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// skipDirs are directories never worth walking for source content.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, "dist": true, "build": true,
}

// maxFileBytes bounds how large a file this index will scan; larger files
// are skipped rather than loaded whole into memory.
const maxFileBytes = 2 << 20 // 2MiB

// maxContextBytes bounds the excerpt Context returns.
const maxContextBytes = 8192

// LexicalIndex is a token/substring search over a workspace's text files.
// It never fails to build — at worst it indexes nothing — which is why
// Build's degraded return is always true: this is the fallback strategy,
// never the primary one.
type LexicalIndex struct {
	files []string // absolute paths, populated by Build
}

// NewLexicalIndex returns an empty index; call Build before Context.
func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{}
}

// Build walks workspace and records every plausible source file. It
// always reports degraded=true: a lexical index is the fallback this
// package exists to provide, never the semantic one.
func (l *LexicalIndex) Build(ctx context.Context, workspace string) (bool, error) {
	l.files = nil

	err := filepath.WalkDir(workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, don't fail the whole walk
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if info, statErr := d.Info(); statErr == nil && info.Size() > maxFileBytes {
			return nil
		}
		if isLikelySource(path) {
			l.files = append(l.files, path)
		}
		return nil
	})
	if err != nil {
		return true, err
	}
	return true, nil
}

// Context returns newline-joined excerpts from indexed files whose lines
// mention a token from query, truncated to maxContextBytes.
func (l *LexicalIndex) Context(ctx context.Context, workspace, query string) (string, error) {
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return "", nil
	}

	type hit struct {
		file string
		line int
		text string
	}
	var hits []hit

	for _, path := range l.files {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if matchesAnyToken(line, tokens) {
				rel, _ := filepath.Rel(workspace, path)
				hits = append(hits, hit{file: rel, line: lineNo, text: strings.TrimSpace(line)})
			}
		}
		f.Close()
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].file < hits[j].file })

	var b strings.Builder
	for _, h := range hits {
		entry := fmt.Sprintf("%s:%d: %s\n", h.file, h.line, h.text)
		if b.Len()+len(entry) > maxContextBytes {
			break
		}
		b.WriteString(entry)
	}
	return b.String(), nil
}

func isLikelySource(path string) bool {
	switch filepath.Ext(path) {
	case ".go", ".py", ".js", ".ts", ".jsx", ".tsx", ".java", ".rb", ".rs", ".c", ".h", ".cpp", ".hpp",
		".cs", ".php", ".sh", ".yaml", ".yml", ".json", ".md", ".txt", ".sql":
		return true
	default:
		return false
	}
}

func queryTokens(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	var tokens []string
	for _, f := range fields {
		if len(f) >= 3 {
			tokens = append(tokens, strings.ToLower(f))
		}
	}
	return tokens
}

func matchesAnyToken(line string, tokens []string) bool {
	lower := strings.ToLower(line)
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
