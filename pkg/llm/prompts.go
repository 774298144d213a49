package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/types"
)

// PromptStore loads the immutable, versioned prompt records the gateway
// renders for ChatWithPrompt.
type PromptStore interface {
	LoadPromptVersion(ctx context.Context, purpose types.Purpose, version string) (*types.PromptVersion, error)
}

// promptCache caches PromptVersions in-process, keyed by purpose+version,
// since a record is immutable once written.
type promptCache struct {
	mu    sync.RWMutex
	byKey map[string]*types.PromptVersion
}

func newPromptCache() *promptCache {
	return &promptCache{byKey: make(map[string]*types.PromptVersion)}
}

func (c *promptCache) get(purpose types.Purpose, version string) (*types.PromptVersion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pv, ok := c.byKey[key(purpose, version)]
	return pv, ok
}

func (c *promptCache) put(pv *types.PromptVersion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[key(pv.Purpose, pv.SemanticVersion)] = pv
}

func key(purpose types.Purpose, version string) string {
	return string(purpose) + "@" + version
}

func (g *Gateway) loadPrompt(ctx context.Context, purpose types.Purpose, version string) (*types.PromptVersion, error) {
	if pv, ok := g.prompts.get(purpose, version); ok {
		return pv, nil
	}
	pv, err := g.promptStore.LoadPromptVersion(ctx, purpose, version)
	if err != nil {
		return nil, fmt.Errorf("load prompt %s@%s: %w", purpose, version, err)
	}
	g.prompts.put(pv)
	return pv, nil
}

// renderPrompt fills the prompt's user template with vars.
func renderPrompt(pv *types.PromptVersion, vars map[string]any) (string, error) {
	tmpl, err := template.New(string(pv.Purpose)).Option("missingkey=error").Parse(pv.UserPromptTemplate)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return buf.String(), nil
}

// validateOutput does a best-effort structural check of a chat_with_prompt
// response against a prompt's OutputSchema, which this gateway treats as a
// comma-separated list of required top-level JSON keys. Neither the
// teacher nor the rest of the retrieval pack carries a JSON-schema
// validation library, so this stays a small hand-rolled check rather than
// reaching for one out of the blue.
func validateOutput(schema, raw string) (map[string]any, error) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, aerrors.New(aerrors.KindLLMInvalidResponse, err, map[string]string{"raw": raw})
	}

	schema = strings.TrimSpace(schema)
	if schema == "" {
		return parsed, nil
	}
	for _, field := range strings.Split(schema, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, ok := parsed[field]; !ok {
			return nil, aerrors.New(aerrors.KindLLMInvalidResponse, nil, map[string]string{
				"missing_field": field,
			})
		}
	}
	return parsed, nil
}
