package registry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/agentgate/agentgate/internal/schema"
	"github.com/agentgate/agentgate/pkg/models"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,62}$`)

// Size and depth bounds enforced at registration time.
const (
	maxSpecBytes   = 300_000
	maxPromptChars = 20_000
	maxSchemaBytes = 200_000
	maxVersionLen  = 32
)

// normalizeSpec validates a raw spec document and produces the canonical
// AgentSpec. Everything that can be rejected is rejected here, before the
// store is touched; in particular an unrecognized primitive never reaches
// the prompt dispatch table.
func normalizeSpec(raw map[string]any) (*models.AgentSpec, error) {
	if raw == nil {
		return nil, &ErrSpecInvalid{Message: "spec must be an object"}
	}
	if jsonSize(raw) > maxSpecBytes {
		return nil, &ErrSpecInvalid{Message: "spec is too large"}
	}

	id, err := requiredString(raw, "id")
	if err != nil {
		return nil, err
	}
	version, err := requiredString(raw, "version")
	if err != nil {
		return nil, err
	}
	name, err := requiredString(raw, "name")
	if err != nil {
		return nil, err
	}
	description, err := requiredString(raw, "description")
	if err != nil {
		return nil, err
	}
	primitive, err := requiredString(raw, "primitive")
	if err != nil {
		return nil, err
	}
	prompt, err := requiredString(raw, "prompt")
	if err != nil {
		return nil, err
	}

	if !idPattern.MatchString(id) {
		return nil, &ErrSpecInvalid{Message: "agent id must match ^[a-z0-9][a-z0-9_-]{1,62}$"}
	}
	if len(version) > maxVersionLen {
		return nil, &ErrSpecInvalid{Message: fmt.Sprintf("version too long (max %d chars)", maxVersionLen)}
	}
	if len(prompt) > maxPromptChars {
		return nil, &ErrSpecInvalid{Message: "prompt too long"}
	}
	if !models.KnownPrimitive(models.Primitive(primitive)) {
		return nil, &ErrSpecInvalid{Message: fmt.Sprintf("unknown primitive %q", primitive)}
	}

	inputSchema, err := schemaField(raw, "input_schema")
	if err != nil {
		return nil, err
	}
	outputSchema, err := schemaField(raw, "output_schema")
	if err != nil {
		return nil, err
	}
	if jsonSize(inputSchema)+jsonSize(outputSchema) > maxSchemaBytes {
		return nil, &ErrSpecInvalid{Message: "combined schema size too large"}
	}

	supportsMemory, _ := raw["supports_memory"].(bool)

	var policy *models.MemoryPolicy
	if rawPolicy, ok := raw["memory_policy"]; ok && rawPolicy != nil {
		policyMap, ok := rawPolicy.(map[string]any)
		if !ok {
			return nil, &ErrSpecInvalid{Message: "memory_policy must be an object when provided"}
		}
		p := coerceMemoryPolicy(policyMap)
		policy = &p
	}

	var tags []string
	if rawTags, ok := raw["tags"]; ok && rawTags != nil {
		list, ok := rawTags.([]any)
		if !ok {
			return nil, &ErrSpecInvalid{Message: "tags must be a list of strings when provided"}
		}
		for _, t := range list {
			tags = append(tags, fmt.Sprintf("%v", t))
		}
	}

	credits, err := creditsField(raw)
	if err != nil {
		return nil, err
	}

	return &models.AgentSpec{
		ID:             id,
		Version:        version,
		Name:           name,
		Description:    description,
		Primitive:      models.Primitive(primitive),
		Prompt:         prompt,
		InputSchema:    inputSchema,
		OutputSchema:   outputSchema,
		SupportsMemory: supportsMemory,
		MemoryPolicy:   policy,
		Tags:           tags,
		Credits:        credits,
	}, nil
}

func requiredString(raw map[string]any, field string) (string, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return "", &ErrSpecInvalid{Message: "spec missing required field: " + field}
	}
	return fmt.Sprintf("%v", v), nil
}

// schemaField pulls and meta-checks a schema document: must be an object
// tree, object-rooted, depth-bounded, and a legal Draft-7 schema.
func schemaField(raw map[string]any, field string) (map[string]any, error) {
	doc, ok := raw[field].(map[string]any)
	if !ok {
		return nil, &ErrSpecInvalid{Message: field + " must be a JSON object"}
	}
	if err := schema.CheckSchema(doc); err != nil {
		return nil, &ErrSpecInvalid{
			Message: field + " is invalid",
			Details: map[string]any{"message": err.Error()},
		}
	}
	return doc, nil
}

func creditsField(raw map[string]any) (*models.Credits, error) {
	v, ok := raw["credits"]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &ErrSpecInvalid{Message: "credits must be an object with name/url"}
	}
	name := strings.TrimSpace(fmt.Sprintf("%v", m["name"]))
	if m["name"] == nil || name == "" {
		return nil, &ErrSpecInvalid{Message: "credits.name is required when credits is provided"}
	}
	c := &models.Credits{Name: name}
	if u, ok := m["url"]; ok && u != nil {
		if url := strings.TrimSpace(fmt.Sprintf("%v", u)); url != "" {
			c.URL = url
		}
	}
	return c, nil
}

// coerceMemoryPolicy fills defaults for missing or malformed policy fields.
func coerceMemoryPolicy(m map[string]any) models.MemoryPolicy {
	p := models.DefaultMemoryPolicy()
	if mode, ok := m["mode"].(string); ok && mode != "" {
		p.Mode = mode
	}
	if n, ok := intField(m, "max_messages"); ok && n >= 0 {
		p.MaxMessages = n
	}
	if n, ok := intField(m, "max_chars"); ok && n >= 0 {
		p.MaxChars = n
	}
	return p
}

// intField tolerates the numeric types both YAML and JSON decoding produce.
func intField(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func jsonSize(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
