package engine

import (
	"encoding/json"
	"strings"

	"github.com/agentgate/agentgate/internal/schema"
	"github.com/agentgate/agentgate/pkg/models"
)

// buildPrompt assembles the provider prompt: preset instructions, the
// primitive marker, merged memory, optional knowledge, the input document,
// and the JSON-only closing instruction.
func buildPrompt(spec *models.AgentSpec, input map[string]any, memory []models.Event, knowledge []map[string]any) string {
	var parts []string
	parts = append(parts, strings.TrimSpace(spec.Prompt), "", "# Primitive: "+string(spec.Primitive))

	if len(memory) > 0 {
		parts = append(parts, memorySegment(memory))
	}
	if len(knowledge) > 0 {
		parts = append(parts, "# Knowledge:\n"+prettyJSON(knowledge)+"\n\n")
	}
	parts = append(parts, "# Input JSON:\n"+prettyJSON(input)+"\n\n")
	parts = append(parts, "Respond ONLY with a single JSON object that matches the provided output_schema.")
	return strings.Join(parts, "\n")
}

// memorySegment formats merged memory events as role-prefixed lines.
func memorySegment(events []models.Event) string {
	lines := []string{"# Memory (recent context):"}
	for _, e := range events {
		role := e.Role
		if role == "" {
			role = "user"
		}
		lines = append(lines, role+": "+strings.TrimSpace(e.Content))
	}
	return strings.Join(lines, "\n") + "\n\n"
}

// repairPrompt asks the model to re-emit its output after a validation
// failure, quoting the errors and the schema it must satisfy.
func repairPrompt(spec *models.AgentSpec, rawText string, errs []schema.ValidationError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return "The previous JSON output did not validate against the required output_schema.\n" +
		"Validation errors: " + strings.Join(msgs, "; ") + "\n\n" +
		"Previous raw output:\n" + rawText + "\n\n" +
		"Please respond again with ONLY a valid JSON object that matches the following output_schema:\n" +
		prettyJSON(spec.OutputSchema)
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
