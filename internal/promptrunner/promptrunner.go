// Package promptrunner renders and executes the orchestrator's LLM tasks
// from a static agent/task registry, grounded on
// original_source/hlas/src/hlas/prompt_runner.py: build_prompts splits a
// role/goal/backstory/description/expected_output spec pair into a system
// prompt and a user prompt, and call_direct_json enforces a
// JSON-with-text-fallback contract on the reply.
package promptrunner

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
)

//go:embed config/agents.yaml config/tasks.yaml
var specFS embed.FS

// AgentSpec is one entry of the agent registry.
type AgentSpec struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
}

// TaskSpec is one entry of the task registry.
type TaskSpec struct {
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
}

// Registry holds the loaded agent/task specs.
type Registry struct {
	Agents map[string]AgentSpec
	Tasks  map[string]TaskSpec
}

// textAllowedTasks mirrors prompt_runner.py::run_direct_task's
// allow_text_fallback condition.
var textAllowedTasks = map[string]bool{
	"synthesize_response":    true,
	"followup_clarification": true,
}

// LoadEmbedded parses the registry embedded at build time from
// config/agents.yaml and config/tasks.yaml.
func LoadEmbedded() (*Registry, error) {
	agentsRaw, err := specFS.ReadFile("config/agents.yaml")
	if err != nil {
		return nil, fmt.Errorf("promptrunner: read agents.yaml: %w", err)
	}
	tasksRaw, err := specFS.ReadFile("config/tasks.yaml")
	if err != nil {
		return nil, fmt.Errorf("promptrunner: read tasks.yaml: %w", err)
	}

	var agents map[string]AgentSpec
	if err := yaml.Unmarshal(agentsRaw, &agents); err != nil {
		return nil, fmt.Errorf("promptrunner: parse agents.yaml: %w", err)
	}
	var tasks map[string]TaskSpec
	if err := yaml.Unmarshal(tasksRaw, &tasks); err != nil {
		return nil, fmt.Errorf("promptrunner: parse tasks.yaml: %w", err)
	}
	return &Registry{Agents: agents, Tasks: tasks}, nil
}

// Context is the dynamic, per-turn data a task renders against. Product,
// when non-empty, interpolates the task description's "{product}"
// placeholder, matching build_prompts's product-line scan. Lines is the
// raw context body rendered into the user prompt; a line starting with
// "Validation Rules:" and every line after it are split out of the body
// and appended to the system prompt instead, matching the original's
// rules/data separation.
type Context struct {
	Product string
	Lines   []string
}

// Render builds the (system, user) prompt pair for one agent/task
// invocation, exactly per build_prompts: role/backstory/goal/description
// form the system prompt, any "Validation Rules:" block in the context is
// moved into the system prompt, and the remaining lines become the user
// prompt's [Context] body. A context body that already starts with a
// "[System]" section followed by a "[User]" section is returned as that
// (system, user) pair unchanged.
func (r *Registry) Render(agentKey, taskKey string, ctx Context) (system, user string) {
	if body := strings.TrimSpace(strings.Join(ctx.Lines, "\n")); strings.HasPrefix(body, "[System]") {
		if sys, usr, ok := strings.Cut(strings.TrimPrefix(body, "[System]"), "\n[User]"); ok {
			return strings.TrimSpace(sys), strings.TrimSpace(usr)
		}
	}

	agent := r.Agents[agentKey]
	task := r.Tasks[taskKey]

	description := strings.TrimSpace(task.Description)
	if strings.Contains(description, "{product}") {
		product := ctx.Product
		if product == "" {
			product = "unknown"
		}
		description = strings.ReplaceAll(description, "{product}", product)
	}

	var rulesLines, dataLines []string
	inRules := false
	for _, line := range ctx.Lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "validation rules:") {
			inRules = true
		}
		if inRules {
			rulesLines = append(rulesLines, line)
		} else {
			dataLines = append(dataLines, line)
		}
	}

	role := agent.Role
	if role == "" {
		role = agentKey
	}
	system = strings.TrimSpace(fmt.Sprintf(
		"You are %s. %s\n\nYour goal is: %s\n\nTask Description: %s\n\n%s\n\nOutput contract (JSON):\n%s",
		role, strings.TrimSpace(agent.Backstory), strings.TrimSpace(agent.Goal),
		description, strings.TrimSpace(strings.Join(rulesLines, "\n")), strings.TrimSpace(task.ExpectedOutput),
	))

	if taskKey == "validate_slot" {
		slotName := ""
		for _, line := range dataLines {
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "slot:") {
				parts := strings.SplitN(line, ":", 2)
				slotName = strings.TrimSpace(parts[1])
				break
			}
		}
		if slotName == "" {
			slotName = "the provided slot"
		}
		system += "\n\nFocus only on validating " + slotName + "."
	}

	user = strings.TrimSpace("[Context]\n" + strings.TrimSpace(strings.Join(dataLines, "\n")))
	return system, user
}

// Run renders the prompt pair for agentKey/taskKey, invokes provider, and
// parses the reply per the JSON-or-text contract: strict JSON first, then
// the first balanced {...} substring, then (for text-allowed tasks) a
// {"response": text} wrap, otherwise an empty map.
func Run(ctx context.Context, registry *Registry, provider llm.Provider, model, agentKey, taskKey string, promptCtx Context) (map[string]any, error) {
	system, user := registry.Render(agentKey, taskKey, promptCtx)

	reply, err := provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, model)
	if err != nil {
		return nil, fmt.Errorf("promptrunner: %s.%s: %w", agentKey, taskKey, err)
	}

	return parseReply(strings.TrimSpace(reply), textAllowedTasks[taskKey]), nil
}

// parseReply implements call_direct_json's fallback chain.
func parseReply(raw string, allowTextFallback bool) map[string]any {
	if m, ok := tryUnmarshalObject(raw); ok {
		return m
	}
	if substr, ok := extractBalancedObject(raw); ok {
		if m, ok := tryUnmarshalObject(substr); ok {
			return m
		}
	}
	if allowTextFallback && raw != "" {
		return map[string]any{"response": raw}
	}
	return map[string]any{}
}

// tryUnmarshalObject succeeds only for a JSON object, never an array,
// string, or scalar: call_direct_json only accepts a top-level object.
func tryUnmarshalObject(raw string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return nil, false
	}
	return m, true
}

// extractBalancedObject scans raw for the first top-level balanced
// {...} substring, using a bracket-depth counter rather than a regex
// (regex backtracking on adversarial LLM output is unbounded; this scan
// is linear).
func extractBalancedObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
