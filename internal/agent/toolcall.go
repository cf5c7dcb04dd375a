package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ligolabs/ligo/internal/providers"
)

// ParsedToolCall is one tool invocation extracted from model output.
// Command is empty for single-command tools and skill tools.
type ParsedToolCall struct {
	Tool       string
	Command    string
	Parameters map[string]any
	// Raw is the exact block matched in the reply, so the caller can
	// splice the tool output in its place.
	Raw string
}

// The four shapes models produce tool calls in. Explicit [TOOL_CALL]
// blocks are preferred; the rest are fallbacks for models that ignore
// the directive.
var (
	tcBlockRe    = regexp.MustCompile(`(?s)\[TOOL_CALL\](.*?)\[/TOOL_CALL\]`)
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?[ \t]*\n?(\\{.*?\\})\n?[ \t]*```")
	fencedToolRe = regexp.MustCompile("(?s)```[ \t]*\n?tool:[ \t]*([\\w.-]+)[ \t]*\n(.*?)```")
	bareToolRe   = regexp.MustCompile(`(?m)^tool:[ \t]*([\w.-]+)[ \t]*$`)
)

// ParseToolCall scans a reply for a tool call in any supported shape
// and returns the first one found, or nil.
func ParseToolCall(text string) *ParsedToolCall {
	if m := tcBlockRe.FindStringSubmatch(text); m != nil {
		if tc := parseKVBody(m[1]); tc != nil {
			tc.Raw = m[0]
			return tc
		}
	}
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if tc := parseJSONCall(m[1]); tc != nil {
			tc.Raw = m[0]
			return tc
		}
	}
	if m := fencedToolRe.FindStringSubmatch(text); m != nil {
		tc := &ParsedToolCall{Parameters: map[string]any{}, Raw: m[0]}
		tc.Tool, tc.Command = splitToolName(m[1])
		fillParams(tc, m[2])
		return tc
	}
	if loc := bareToolRe.FindStringSubmatchIndex(text); loc != nil {
		name := text[loc[2]:loc[3]]
		body := text[loc[1]:]
		if idx := strings.Index(body, "\n\n"); idx >= 0 {
			body = body[:idx]
		}
		tc := &ParsedToolCall{Parameters: map[string]any{}, Raw: text[loc[0]:loc[1]] + body}
		tc.Tool, tc.Command = splitToolName(name)
		fillParams(tc, body)
		return tc
	}
	return nil
}

// parseKVBody reads a [TOOL_CALL] body: "tool:"/"tool_name:",
// "command:"/"command_name:" and "parameters:" lines, where parameters
// may be inline JSON or a header followed by key: value lines. Unknown
// keys are parameters.
func parseKVBody(body string) *ParsedToolCall {
	tc := &ParsedToolCall{Parameters: map[string]any{}}
	inParams := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "-" {
			continue
		}
		key, val, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch {
		case (key == "tool" || key == "tool_name") && !inParams:
			tc.Tool, tc.Command = splitToolName(val)
		case (key == "command" || key == "command_name") && !inParams:
			tc.Command = val
		case key == "parameters" && !inParams:
			if strings.HasPrefix(val, "{") {
				mergeJSON(tc.Parameters, val)
			} else {
				inParams = true
			}
		default:
			tc.Parameters[key] = val
		}
	}
	if tc.Tool == "" {
		return nil
	}
	return tc
}

// parseJSONCall reads the fenced-JSON shape: {"name": ..., "parameters": ...}.
func parseJSONCall(raw string) *ParsedToolCall {
	var payload struct {
		Name       string         `json:"name"`
		Tool       string         `json:"tool"`
		Command    string         `json:"command"`
		Parameters map[string]any `json:"parameters"`
		Arguments  map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	name := payload.Name
	if name == "" {
		name = payload.Tool
	}
	if name == "" {
		return nil
	}
	tc := &ParsedToolCall{Parameters: map[string]any{}}
	tc.Tool, tc.Command = splitToolName(name)
	if payload.Command != "" {
		tc.Command = payload.Command
	}
	for k, v := range payload.Parameters {
		tc.Parameters[k] = v
	}
	for k, v := range payload.Arguments {
		tc.Parameters[k] = v
	}
	return tc
}

// fillParams reads key: value lines into the parameter map.
func fillParams(tc *ParsedToolCall, body string) {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		key, val, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch key {
		case "command":
			tc.Command = val
		case "parameters":
			if strings.HasPrefix(val, "{") {
				mergeJSON(tc.Parameters, val)
			}
		default:
			tc.Parameters[key] = val
		}
	}
}

func mergeJSON(into map[string]any, raw string) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return
	}
	for k, v := range m {
		into[k] = v
	}
}

// splitToolName separates a dotted "tool.command" name.
func splitToolName(name string) (tool, command string) {
	tool, command, _ = strings.Cut(name, ".")
	return tool, command
}

// NormalizeToolCalls renders provider-native tool calls in the text
// [TOOL_CALL] format so one parser handles every provider.
func NormalizeToolCalls(calls []providers.ToolCall) string {
	var b strings.Builder
	for _, c := range calls {
		args := c.Arguments
		if args == nil {
			args = map[string]any{}
		}
		encoded, err := json.Marshal(args)
		if err != nil {
			encoded = []byte("{}")
		}
		fmt.Fprintf(&b, "[TOOL_CALL]\ntool: %s\nparameters: %s\n[/TOOL_CALL]\n", c.Name, encoded)
	}
	return strings.TrimRight(b.String(), "\n")
}
