package workspace

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashishlead/agent-runner/internal/llm"
)

// Manager loads declarative workspace definitions.
//
// The source format keys every entry by a composite naming scheme:
//
//	<agentName>@<version>#details              workspace entry (ordered steps)
//	<agentName>@<version>@step-<id>#details    step attributes
//	<agentName>@<version>@func-<name>#details  function attributes
//
// Load validates all cross references up front so that a Definition handed
// to the engine can never dangle at run time.
type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

const (
	detailsSuffix = "#details"
	stepMarker    = "@step-"
	funcMarker    = "@func-"
)

// workspaceDetail is the workspace-level entry listing the ordered steps.
type workspaceDetail struct {
	Steps []stepListEntry `json:"steps"`
}

type stepListEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// stepDetail carries the raw attributes of one step.
type stepDetail struct {
	Chat                   []llm.Message     `json:"chat"`
	Function               []json.RawMessage `json:"function"`
	NextStep               string            `json:"nextStep"`
	Model                  string            `json:"model"`
	RunFunctionsInParallel bool              `json:"runFunctionsInParallel"`
	PassConversation       bool              `json:"passConversationToNextStep"`
}

// funcDetail carries the raw attributes of one function.
type funcDetail struct {
	Description string              `json:"description"`
	Parameters  []FunctionParameter `json:"parameters"`
	Code        string              `json:"code"`
}

// Load parses and validates a raw workspace definition. It fails with a
// *ValidationError naming the offending reference on the first violated
// invariant; no partial Definition is ever produced.
func (m *Manager) Load(data []byte) (*Definition, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse workspace json: %w", err)
	}
	return m.loadEntries(raw)
}

func (m *Manager) loadEntries(raw map[string]json.RawMessage) (*Definition, error) {
	var (
		wsKey       string
		wsDetail    workspaceDetail
		stepDetails = make(map[string]stepDetail)
		funcDetails = make(map[string]funcDetail)
	)

	for key, value := range raw {
		if !strings.HasSuffix(key, detailsSuffix) {
			continue
		}
		switch {
		case strings.Contains(key, funcMarker):
			name := itemName(key, funcMarker)
			var detail funcDetail
			if err := json.Unmarshal(value, &detail); err != nil {
				return nil, fmt.Errorf("parse function entry %q: %w", key, err)
			}
			funcDetails[name] = detail
		case strings.Contains(key, stepMarker):
			id := itemName(key, stepMarker)
			var detail stepDetail
			if err := json.Unmarshal(value, &detail); err != nil {
				return nil, fmt.Errorf("parse step entry %q: %w", key, err)
			}
			stepDetails[id] = detail
		default:
			if wsKey != "" {
				return nil, &ValidationError{Ref: key, Reason: "multiple workspace entries"}
			}
			wsKey = key
			if err := json.Unmarshal(value, &wsDetail); err != nil {
				return nil, fmt.Errorf("parse workspace entry %q: %w", key, err)
			}
		}
	}

	if wsKey == "" {
		return nil, &ValidationError{Ref: detailsSuffix, Reason: "missing workspace entry"}
	}
	if len(wsDetail.Steps) == 0 {
		return nil, &ValidationError{Ref: wsKey, Reason: "workspace declares no steps"}
	}

	name, version := splitWorkspaceKey(wsKey)

	def := &Definition{
		Name:      name,
		Version:   version,
		functions: make(map[string]FunctionDefinition, len(funcDetails)),
		steps:     make(map[string]StepDefinition, len(wsDetail.Steps)),
		order:     make([]string, 0, len(wsDetail.Steps)),
	}

	for fnName, detail := range funcDetails {
		def.functions[fnName] = FunctionDefinition{
			Name:        fnName,
			Description: detail.Description,
			Parameters:  detail.Parameters,
			Code:        detail.Code,
		}
	}

	for _, entry := range wsDetail.Steps {
		if entry.ID == "" {
			return nil, &ValidationError{Ref: wsKey, Reason: "step with empty id"}
		}
		if _, dup := def.steps[entry.ID]; dup {
			return nil, &ValidationError{Ref: entry.ID, Reason: "duplicate step id"}
		}

		detail := stepDetails[entry.ID]
		step := StepDefinition{
			ID:                     entry.ID,
			Chat:                   detail.Chat,
			Next:                   parseNextStep(detail.NextStep),
			Model:                  detail.Model,
			PassConversation:       detail.PassConversation,
			RunFunctionsInParallel: detail.RunFunctionsInParallel,
		}
		if step.Model == "" {
			step.Model = DefaultModel
		}

		functions, err := functionNames(detail.Function)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", entry.ID, err)
		}
		step.Functions = functions

		def.steps[entry.ID] = step
		def.order = append(def.order, entry.ID)
	}

	def.Entry = def.order[0]

	if err := validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

// functionNames accepts either bare name strings or {"name": ...} objects,
// matching the two shapes the source format uses interchangeably.
func functionNames(entries []json.RawMessage) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		var name string
		if err := json.Unmarshal(entry, &name); err == nil {
			names = append(names, name)
			continue
		}
		var obj struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(entry, &obj); err != nil || obj.Name == "" {
			return nil, fmt.Errorf("unrecognized function reference %s", string(entry))
		}
		names = append(names, obj.Name)
	}
	return names, nil
}

func itemName(key, marker string) string {
	after := key[strings.Index(key, marker)+len(marker):]
	return strings.TrimSuffix(after, detailsSuffix)
}

func splitWorkspaceKey(key string) (name, version string) {
	base := strings.TrimSuffix(key, detailsSuffix)
	if at := strings.LastIndex(base, "@"); at >= 0 {
		return base[:at], base[at+1:]
	}
	return base, ""
}

// validate enforces the load-time invariants: every function referenced by
// a step is declared, every nextStep resolves or is terminal, and the chain
// reachable from the entry step is finite and linear.
func validate(def *Definition) error {
	for _, id := range def.order {
		step := def.steps[id]
		for _, fnName := range step.Functions {
			if _, ok := def.functions[fnName]; !ok {
				return &ValidationError{
					Ref:    fmt.Sprintf("%s -> %s", id, fnName),
					Reason: "step references unknown function",
				}
			}
		}
		if next := step.Next; !next.IsTerminal() {
			if _, ok := def.steps[next.ID()]; !ok {
				return &ValidationError{
					Ref:    fmt.Sprintf("%s -> %s", id, next.ID()),
					Reason: "nextStep references unknown step",
				}
			}
		}
	}

	visited := make(map[string]bool, len(def.steps))
	for cur := StepRef(def.Entry); !cur.IsTerminal(); {
		id := cur.ID()
		if visited[id] {
			return &ValidationError{Ref: id, Reason: "step chain contains a cycle"}
		}
		visited[id] = true
		cur = def.steps[id].Next
	}

	return nil
}
