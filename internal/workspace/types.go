package workspace

import (
	"github.com/ashishlead/agent-runner/internal/llm"
)

// terminalSentinel is the wire value marking the end of a step chain.
const terminalSentinel = "-"

// DefaultModel is used when a step does not name a model.
const DefaultModel = "gpt-4"

// FunctionParameter is descriptive metadata surfaced to the model as part
// of a tool schema. Values are never validated against actual arguments.
type FunctionParameter struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// FunctionDefinition declares a tool invocable during a step. Name must be
// unique within a workspace. Code is documentation-only metadata carried
// from the source definition; it is never executed. The engine resolves
// implementations by Name through a registry.
type FunctionDefinition struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Parameters  []FunctionParameter `json:"parameters"`
	Code        string              `json:"code,omitempty"`
}

// NextStep is either a reference to another step or the terminal marker.
// The zero value is terminal, so a dangling default cannot slip through.
type NextStep struct {
	id string
}

// StepRef returns a NextStep pointing at the step with the given id.
func StepRef(id string) NextStep {
	return NextStep{id: id}
}

// Terminal returns the end-of-chain marker.
func Terminal() NextStep {
	return NextStep{}
}

func (n NextStep) IsTerminal() bool {
	return n.id == ""
}

// ID returns the referenced step id; empty when terminal.
func (n NextStep) ID() string {
	return n.id
}

func (n NextStep) String() string {
	if n.IsTerminal() {
		return terminalSentinel
	}
	return n.id
}

func parseNextStep(s string) NextStep {
	if s == "" || s == terminalSentinel {
		return Terminal()
	}
	return NextStep{id: s}
}

// StepDefinition is one conversation turn plus its tool-calling policy.
//
// Chat holds the step's seed messages. Functions lists the names of the
// workspace functions advertised to the model for this step; each must
// resolve to a declared FunctionDefinition (checked at load time).
type StepDefinition struct {
	ID                     string
	Chat                   []llm.Message
	Next                   NextStep
	Model                  string
	PassConversation       bool
	RunFunctionsInParallel bool
	Functions              []string
}

// Definition is the immutable, validated representation of a workflow.
// Safe to share read-only across concurrent runs.
type Definition struct {
	Name    string
	Version string
	Entry   string

	functions map[string]FunctionDefinition
	steps     map[string]StepDefinition
	order     []string
}

// Step resolves a step by id.
func (d *Definition) Step(id string) (StepDefinition, bool) {
	step, ok := d.steps[id]
	return step, ok
}

// Function resolves a function definition by name.
func (d *Definition) Function(name string) (FunctionDefinition, bool) {
	fn, ok := d.functions[name]
	return fn, ok
}

// StepOrder returns the declared step ids in order.
func (d *Definition) StepOrder() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Functions returns the declared function definitions keyed by name.
func (d *Definition) Functions() map[string]FunctionDefinition {
	out := make(map[string]FunctionDefinition, len(d.functions))
	for name, fn := range d.functions {
		out[name] = fn
	}
	return out
}
