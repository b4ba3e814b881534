package model

// SupportedVersions enumerates the configuration document versions this
// build understands. Loading rejects anything else (spec §4.1).
var SupportedVersions = map[string]bool{
	"1.0": true,
	"1.1": true,
}

// Configuration is the root of the loaded, validated model. It is
// immutable after Load returns: the orchestrator swaps the whole pointer
// on reload rather than mutating fields in place, so an in-flight
// execution can keep its own reference safely (spec §3 Ownership).
type Configuration struct {
	Version string
	Strict  bool // unknown keys are a hard error; when false, Load accepts them and reports nothing

	Vars map[string]Value

	Profiles   map[string]*Profile
	Commands   map[string]*Command
	Sequences  map[string]*Sequence
	Conditions map[string]*Condition
	Guards     map[string]*Guard
	Policies   map[string]*Policy
	Resources  map[string]*Resource
	Events     map[string]*Event
	Handlers   map[string]*Handler
	Templates  map[string]*Template
	Units      map[string]*Unit
}

// NewConfiguration returns an empty, initialized Configuration ready for a
// parser to populate.
func NewConfiguration() *Configuration {
	return &Configuration{
		Vars:       map[string]Value{},
		Profiles:   map[string]*Profile{},
		Commands:   map[string]*Command{},
		Sequences:  map[string]*Sequence{},
		Conditions: map[string]*Condition{},
		Guards:     map[string]*Guard{},
		Policies:   map[string]*Policy{},
		Resources:  map[string]*Resource{},
		Events:     map[string]*Event{},
		Handlers:   map[string]*Handler{},
		Templates:  map[string]*Template{},
		Units:      map[string]*Unit{},
	}
}

// Value is a variable value: one of string, float64, bool. Expressed as an
// interface rather than a tagged union to match how the TOML decoder hands
// back heterogeneous table values; the expression evaluator narrows it.
type Value = any

// Unit is advisory metadata for template expansion (spec §9 open question):
// never enforced at runtime.
type Unit struct {
	ID     string
	Symbol string
	Scale  float64
}

// Command is a named, line-oriented message sent to the device with
// parameter substitution (spec §3, GLOSSARY).
type Command struct {
	ID         string
	Line       string            // literal template, e.g. "MOVE {axis} {pos}"
	Params     []string          // declared parameter names; placeholders must be a subset
	UnitRefs   map[string]string // param name -> unit id (advisory)
	Placeholders []string        // parsed out of Line at load time, normalized form
}

// Profile is a named environment overlay selected per execution (spec §3).
type Profile struct {
	ID             string
	VarOverlay     map[string]Value
	TransportOpts  map[string]Value
}

// Condition is a boolean expression over the restricted grammar (spec §4.3).
type Condition struct {
	ID           string
	Expr         string   // raw expression source
	ContextRefs  []string // declared context fields the expression may read
}

// GuardWhen is the point in step execution a guard runs at.
type GuardWhen string

const (
	GuardPre  GuardWhen = "pre"
	GuardPost GuardWhen = "post"
)

// GuardAction is what happens when a guard's condition evaluates false.
type GuardAction struct {
	Kind        GuardActionKind
	CompensateSeq string // only set when Kind == GuardActionCompensate
}

type GuardActionKind string

const (
	GuardActionAbort      GuardActionKind = "abort"
	GuardActionSkip       GuardActionKind = "skip"
	GuardActionRetry      GuardActionKind = "retry"
	GuardActionCompensate GuardActionKind = "compensate"
)

// Guard is a boolean check bound to a pre/post point with a declared action
// on failure (spec §3, §4.7).
type Guard struct {
	ID          string
	When        GuardWhen
	ConditionID string
	OnFail      GuardAction
}

// BackoffShape is the retry backoff strategy a Policy declares.
type BackoffShape string

const (
	BackoffNone        BackoffShape = "none"
	BackoffFixed       BackoffShape = "fixed"
	BackoffExponential BackoffShape = "exponential"
)

// Backoff configures the delay between failed attempts (spec §3, §4.6).
type Backoff struct {
	Shape      BackoffShape
	FixedMS    int64 // used when Shape == BackoffFixed
	InitialMS  int64 // used when Shape == BackoffExponential
	Factor     float64
	CapMS      int64
	Jitter     bool
}

// Policy is the declarative retry/backoff/timeout/idempotency wrapper for a
// single step attempt (spec §3, §4.6).
type Policy struct {
	ID                string
	MaxAttempts       int
	Backoff           Backoff
	TimeoutMS         int64
	IdempotencyKeyTpl string // template expanded against call-site vars; empty disables
	IdempotencyTTLMS  int64

	// SkipPostGuardsOnTimeout resolves the open question in spec §9 in the
	// direction the spec states as default (run post-guards unless
	// aborted/skipped); set true to flip to "skip on timeout" for
	// deployments that need it (SPEC_FULL.md §13 open question 1).
	SkipPostGuardsOnTimeout bool
}

// ResourceKind distinguishes a mutex (capacity 1) from a semaphore(n).
type ResourceKind string

const (
	ResourceMutex     ResourceKind = "mutex"
	ResourceSemaphore ResourceKind = "semaphore"
)

// Resource is a named mutex or semaphore acquired for the duration of a
// step (spec §3, §4.5).
type Resource struct {
	ID       string
	Kind     ResourceKind
	Capacity int64             // n for semaphores; always 1 for mutex
	Members  []string          // logical sub-resources, kept as metadata; the registry grants the whole resource and never picks a member (ResourceGrant.Member stays empty)
}

// Event is a typed notification matched to handlers by filter (spec §3,
// §4.8).
type Event struct {
	ID     string
	Source string // tag for matching emissions, e.g. "transport", "timer", "manual"
	Filter string // expression over {payload, context}
}

// HandlerAction is one step of a handler's ordered action list: either a
// sequence invocation or a built-in (e.g. "cancel_sequence").
type HandlerAction struct {
	SequenceRef string
	Builtin     string
}

// Handler is an ordered list of actions triggered by matching events,
// dispatched by priority with optional debouncing (spec §3, §4.8).
type Handler struct {
	ID          string
	EventRef    string
	Actions     []HandlerAction
	Priority    int
	DebounceMS  int64
}

// TemplateParam declares one parameter a Template accepts.
type TemplateParam struct {
	Name     string
	Required bool
	Default  Value
}

// Template is a parameterized producer of Commands/Sequences, expanded at
// load time (spec §3, §4.4).
type Template struct {
	ID     string
	Params []TemplateParam
	// ProducesCommands / ProducesSequences hold the patterns for the
	// commands/sequences this template's expansion yields; the expander fills Configuration.Commands /
	// Sequences with the concrete expansions before validation runs.
	ProducesCommands  []TemplateCommandSpec
	ProducesSequences []TemplateSequenceSpec
}

// TemplateCommandSpec is one Command produced by expanding a Template: the
// ID and Line may themselves reference the template's own parameters using
// {param} syntax, resolved once at load time (not at dispatch time).
type TemplateCommandSpec struct {
	IDPattern   string
	LinePattern string
	Params      []string
}

// TemplateSequenceSpec is one Sequence produced by expanding a Template.
type TemplateSequenceSpec struct {
	IDPattern string
	Steps     []Step
}

// StepKind discriminates the five step shapes spec §3 allows.
type StepKind string

const (
	StepCommand  StepKind = "command"
	StepSeqRef   StepKind = "sequence_ref"
	StepWait     StepKind = "wait"
	StepIf       StepKind = "if"
	StepParallel StepKind = "parallel"
)

// Step is one executable element of a Sequence: command invocation, nested
// sequence, wait, conditional block, or parallel block (spec §3, GLOSSARY).
// Only the fields relevant to Kind are populated; this mirrors the
// tagged-variant-over-inheritance guidance of spec §9 Design Notes.
type Step struct {
	Kind StepKind

	// StepCommand
	CommandID string
	Args      map[string]string // literal or {var} expressions, resolved at dispatch

	// StepSeqRef
	SequenceID string

	// StepWait
	WaitSeconds float64

	// StepIf: a balanced if/else/endif block. Else is optional (nil).
	ConditionID string
	Then        []Step
	Else        []Step

	// StepParallel
	Children []string // sequence ids run concurrently

	// Let bindings scoped to this step and its descendants (step-local
	// `let`, innermost scope in the variable-scope chain of spec §3).
	Let map[string]Value
}

// Sequence is an ordered, possibly nested composition of steps (spec §3,
// GLOSSARY).
type Sequence struct {
	ID         string
	Steps      []Step
	PolicyID   string // optional
	PreGuards  []string
	PostGuards []string
	Resources  []string // acquisition order is this slice's order
	OnError    GuardActionKind // abort/skip/retry/compensate default for unguarded step failures
	OnErrorCompensateSeq string
}
