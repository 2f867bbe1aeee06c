package release

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/telemetry"
)

// Run statuses reported by evaluations.
const (
	StatusSucceeded = "succeeded"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Program is a release built against a set of collaborators. It is
// immutable and may evaluate any number of runs concurrently.
type Program struct {
	ReleaseID   string
	automations map[string]*automationProgram
}

type automationProgram struct {
	id           string
	tenant       string
	triggerAlias string
	variables    []variableProgram
	triggers     []triggerProgram
	actions      []actionProgram
}

type variableProgram struct {
	alias    string
	provider engine.Provider[any]
}

type triggerProgram struct {
	event     string
	condition engine.Provider[bool]
}

type actionProgram struct {
	name       string
	typ        string
	when       engine.Provider[bool]
	parameters []parameterProgram
}

type parameterProgram struct {
	name     string
	provider engine.Provider[any]
}

// Build constructs the providers of every automation. It performs no I/O;
// missing collaborators are reported as dependency.missing.
func (r *Release) Build(dc *engine.DependencyContext) (*Program, error) {
	prog := &Program{
		ReleaseID:   r.ID,
		automations: make(map[string]*automationProgram, len(r.automations)),
	}

	for _, id := range r.ids {
		a := r.automations[id]
		ap, err := buildAutomation(a, dc)
		if err != nil {
			return nil, withAutomation(err, id)
		}
		prog.automations[id] = ap
	}
	return prog, nil
}

func buildAutomation(a *Automation, dc *engine.DependencyContext) (*automationProgram, error) {
	ap := &automationProgram{
		id:           a.ID,
		tenant:       a.Tenant,
		triggerAlias: a.TriggerAlias,
	}

	for _, v := range a.Variables {
		p, err := v.Builder.Build(dc)
		if err != nil {
			return nil, err
		}
		ap.variables = append(ap.variables, variableProgram{alias: v.Alias, provider: p})
	}

	for _, t := range a.Triggers {
		cond, err := buildCondition(t.Condition, dc)
		if err != nil {
			return nil, err
		}
		ap.triggers = append(ap.triggers, triggerProgram{event: t.Event, condition: cond})
	}

	for _, act := range a.Actions {
		when, err := buildCondition(act.When, dc)
		if err != nil {
			return nil, err
		}
		act2 := actionProgram{name: act.Name, typ: act.Type, when: when}
		for _, param := range act.Parameters {
			p, err := param.Builder.Build(dc)
			if err != nil {
				return nil, err
			}
			act2.parameters = append(act2.parameters, parameterProgram{name: param.Name, provider: p})
		}
		ap.actions = append(ap.actions, act2)
	}
	return ap, nil
}

func buildCondition(b engine.Builder[any], dc *engine.DependencyContext) (engine.Provider[bool], error) {
	if b == nil {
		return nil, nil
	}
	p, err := b.Build(dc)
	if err != nil {
		return nil, err
	}
	return engine.As[bool](p), nil
}

// RunInput is what the caller knows when an event arrives.
type RunInput struct {
	// RunID identifies the run. A random ID is used when empty.
	RunID string `json:"runId,omitempty"`

	// Tenant the run belongs to.
	Tenant string `json:"tenant,omitempty"`

	// Event is the event name matched against triggers. Empty matches every trigger.
	Event string `json:"event,omitempty"`

	// Trigger is the event payload, bound to the automation's trigger alias.
	Trigger any `json:"trigger,omitempty"`

	// Root carries extra root data such as entity references.
	Root map[string]any `json:"root,omitempty"`
}

// Invocation is an action the caller should perform, with its parameters
// resolved. Disabled invocations have no parameters.
type Invocation struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Enabled    bool           `json:"enabled"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Evaluation is the outcome of one run.
type Evaluation struct {
	RunID        string           `json:"runId"`
	AutomationID string           `json:"automationId"`
	Tenant       string           `json:"tenant,omitempty"`
	Status       string           `json:"status"`
	Matched      bool             `json:"matched"`
	Event        string           `json:"event,omitempty"`
	Variables    map[string]any   `json:"variables,omitempty"`
	Invocations  []Invocation     `json:"invocations,omitempty"`
	Counters     map[string]int64 `json:"counters,omitempty"`
	Duration     time.Duration    `json:"duration"`

	// Failures are the errors recorded by the run.
	Failures []error `json:"-"`
}

// AutomationIDs returns the IDs of the built automations.
func (p *Program) AutomationIDs() []string {
	ids := make([]string, 0, len(p.automations))
	for id := range p.automations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate runs one automation: triggers are matched first, then variables
// are resolved in dependency order and bound into the scope, then every
// action's guard and parameters are resolved. Actions are not executed.
//
// The returned Evaluation is non-nil whenever the automation exists, also
// when err is not nil.
func (p *Program) Evaluate(ctx context.Context, automationID string, in RunInput) (eval *Evaluation, err error) {
	ap, ok := p.automations[automationID]
	if !ok {
		return nil, engine.NewConfigurationError(fmt.Sprintf("automation %q not found", automationID), nil).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDetail(engine.DiagAutomationID, automationID)
	}

	runID := in.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	eval = &Evaluation{
		RunID:        runID,
		AutomationID: automationID,
		Tenant:       in.Tenant,
		Status:       StatusSkipped,
	}

	ctx = telemetry.WithRunContext(ctx, runID, automationID, in.Tenant)
	pc := engine.NewProviderContext(runID, automationID, in.Tenant, in.Root)
	start := time.Now()
	defer func() {
		if err != nil {
			pc.Record(err)
			eval.Status = StatusFailed
		}
		eval.Failures = pc.Failures()
		eval.Duration = time.Since(start)
		telemetry.EndRunContext(ctx, runID, eval.Status, err)
	}()

	if ap.tenant != "" && in.Tenant != ap.tenant {
		telemetry.FromContext(ctx).Debugf("automation restricted to tenant %s", ap.tenant)
		return eval, nil
	}

	scope := engine.NewScope()
	if err := scope.Push(ap.triggerAlias, in.Trigger, "trigger"); err != nil {
		return eval, err
	}

	matched, err := ap.matchTrigger(ctx, pc, scope, in.Event)
	if err != nil || matched == "" {
		return eval, err
	}
	eval.Matched = true
	eval.Event = matched

	eval.Variables = make(map[string]any, len(ap.variables))
	for _, v := range ap.variables {
		d, err := v.provider.Resolve(ctx, pc, scope)
		if err != nil {
			return eval, annotateVariable(err, v.alias)
		}
		value, _ := d.Value()
		if err := scope.Push(v.alias, value, "variables."+v.alias); err != nil {
			return eval, err
		}
		eval.Variables[v.alias] = value
	}

	for _, act := range ap.actions {
		inv, err := act.invocation(ctx, pc, scope)
		if err != nil {
			return eval, err
		}
		eval.Invocations = append(eval.Invocations, inv)
	}

	eval.Counters = counters(pc)
	eval.Status = StatusSucceeded
	return eval, nil
}

// matchTrigger returns the event of the first trigger whose event matches
// and whose condition holds, or "" when none does. Conditions see the
// trigger payload only.
func (ap *automationProgram) matchTrigger(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope, event string) (string, error) {
	if len(ap.triggers) == 0 && event == "" {
		return "manual", nil
	}
	for _, t := range ap.triggers {
		if event != "" && t.event != event {
			continue
		}
		ok, err := holds(ctx, pc, scope, t.condition)
		if err != nil {
			return "", fmt.Errorf("trigger %s: %w", t.event, err)
		}
		if ok {
			return t.event, nil
		}
	}
	return "", nil
}

func (act actionProgram) invocation(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (Invocation, error) {
	inv := Invocation{Name: act.name, Type: act.typ}

	enabled, err := holds(ctx, pc, scope, act.when)
	if err != nil {
		return inv, engine.Annotate(err, "actions."+act.name, "when")
	}
	if !enabled {
		return inv, nil
	}

	inv.Enabled = true
	inv.Parameters = make(map[string]any, len(act.parameters))
	for _, param := range act.parameters {
		d, err := param.provider.Resolve(ctx, pc, scope)
		if err != nil {
			return inv, engine.Annotate(err, "actions."+act.name, "parameters."+param.name)
		}
		value, _ := d.Value()
		inv.Parameters[param.name] = value
	}
	return inv, nil
}

// holds resolves an optional condition. A missing condition holds; a null
// result does not.
func holds(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope, cond engine.Provider[bool]) (bool, error) {
	if cond == nil {
		return true, nil
	}
	d, err := cond.Resolve(ctx, pc, scope)
	if err != nil {
		return false, err
	}
	return d.ValueOr(false), nil
}

func annotateVariable(err error, alias string) error {
	var e *engine.EngineError
	if !errors.As(err, &e) {
		return err
	}
	return e.Clone().WithDetail(engine.DiagAlias, alias)
}

func counters(pc *engine.ProviderContext) map[string]int64 {
	out := pc.Counters()
	if len(out) == 0 {
		return nil
	}
	return out
}
