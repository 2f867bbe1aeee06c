package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/automation/pkg/config"
	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/path"
	"github.com/openfroyo/automation/pkg/policy"
	"github.com/openfroyo/automation/pkg/providers"
	"github.com/openfroyo/automation/pkg/telemetry"
)

// Compiler turns automation documents into releases.
type Compiler struct {
	policies *policy.Engine
	cache    *Cache
	store    Persistence
	logger   zerolog.Logger
}

// NewCompiler creates a compiler. policies, cache and store are optional:
// without policies nothing is linted, without a cache or store compiled
// releases are only returned.
func NewCompiler(policies *policy.Engine, cache *Cache, store Persistence, logger zerolog.Logger) *Compiler {
	return &Compiler{
		policies: policies,
		cache:    cache,
		store:    store,
		logger:   logger.With().Str("component", "release-compiler").Logger(),
	}
}

// Compile decodes every provider of docs, orders each automation's
// variables, lints the documents and stores the release.
func (c *Compiler) Compile(ctx context.Context, id string, docs []config.Document) (*Release, error) {
	op := telemetry.StartOperation(ctx, "release.compile", telemetry.AttrReleaseID.String(id))
	rel, err := c.compile(op.Ctx, id, docs)
	op.End(err)

	status := "success"
	if err != nil {
		status = "failure"
	}
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordReleaseBuild("compile", status)
		if err != nil {
			_ = tel.Events.PublishReleaseRejected(id, err.Error())
		} else {
			_ = tel.Events.PublishReleaseCompiled(id, len(rel.ids))
			if c.cache != nil {
				tel.Metrics.SetReleasesCached(float64(c.cache.Len()))
			}
		}
	}
	return rel, err
}

func (c *Compiler) compile(ctx context.Context, id string, docs []config.Document) (*Release, error) {
	if id == "" {
		return nil, engine.NewConfigurationError("release id is required", nil).
			WithCode(engine.ErrCodeInvalidInputData)
	}

	rel := &Release{
		ID:          id,
		CompiledAt:  time.Now(),
		Documents:   docs,
		automations: make(map[string]*Automation, len(docs)),
	}

	for i := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc := &docs[i]
		if _, dup := rel.automations[doc.ID]; dup {
			return nil, engine.NewConfigurationError(fmt.Sprintf("duplicate automation id %q", doc.ID), nil).
				WithCode(engine.ErrCodeInvalidInputData).
				WithDetail(engine.DiagAutomationID, doc.ID)
		}
		a, err := compileAutomation(doc)
		if err != nil {
			return nil, err
		}
		rel.automations[doc.ID] = a
		rel.ids = append(rel.ids, doc.ID)
	}
	sort.Strings(rel.ids)

	if err := c.lint(ctx, rel); err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.SaveRelease(ctx, id, docs); err != nil {
			return nil, fmt.Errorf("failed to persist release %s: %w", id, err)
		}
	}
	if c.cache != nil {
		c.cache.Put(rel)
	}

	c.logger.Info().
		Str("release", id).
		Int("automations", len(rel.ids)).
		Msg("Release compiled")
	return rel, nil
}

// Restore compiles a release from the documents saved in the store.
func (c *Compiler) Restore(ctx context.Context, id string) (*Release, error) {
	if c.store == nil {
		return nil, errors.New("no release store configured")
	}
	docs, err := c.store.LoadRelease(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Compile(ctx, id, docs)
}

func (c *Compiler) lint(ctx context.Context, rel *Release) error {
	if c.policies == nil {
		return nil
	}

	inputs := make([]map[string]interface{}, 0, len(rel.Documents))
	for i := range rel.Documents {
		m, err := rel.Documents[i].Map()
		if err != nil {
			return err
		}
		inputs = append(inputs, m)
	}

	result, err := c.policies.Lint(ctx, rel.ID, inputs)
	if err != nil {
		return fmt.Errorf("failed to lint release %s: %w", rel.ID, err)
	}
	rel.Lint = result

	for _, w := range result.Warnings {
		c.logger.Warn().
			Str("release", rel.ID).
			Str("policy", w.Policy).
			Str("automation", w.Automation).
			Msg(w.Message)
	}

	if !result.Allowed {
		messages := make([]string, 0, len(result.Violations))
		for _, v := range result.Violations {
			messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
		return engine.NewConfigurationError(
			fmt.Sprintf("release %s rejected by lint policies: %s", rel.ID, strings.Join(messages, "; ")), nil,
		).WithCode(engine.ErrCodeInvalidInputData).
			WithTitle("Release rejected").
			WithDetail("violations", result.Violations)
	}
	return nil
}

func compileAutomation(doc *config.Document) (*Automation, error) {
	a := &Automation{
		ID:           doc.ID,
		Tenant:       doc.Tenant,
		TriggerAlias: doc.Alias(),
	}

	if _, clash := doc.Variables[a.TriggerAlias]; clash {
		return nil, withAutomation(
			engine.NewConfigurationError(
				fmt.Sprintf("variable %q shadows the trigger alias", a.TriggerAlias), nil,
			).WithCode(engine.ErrCodeInvalidInputData).
				WithDetail(engine.DiagAlias, a.TriggerAlias),
			doc.ID)
	}

	variables, err := compileVariables(doc)
	if err != nil {
		return nil, withAutomation(err, doc.ID)
	}
	a.Variables = variables

	for i, t := range doc.Triggers {
		cond, err := decodeOptional(t.Condition, fmt.Sprintf("triggers[%d].condition", i))
		if err != nil {
			return nil, withAutomation(err, doc.ID)
		}
		a.Triggers = append(a.Triggers, Trigger{Event: t.Event, Condition: cond})
	}

	for i, act := range doc.Actions {
		loc := fmt.Sprintf("actions[%d]", i)
		when, err := decodeOptional(act.When, loc+".when")
		if err != nil {
			return nil, withAutomation(err, doc.ID)
		}
		action := Action{Name: act.Name, Type: act.Type, When: when}

		names := make([]string, 0, len(act.Parameters))
		for name := range act.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b, err := providers.Decode(act.Parameters[name], loc+".parameters."+name)
			if err != nil {
				return nil, withAutomation(err, doc.ID)
			}
			action.Parameters = append(action.Parameters, Parameter{Name: name, Builder: b})
		}
		a.Actions = append(a.Actions, action)
	}

	return a, nil
}

// compileVariables decodes the variables and orders them so that every
// variable comes after the variables its providers reference.
func compileVariables(doc *config.Document) ([]Variable, error) {
	names := doc.VariableNames()
	byAlias := make(map[string]Variable, len(names))
	nodes := make([]engine.Node, 0, len(names))

	for _, alias := range names {
		raw := doc.Variables[alias]
		b, err := providers.Decode(raw, "variables."+alias)
		if err != nil {
			return nil, err
		}

		refs, err := referencedAliases(raw)
		if err != nil {
			return nil, err
		}
		var deps []string
		for _, ref := range refs {
			if _, ok := doc.Variables[ref]; ok {
				deps = append(deps, ref)
			}
		}

		byAlias[alias] = Variable{Alias: alias, DependsOn: deps, Builder: b}
		nodes = append(nodes, engine.Node{ID: alias, DependsOn: deps})
	}

	graph, err := engine.NewDAGBuilder().BuildGraph(nodes)
	if err != nil {
		return nil, err
	}

	ordered := make([]Variable, 0, len(names))
	for _, alias := range graph.Order() {
		ordered = append(ordered, byAlias[alias])
	}
	return ordered, nil
}

func decodeOptional(raw json.RawMessage, loc string) (engine.Builder[any], error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return providers.Decode(raw, loc)
}

var jsonPathRoot = regexp.MustCompile(`^\$\.([a-z][A-Za-z0-9_]*)`)

// referencedAliases lists the scope aliases named by the path-bearing
// providers inside a provider configuration, sorted and without repeats.
// Providers that read the whole scope (jsonPath without a root segment,
// starlark or rego without input) reference nothing in particular.
func referencedAliases(raw json.RawMessage) ([]string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, engine.NewConfigurationError("provider configuration is not valid JSON", err).
			WithCode(engine.ErrCodeInvalidInputData)
	}

	seen := make(map[string]bool)
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			for key, child := range t {
				switch key {
				case providers.KeyObjectPathLookupText, providers.KeyPropertyExpression:
					if s, ok := child.(string); ok {
						if p, err := path.Parse(s); err == nil && p.Root() != "" {
							seen[p.Root()] = true
						}
					}
				case providers.KeyJSONPath:
					if s, ok := child.(string); ok {
						if m := jsonPathRoot.FindStringSubmatch(s); m != nil {
							seen[m[1]] = true
						}
					}
				default:
					walk(child)
				}
			}
		}
	}
	walk(v)

	out := make([]string, 0, len(seen))
	for alias := range seen {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out, nil
}

func withAutomation(err error, automationID string) error {
	var e *engine.EngineError
	if !errors.As(err, &e) {
		return err
	}
	return e.Clone().WithDetail(engine.DiagAutomationID, automationID)
}
