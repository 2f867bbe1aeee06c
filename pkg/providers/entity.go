package providers

import (
	"context"
	"fmt"

	"github.com/openfroyo/automation/pkg/engine"
)

// entityLookupBuilder reads an entity from the repository registered under
// engine.DependencyEntityRepository.
type entityLookupBuilder struct {
	entityType string
	entityID   engine.Builder[any]
	loc        string
}

func decodeEntityLookup(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyEntityLookup, loc, "entityType", "entityId")
	if err != nil {
		return nil, err
	}
	entityType, err := stringParam(m, "entityType", KeyEntityLookup, loc, true)
	if err != nil {
		return nil, err
	}
	id, err := childParam(m, "entityId", KeyEntityLookup, loc, true)
	if err != nil {
		return nil, err
	}
	return &entityLookupBuilder{entityType: entityType, entityID: id, loc: loc}, nil
}

func (b *entityLookupBuilder) SchemaReferenceKey() string { return KeyEntityLookup }

func (b *entityLookupBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	repo, err := engine.Dependency[engine.EntityRepository](dc, engine.DependencyEntityRepository)
	if err != nil {
		return nil, located(err, b.loc, KeyEntityLookup)
	}
	id, err := build(dc, b.entityID, KeyEntityLookup, "entityId")
	if err != nil {
		return nil, err
	}
	return instrument(&entityLookupProvider{repo: repo, entityType: b.entityType, entityID: id}), nil
}

type entityLookupProvider struct {
	repo       engine.EntityRepository
	entityType string
	entityID   engine.Provider[any]
}

func (p *entityLookupProvider) SchemaReferenceKey() string { return KeyEntityLookup }

// Resolve reads the entity for the run's tenant. A repository that returns
// no entity and no error yields a not-found error.
func (p *entityLookupProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyEntityLookup); err != nil {
		return engine.Data[any]{}, err
	}
	idData, err := resolve(ctx, pc, scope, p.entityID, KeyEntityLookup, "entityId")
	if err != nil {
		return engine.Data[any]{}, err
	}
	rawID, _ := idData.Value()
	id, ok := scalarText(rawID)
	if !ok || id == "" {
		return engine.Data[any]{}, engine.Annotate(
			typeError(pc, KeyEntityLookup, "entity id", rawID), KeyEntityLookup, "entityId")
	}

	diag := pc.Diagnose(engine.Diagnostics{
		engine.DiagSchemaKey:  KeyEntityLookup,
		engine.DiagEntityType: p.entityType,
		engine.DiagEntityID:   id,
	})

	if err := engine.Checkpoint(ctx, KeyEntityLookup); err != nil {
		return engine.Data[any]{}, err
	}
	entity, err := p.repo.GetEntity(ctx, pc.Tenant, p.entityType, id)
	if err != nil {
		if ctx.Err() != nil {
			return engine.Data[any]{}, engine.Checkpoint(ctx, KeyEntityLookup)
		}
		return engine.Data[any]{}, engine.NewResolutionError("entity lookup failed", err).
			WithCode(engine.ErrCodeUpstreamFailed).
			WithDiagnostics(diag)
	}
	if entity == nil {
		return engine.Data[any]{}, engine.NewResolutionError(
			fmt.Sprintf("%s %q not found", p.entityType, id), nil,
		).WithCode(engine.ErrCodePathNotFound).
			WithTitle("Entity not found").
			WithDiagnostics(diag)
	}
	return engine.Present[any](entity), nil
}
