package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openfroyo/automation/pkg/engine"
)

// maxResponseBytes bounds how much of an HTTP response body is decoded.
const maxResponseBytes = 4 << 20

var defaultHTTPClient engine.HTTPDoer = &http.Client{Timeout: 30 * time.Second}

// httpGetBuilder fetches JSON over HTTP.
type httpGetBuilder struct {
	url     engine.Builder[any]
	headers *objectBuilder
}

func decodeHTTPGet(obj map[string]any, loc string) (engine.Builder[any], error) {
	m, loc, err := params(obj, KeyHTTPGet, loc, "url", "headers")
	if err != nil {
		return nil, err
	}
	u, err := childParam(m, "url", KeyHTTPGet, loc, true)
	if err != nil {
		return nil, err
	}
	b := &httpGetBuilder{url: u}
	if h, ok := m["headers"]; ok {
		hb, err := decodeObject(map[string]any{KeyObject: h}, at(loc, "headers"))
		if err != nil {
			return nil, err
		}
		b.headers = hb.(*objectBuilder)
	}
	return b, nil
}

func (b *httpGetBuilder) SchemaReferenceKey() string { return KeyHTTPGet }

func (b *httpGetBuilder) Build(dc *engine.DependencyContext) (engine.Provider[any], error) {
	client, err := engine.OptionalDependency(dc, engine.DependencyHTTPClient, defaultHTTPClient)
	if err != nil {
		return nil, err
	}
	u, err := build(dc, b.url, KeyHTTPGet, "url")
	if err != nil {
		return nil, err
	}
	p := &httpGetProvider{client: client, url: u}
	if b.headers != nil {
		p.headerKeys = b.headers.keys
		p.headers = make(map[string]engine.Provider[any], len(b.headers.fields))
		for _, k := range b.headers.keys {
			h, err := build(dc, b.headers.fields[k], KeyHTTPGet, "headers."+k)
			if err != nil {
				return nil, err
			}
			p.headers[k] = h
		}
	}
	return instrument(p), nil
}

type httpGetProvider struct {
	client     engine.HTTPDoer
	url        engine.Provider[any]
	headerKeys []string
	headers    map[string]engine.Provider[any]
}

func (p *httpGetProvider) SchemaReferenceKey() string { return KeyHTTPGet }

// Resolve issues the request and decodes the JSON body. An empty body is
// Null; a status of 400 or above is an upstream failure.
func (p *httpGetProvider) Resolve(ctx context.Context, pc *engine.ProviderContext, scope *engine.Scope) (engine.Data[any], error) {
	if err := engine.Checkpoint(ctx, KeyHTTPGet); err != nil {
		return engine.Data[any]{}, err
	}
	urlData, err := resolveTyped[string](ctx, pc, scope, p.url, KeyHTTPGet, "url")
	if err != nil {
		return engine.Data[any]{}, err
	}
	url, ok := urlData.Value()
	if !ok || url == "" {
		return engine.Data[any]{}, engine.NewResolutionError("httpGet url is empty", nil).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDetail(engine.DiagSchemaKey, KeyHTTPGet).
			WithDiagnostics(pc.Diagnose(nil))
	}
	diag := pc.Diagnose(engine.Diagnostics{engine.DiagSchemaKey: KeyHTTPGet, "url": url})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return engine.Data[any]{}, engine.NewResolutionError("invalid request", err).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDiagnostics(diag)
	}
	req.Header.Set("Accept", "application/json")
	for _, k := range p.headerKeys {
		v, err := resolveValue(ctx, pc, scope, p.headers[k], KeyHTTPGet, "headers."+k)
		if err != nil {
			return engine.Data[any]{}, err
		}
		if s, ok := scalarText(v); ok && v != nil {
			req.Header.Set(k, s)
		}
	}

	if err := engine.Checkpoint(ctx, KeyHTTPGet); err != nil {
		return engine.Data[any]{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return engine.Data[any]{}, engine.Checkpoint(ctx, KeyHTTPGet)
		}
		return engine.Data[any]{}, engine.NewResolutionError("request failed", err).
			WithCode(engine.ErrCodeUpstreamFailed).
			WithDiagnostics(diag)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return engine.Data[any]{}, engine.NewResolutionError(
			fmt.Sprintf("request returned status %d", resp.StatusCode), nil,
		).WithCode(engine.ErrCodeUpstreamFailed).
			WithDetail("status", resp.StatusCode).
			WithDiagnostics(diag)
	}

	var body any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return engine.Null[any](), nil
		}
		return engine.Data[any]{}, engine.NewResolutionError("response is not valid JSON", err).
			WithCode(engine.ErrCodeInvalidInputData).
			WithDiagnostics(diag)
	}
	return dataOf(body), nil
}
