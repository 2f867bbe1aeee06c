package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

var (
	aliasPattern        = regexp.MustCompile(`^[a-z][A-Za-z0-9_]*$`)
	automationIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// Loader reads automation documents from JSON or CUE sources. Every document
// is unified with the #Automation schema and then validated as a Document.
type Loader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewLoader creates a new document loader.
func NewLoader() *Loader {
	ctx := cuecontext.New()
	return &Loader{
		ctx:       ctx,
		schemas:   NewSchemaRegistry(ctx),
		validator: NewValidator(),
	}
}

// NewValidator returns a validator that knows the automation tags
// "alias" and "automationid".
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("alias", func(fl validator.FieldLevel) bool {
		return aliasPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("automationid", func(fl validator.FieldLevel) bool {
		return automationIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Load parses every source, which may be a file or a directory. Problems
// with the documents are reported in the result; the returned error is
// reserved for I/O failures and cancellation.
func (l *Loader) Load(ctx context.Context, sources []string) (*ParsedDocuments, error) {
	result := &ParsedDocuments{ParsedAt: time.Now()}

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", source, err)
		}

		files := []string{source}
		if info.IsDir() {
			files, err = l.LoadFromDirectory(source)
			if err != nil {
				return nil, err
			}
		}

		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			content, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", file, err)
			}
			result.SourceFiles = append(result.SourceFiles, file)
			l.parseInto(result, file, content)
		}
	}

	checkDuplicateIDs(result)
	return result, nil
}

// LoadDocuments loads sources and fails on the first document problem.
func (l *Loader) LoadDocuments(ctx context.Context, sources []string) ([]Document, error) {
	parsed, err := l.Load(ctx, sources)
	if err != nil {
		return nil, err
	}
	if err := parsed.Err(); err != nil {
		return nil, err
	}
	return parsed.Documents, nil
}

// ParseInline parses documents held in memory. name is used in error
// positions and selects nothing else; JSON is valid CUE.
func (l *Loader) ParseInline(ctx context.Context, name string, content []byte) (*ParsedDocuments, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &ParsedDocuments{
		SourceFiles: []string{name},
		ParsedAt:    time.Now(),
	}
	l.parseInto(result, name, content)
	checkDuplicateIDs(result)
	return result, nil
}

func (l *Loader) parseInto(result *ParsedDocuments, file string, content []byte) {
	val := l.ctx.CompileBytes(content, cue.Filename(file))
	if err := val.Err(); err != nil {
		result.Errors = append(result.Errors, convertCUEErrors(file, err)...)
		return
	}

	values, err := documentValues(val)
	if err != nil {
		result.Errors = append(result.Errors, ValidationError{File: file, Message: err.Error(), Severity: "error"})
		return
	}

	for _, v := range values {
		doc, errs := l.extractDocument(file, v)
		if len(errs) > 0 {
			result.Errors = append(result.Errors, errs...)
			continue
		}
		result.Documents = append(result.Documents, doc)
	}
}

// documentValues accepts a single document, or an "automations" field
// holding either a list of documents or a struct keyed by automation ID.
func documentValues(val cue.Value) ([]cue.Value, error) {
	group := val.LookupPath(cue.ParsePath("automations"))
	if !group.Exists() {
		return []cue.Value{val}, nil
	}

	var out []cue.Value
	switch group.IncompleteKind() {
	case cue.ListKind:
		iter, err := group.List()
		if err != nil {
			return nil, err
		}
		for iter.Next() {
			out = append(out, iter.Value())
		}
	case cue.StructKind:
		iter, err := group.Fields()
		if err != nil {
			return nil, err
		}
		for iter.Next() {
			v := iter.Value()
			if !v.LookupPath(cue.ParsePath("id")).Exists() {
				v = v.FillPath(cue.ParsePath("id"), iter.Selector().Unquoted())
			}
			out = append(out, v)
		}
	default:
		return nil, fmt.Errorf("automations must be a list or a struct, got %s", group.IncompleteKind())
	}
	return out, nil
}

func (l *Loader) extractDocument(file string, val cue.Value) (Document, []ValidationError) {
	var doc Document

	unified, err := l.schemas.Unify("automation", val)
	if err != nil {
		return doc, convertCUEErrors(file, err)
	}

	b, err := unified.MarshalJSON()
	if err != nil {
		return doc, convertCUEErrors(file, err)
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, []ValidationError{{File: file, Message: err.Error(), Severity: "error"}}
	}

	if err := l.validator.Struct(&doc); err != nil {
		return doc, convertValidatorErrors(file, doc.ID, err)
	}
	return doc, nil
}

func checkDuplicateIDs(result *ParsedDocuments) {
	seen := make(map[string]bool, len(result.Documents))
	kept := result.Documents[:0]
	for _, doc := range result.Documents {
		if seen[doc.ID] {
			result.Errors = append(result.Errors, ValidationError{
				Path:     doc.ID,
				Message:  fmt.Sprintf("duplicate automation id %q", doc.ID),
				Severity: "error",
			})
			continue
		}
		seen[doc.ID] = true
		kept = append(kept, doc)
	}
	result.Documents = kept
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func convertCUEErrors(file string, err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			File:     file,
			Message:  cueerrors.Details(e, nil),
			Severity: "error",
			Path:     strings.Join(e.Path(), "."),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			if name := pos[0].Filename(); name != "" && !strings.HasSuffix(name, "automation.cue") {
				ve.File = name
			}
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		validationErrors = append(validationErrors, ve)
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{File: file, Message: err.Error(), Severity: "error"})
	}
	return validationErrors
}

func convertValidatorErrors(file, id string, err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{File: file, Path: id, Message: err.Error(), Severity: "error"}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			File:     file,
			Path:     fe.Namespace(),
			Message:  fmt.Sprintf("%s failed on the %q rule", fe.Field(), fe.Tag()),
			Severity: "error",
		})
	}
	return out
}

// ExportJSON exports a CUE value to indented JSON.
func (l *Loader) ExportJSON(val cue.Value) ([]byte, error) {
	var data interface{}
	if err := val.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	return json.MarshalIndent(data, "", "  ")
}

// LoadFromDirectory lists the .cue and .json files below dir, sorted.
func (l *Loader) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && IsDocumentFile(path) {
			files = append(files, path)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// IsDocumentFile reports whether path has a document extension.
func IsDocumentFile(path string) bool {
	switch filepath.Ext(path) {
	case ".cue", ".json":
		return true
	}
	return false
}
