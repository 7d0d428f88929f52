// Package filter decides which resolved records are persisted, using a CEL
// expression over a `change` variable.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/syntrixbase/cdc-stitcher/internal/change"
)

var celNewEnv = cel.NewEnv

// Filter is a compiled record predicate. The zero value and a Filter built
// from an empty expression keep every record.
type Filter struct {
	expr    string
	program cel.Program
}

// New compiles expr. The expression sees `change` with the keys database,
// schema, table, operation, primary_key, context, before, after, position,
// transaction_id and committed_at, and must yield a bool.
func New(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}

	env, err := celNewEnv(
		cel.Variable("change", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("CEL environment error: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	if !ast.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("CEL expression must return bool, got %s", ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}

	return &Filter{expr: expr, program: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match reports whether rec should be persisted.
func (f *Filter) Match(rec change.Record) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}

	out, _, err := f.program.Eval(map[string]any{
		"change": activation(rec),
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL result is not boolean: %T", out.Value())
	}
	return result, nil
}

func activation(rec change.Record) map[string]any {
	return map[string]any{
		"database":       rec.Database,
		"schema":         rec.Schema,
		"table":          rec.Table,
		"operation":      rec.Kind.String(),
		"primary_key":    rec.PrimaryKey,
		"position":       rec.Position,
		"transaction_id": rec.TransactionID,
		"committed_at":   rec.CommittedAt,
		"context":        normalize(rec.Context),
		"before":         normalize(rec.Before),
		"after":          normalize(rec.After),
	}
}

// normalize converts decoded JSON numbers into CEL-native int or double
// values so they compare naturally inside expressions.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return map[string]any{}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case nil:
		return nil
	default:
		return val
	}
}
