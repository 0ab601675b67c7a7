package store

import (
	"encoding/json"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/strata/internal/record"
)

// listFilter wraps a compiled CEL program evaluated per record. When
// disabled, Eval always returns true.
type listFilter struct {
	prog    cel.Program
	nowMs   int64
	enabled bool
}

func newListFilter(expr string, nowMs int64) (listFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return listFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("scope", cel.StringType),
		cel.Variable("seq", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON payload for field filtering, null when not JSON
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return listFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return listFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return listFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return listFilter{}, err
	}
	return listFilter{prog: prog, nowMs: nowMs, enabled: true}, nil
}

func (f listFilter) Eval(r record.Record) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(r.Payload, &jsonObj)
	out, _, err := f.prog.Eval(map[string]any{
		"scope":  r.Scope,
		"seq":    int64(r.Seq),
		"ts_ms":  r.TimestampMs,
		"size":   int64(len(r.Payload)),
		"text":   string(r.Payload),
		"json":   jsonObj,
		"now_ms": f.nowMs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
