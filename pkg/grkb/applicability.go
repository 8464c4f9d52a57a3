package grkb

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ApplicabilityEvaluator evaluates constraint applicability expressions
// against a case descriptor. Expressions are CEL over a single `case` map,
// e.g. `case.risk_class == 'III' && case.report_kind == 'psur'`. Compiled
// programs are cached per expression.
type ApplicabilityEvaluator struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

// NewApplicabilityEvaluator builds the CEL environment.
func NewApplicabilityEvaluator() (*ApplicabilityEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("case", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("grkb: cel env: %w", err)
	}
	return &ApplicabilityEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Applies reports whether the expression holds for the descriptor. An empty
// expression always applies. Non-boolean results are an error: constraints
// must be predicates.
func (e *ApplicabilityEvaluator) Applies(expression string, descriptor map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}
	prg, err := e.program(expression)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"case": descriptor})
	if err != nil {
		return false, fmt.Errorf("grkb: eval applicability %q: %w", expression, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("grkb: applicability %q is not a boolean predicate", expression)
	}
	return b, nil
}

func (e *ApplicabilityEvaluator) program(expression string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[expression]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("grkb: compile applicability %q: %w", expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("grkb: program applicability %q: %w", expression, err)
	}
	e.programs[expression] = prg
	return prg, nil
}
