package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/evahq/evamem/pkg/memory"
)

// Handler executes one named operation against already-validated args.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ParamSpec describes one argument of an operation.
type ParamSpec struct {
	Type        string // "string", "int" or "strings"
	Required    bool
	Description string
	Enum        []string
}

// Operation couples a handler with its argument schema so validation
// happens uniformly before any handler runs.
type Operation struct {
	Name        string
	Description string
	Params      map[string]ParamSpec
	Handler     Handler
}

// Dispatcher routes named operations to the memory service. The table is
// built once at startup and never mutated afterwards, so lookups need no
// locking.
type Dispatcher struct {
	ops map[string]Operation
	log zerolog.Logger
}

func New(svc *memory.Service, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		ops: make(map[string]Operation),
		log: log.With().Str("component", "dispatch").Logger(),
	}
	for _, op := range operations(svc) {
		d.ops[op.Name] = op
	}
	return d
}

// Dispatch validates args against the operation's schema and runs it.
// Unknown operations and schema violations fail with ValidationError before
// the handler is invoked.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	op, ok := d.ops[name]
	if !ok {
		return nil, &memory.ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", name)}
	}
	if err := validateArgs(op.Params, args); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := op.Handler(ctx, args)
	if err != nil {
		d.log.Debug().Str("operation", name).Dur("duration", time.Since(start)).
			Err(err).Msg("operation failed")
		return nil, err
	}
	d.log.Debug().Str("operation", name).Dur("duration", time.Since(start)).
		Msg("operation completed")
	return result, nil
}

// Names returns all registered operation names, sorted.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.ops))
	for name := range d.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the operation's schema, false if it does not exist.
func (d *Dispatcher) Describe(name string) (Operation, bool) {
	op, ok := d.ops[name]
	return op, ok
}

func validateArgs(params map[string]ParamSpec, args map[string]interface{}) error {
	for name, spec := range params {
		raw, present := args[name]
		if !present {
			if spec.Required {
				return &memory.ValidationError{Field: name, Reason: "required argument missing"}
			}
			continue
		}
		switch spec.Type {
		case "string":
			s, ok := raw.(string)
			if !ok {
				return &memory.ValidationError{Field: name, Reason: "must be a string"}
			}
			if len(spec.Enum) > 0 && !containsString(spec.Enum, s) {
				return &memory.ValidationError{Field: name, Reason: fmt.Sprintf("must be one of %v", spec.Enum)}
			}
		case "int":
			if _, ok := asInt(raw); !ok {
				return &memory.ValidationError{Field: name, Reason: "must be an integer"}
			}
		case "strings":
			if _, ok := asStrings(raw); !ok {
				return &memory.ValidationError{Field: name, Reason: "must be a list of strings"}
			}
		}
	}
	for name := range args {
		if _, known := params[name]; !known {
			return &memory.ValidationError{Field: name, Reason: "unknown argument"}
		}
	}
	return nil
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// asInt accepts native ints and the float64 form JSON decoding produces.
func asInt(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

// asStrings accepts native string slices and the []interface{} form JSON
// decoding produces.
func asStrings(raw interface{}) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func argString(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func argInt(args map[string]interface{}, name string) int {
	n, _ := asInt(args[name])
	return n
}

func argStrings(args map[string]interface{}, name string) []string {
	ss, _ := asStrings(args[name])
	return ss
}
