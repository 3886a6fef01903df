package filter

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mrzor/h2trace/internal/bpf"
)

// Label is a named expression.
type Label struct {
	Name       string
	Expression string
}

// ParseLabel parses "name=expression".
func ParseLabel(s string) (Label, error) {
	name, expression, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.TrimSpace(expression) == "" {
		return Label{}, fmt.Errorf("label %q: want name=expression", s)
	}
	return Label{Name: name, Expression: expression}, nil
}

// Labeler evaluates labels against events.
type Labeler struct {
	labels   []Label
	programs []*vm.Program
}

// NewLabeler pre-compiles every label expression.
func NewLabeler(labels []Label) (*Labeler, error) {
	programs := make([]*vm.Program, len(labels))
	for i, l := range labels {
		program, err := expr.Compile(l.Expression, expr.Env(Env{}))
		if err != nil {
			return nil, fmt.Errorf("compiling expression for label %q: %w", l.Name, err)
		}
		programs[i] = program
	}
	return &Labeler{labels: labels, programs: programs}, nil
}

// Evaluate returns the labels of ev in declaration order. A label whose
// expression fails at run time is skipped and reported in errs.
func (l *Labeler) Evaluate(ev *bpf.HeaderEvent) (attrs []attribute.KeyValue, errs []error) {
	if l == nil || len(l.labels) == 0 {
		return nil, nil
	}

	env := EnvOf(ev)
	for i, label := range l.labels {
		out, err := expr.Run(l.programs[i], env)
		if err != nil {
			errs = append(errs, fmt.Errorf("label %q: %w", label.Name, err))
			continue
		}

		rv := reflect.ValueOf(out)
		if rv.Kind() != reflect.Map {
			attrs = append(attrs, attribute.String(label.Name, fmt.Sprint(out)))
			continue
		}
		for _, key := range rv.MapKeys() {
			name := label.Name + "." + sanitizeName(fmt.Sprint(key.Interface()))
			attrs = append(attrs, attribute.String(name, fmt.Sprint(rv.MapIndex(key).Interface())))
		}
	}
	return attrs, errs
}

// sanitizeName replaces characters outside [A-Za-z0-9_] with underscores.
func sanitizeName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}
