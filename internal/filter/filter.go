package filter

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/mrzor/h2trace/internal/bpf"
)

// Env is what an expression can reference.
type Env struct {
	Pid       uint32 `expr:"pid"`
	Tid       uint32 `expr:"tid"`
	FD        uint32 `expr:"fd"`
	Stream    uint32 `expr:"stream"`
	Kind      string `expr:"kind"`
	Name      string `expr:"name"`
	Value     string `expr:"value"`
	TLS       bool   `expr:"tls"`
	Direction string `expr:"direction"`
	Socket    uint64 `expr:"socket"`
	Seq       uint32 `expr:"seq"`
	End       bool   `expr:"end"`
}

// EnvOf builds the expression environment of ev.
func EnvOf(ev *bpf.HeaderEvent) Env {
	return Env{
		Pid:       ev.Tgid,
		Tid:       ev.Pid,
		FD:        ev.FD,
		Stream:    ev.StreamID,
		Kind:      ev.MsgType.String(),
		Name:      string(ev.Name()),
		Value:     string(ev.Value()),
		TLS:       ev.DataType == bpf.PROTO_TLS_HTTP2,
		Direction: ev.Direction.String(),
		Socket:    ev.SocketID,
		Seq:       ev.TCPSeq,
		End:       ev.IsEnd(),
	}
}

// Filter is a compiled event predicate. A nil *Filter matches everything.
type Filter struct {
	source  string
	program *vm.Program
}

// Compile compiles a boolean expression. An empty source yields a nil
// Filter.
func Compile(source string) (*Filter, error) {
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling filter %q: %w", source, err)
	}
	return &Filter{source: source, program: program}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Match reports whether ev passes the filter.
func (f *Filter) Match(ev *bpf.HeaderEvent) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, EnvOf(ev))
	if err != nil {
		return false, fmt.Errorf("evaluating filter: %w", err)
	}
	match, _ := out.(bool)
	return match, nil
}
