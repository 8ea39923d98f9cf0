package action

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"text/template"
)

// Exec runs a command. Each argument is a template over .Slots and .Text;
// arguments go to the process directly, never through a shell.
type Exec struct {
	args []*template.Template
}

func NewExec(args []string) (*Exec, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("exec: empty command")
	}
	e := &Exec{}
	for i, a := range args {
		t, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=zero").Parse(a)
		if err != nil {
			return nil, fmt.Errorf("exec: arg %d: %w", i, err)
		}
		e.args = append(e.args, t)
	}
	return e, nil
}

func (e *Exec) Handle(ctx context.Context, req Request) (Result, error) {
	data := map[string]any{"Slots": req.Slots, "Text": req.Text}

	argv := make([]string, len(e.args))
	for i, t := range e.args {
		var b strings.Builder
		if err := t.Execute(&b, data); err != nil {
			return Result{}, fmt.Errorf("exec: render arg %d: %w", i, err)
		}
		argv[i] = b.String()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Result{}, fmt.Errorf("exec %s: %w: %s", argv[0], err, msg)
		}
		return Result{}, fmt.Errorf("exec %s: %w", argv[0], err)
	}

	out := strings.TrimSpace(stdout.String())
	return Result{Phrase: out, Data: map[string]any{"output": out}}, nil
}
