package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// projectSchema constrains CUE definitions before they are decoded.
const projectSchema = `
#Commands: string | [...string]

#Project: {
	name: string & =~"^[^/\\s]+$"

	source?: "none" | {path: string & !=""} | {git: string & !=""} | {zip: string & !=""}

	deps?: {[string]: [...string]}

	env?: {[string]: string}

	phase?: {
		setup?:    #Commands
		update?:   #Commands
		build?:    #Commands
		start?:    #Commands
		stop?:     #Commands
		teardown?: #Commands
	}

	service?: {
		autostart?:    bool
		"restart-on"?: "never" | "always" | "on-failure"
	}
}
`

// cueDecoder compiles CUE definitions and checks them against #Project.
type cueDecoder struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

func newCUEDecoder() *cueDecoder {
	ctx := cuecontext.New()
	schema := ctx.CompileString(projectSchema, cue.Filename("schema.cue")).
		LookupPath(cue.ParsePath("#Project"))
	return &cueDecoder{ctx: ctx, schema: schema}
}

// Decode compiles data, unifies it with the schema and decodes it into def.
// The definition may be the file's top level or a single top-level project field.
func (d *cueDecoder) Decode(filename string, data []byte, def *Definition) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.schema.Err(); err != nil {
		return fmt.Errorf("invalid project schema: %w", err)
	}

	val := d.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cueError(err)
	}

	val = projectValue(val)

	unified := d.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cueError(err)
	}

	if err := unified.Decode(def); err != nil {
		return fmt.Errorf("failed to decode project: %w", err)
	}
	return nil
}

// projectValue unwraps `project: {...}` when the file declares the project under one field.
func projectValue(val cue.Value) cue.Value {
	if val.LookupPath(cue.ParsePath("name")).Exists() {
		return val
	}
	if p := val.LookupPath(cue.ParsePath("project")); p.Exists() {
		return p
	}
	return val
}

// cueError flattens CUE errors into one message with positions.
func cueError(err error) error {
	var msgs []string
	for _, e := range errors.Errors(err) {
		msg := errors.Details(e, nil)
		if pos := errors.Positions(e); len(pos) > 0 {
			msg = fmt.Sprintf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), strings.TrimSpace(msg))
		}
		msgs = append(msgs, strings.TrimSpace(msg))
	}
	if len(msgs) == 0 {
		return err
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
