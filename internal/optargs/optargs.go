// Package optargs turns a tagged struct into a flat CLI argument list.
//
// The emulated-workflow runner (internal/actrun) needs to compose a
// variable-length `--job`, repeated `--matrix k:v`, and `--directory`
// argument list for an external process invocation. Rather than hand
// string-concatenate that, fields are tagged with `flag:"--name"` and
// ToArgs walks them by reflection, exactly the way the teacher's own
// `container` CLI wrapper composed its flag sets.
package optargs

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// ActInvocation composes the external hosted-workflow emulator's argv
// for one (tool, target) dispatch, per spec.md §4.7. The emulator's
// process environment (Act.env) is set directly on exec.Cmd.Env by
// the caller, not rendered as flags here.
type ActInvocation struct {
	// Job is passed as --job <job>.
	Job string `flag:"--job"`
	// Matrix entries are each passed as a repeated --matrix k:v.
	Matrix map[string]string `flag:"--matrix,kv"`
	// Workdir scopes the emulator to a working directory bind.
	Workdir string `flag:"--directory"`
}

// ToArgs renders s into a flat CLI argument slice using each field's
// `flag` struct tag. Embedded structs are flattened. Zero-valued
// fields are omitted unless the tag carries a ",keepzero" suffix.
// Map-valued fields with a "k:v" style flag (declared via the tag
// suffix ",kv") are rendered as one repeated flag per entry in
// lexicographic key order for determinism; otherwise maps render as a
// single comma-joined "k=v,k=v" value, matching the teacher's
// reflection-based options.ToArgs.
func ToArgs[T any](s *T) []string {
	if s == nil {
		s = new(T)
	}
	var ret []string
	sv := reflect.ValueOf(*s)
	st := sv.Type()
	for i := range st.NumField() {
		field := st.Field(i)
		fv := sv.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			fvi := fv.Interface()
			ret = append(ret, ToArgs(&fvi)...)
			continue
		}
		flagTag, ok := field.Tag.Lookup("flag")
		if !ok {
			continue
		}
		flagParts := strings.Split(flagTag, ",")
		flagName := flagParts[0]
		keepZero := slices.Contains(flagParts[1:], "keepzero")
		asRepeatedKV := slices.Contains(flagParts[1:], "kv")

		if !keepZero && fv.IsZero() {
			continue
		}

		switch field.Type.Kind() {
		case reflect.Array, reflect.Slice:
			for i := 0; i < fv.Len(); i++ {
				ret = append(ret, flagName, fmt.Sprintf("%v", fv.Index(i)))
			}
		case reflect.Map:
			m, _ := fv.Interface().(map[string]string)
			keys := slices.Sorted(maps.Keys(m))
			if asRepeatedKV {
				for _, k := range keys {
					ret = append(ret, flagName, fmt.Sprintf("%s:%s", k, m[k]))
				}
			} else {
				pairs := make([]string, 0, len(keys))
				for _, k := range keys {
					pairs = append(pairs, fmt.Sprintf("%s=%s", k, m[k]))
				}
				ret = append(ret, flagName, strings.Join(pairs, ","))
			}
		case reflect.Bool:
			ret = append(ret, flagName)
		default:
			ret = append(ret, flagName, fmt.Sprintf("%v", fv.Interface()))
		}
	}
	return ret
}
