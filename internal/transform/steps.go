package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"sgcars-go/internal/updater"
)

// Step kinds accepted by ParseStep.
const (
	KindTrim   = "trim"
	KindUpper  = "upper"
	KindLower  = "lower"
	KindStrip  = "strip"
	KindJoin   = "join"
	KindNumber = "number"
)

// ParseStep parses a step spec of the form kind[:arg[:arg]]:
//
//	trim
//	upper
//	lower
//	strip:<chars>
//	join:<split chars>:<separator>
//	number
func ParseStep(spec string) (updater.TransformStep, error) {
	kind, rest, hasArgs := strings.Cut(spec, ":")
	switch kind {
	case KindTrim:
		return Trim{}, nil
	case KindUpper:
		return Upper{}, nil
	case KindLower:
		return Lower{}, nil
	case KindNumber:
		return Number{}, nil
	case KindStrip:
		if !hasArgs || rest == "" {
			return nil, fmt.Errorf("step %q: strip needs the characters to remove", spec)
		}
		return Strip{Chars: rest}, nil
	case KindJoin:
		split, sep, ok := strings.Cut(rest, ":")
		if !hasArgs || !ok || split == "" {
			return nil, fmt.Errorf("step %q: join needs split characters and a separator", spec)
		}
		return Join{Split: split, Separator: sep}, nil
	default:
		return nil, fmt.Errorf("unknown transform step %q", spec)
	}
}

// ParseSteps parses an ordered chain of step specs. A number step may only
// appear last, since later steps operate on text.
func ParseSteps(specs []string) ([]updater.TransformStep, error) {
	steps := make([]updater.TransformStep, 0, len(specs))
	for i, spec := range specs {
		step, err := ParseStep(spec)
		if err != nil {
			return nil, err
		}
		if step.Kind() == KindNumber && i != len(specs)-1 {
			return nil, fmt.Errorf("step %q must be the last in its chain", spec)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// ParseStepMap parses the steps of every field.
func ParseStepMap(m map[string][]string) (map[string][]updater.TransformStep, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string][]updater.TransformStep, len(m))
	for field, specs := range m {
		steps, err := ParseSteps(specs)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field, err)
		}
		out[field] = steps
	}
	return out, nil
}

// Specs renders a chain back to its config form.
func Specs(steps []updater.TransformStep) []string {
	specs := make([]string, len(steps))
	for i, s := range steps {
		specs[i] = s.Spec()
	}
	return specs
}

func text(kind string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s expects text, got %T", kind, v)
	}
	return s, nil
}

// Trim removes surrounding whitespace.
type Trim struct{}

func (Trim) Kind() string { return KindTrim }
func (Trim) Spec() string { return KindTrim }

func (Trim) Apply(v any) (any, error) {
	s, err := text(KindTrim, v)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

// Upper trims and upper-cases.
type Upper struct{}

func (Upper) Kind() string { return KindUpper }
func (Upper) Spec() string { return KindUpper }

func (Upper) Apply(v any) (any, error) {
	s, err := text(KindUpper, v)
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(strings.TrimSpace(s)), nil
}

// Lower trims and lower-cases.
type Lower struct{}

func (Lower) Kind() string { return KindLower }
func (Lower) Spec() string { return KindLower }

func (Lower) Apply(v any) (any, error) {
	s, err := text(KindLower, v)
	if err != nil {
		return nil, err
	}
	return strings.ToLower(strings.TrimSpace(s)), nil
}

// Strip removes every occurrence of each character in Chars.
type Strip struct {
	Chars string
}

func (Strip) Kind() string   { return KindStrip }
func (s Strip) Spec() string { return KindStrip + ":" + s.Chars }

func (s Strip) Apply(v any) (any, error) {
	str, err := text(KindStrip, v)
	if err != nil {
		return nil, err
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(s.Chars, r) {
			return -1
		}
		return r
	}, str), nil
}

// Join splits on any character of Split, trims the parts, drops empty ones
// and joins the rest with Separator.
type Join struct {
	Split     string
	Separator string
}

func (Join) Kind() string   { return KindJoin }
func (j Join) Spec() string { return KindJoin + ":" + j.Split + ":" + j.Separator }

func (j Join) Apply(v any) (any, error) {
	s, err := text(KindJoin, v)
	if err != nil {
		return nil, err
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(j.Split, r)
	})
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, j.Separator), nil
}

// Number coerces text to a number. Blank cells mean zero in the published
// files, so "" becomes int64(0). Integral values become int64, others float64.
type Number struct{}

func (Number) Kind() string { return KindNumber }
func (Number) Spec() string { return KindNumber }

func (Number) Apply(v any) (any, error) {
	switch x := v.(type) {
	case int64, float64:
		return x, nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if s == "" {
			return int64(0), nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%q is not a number", x)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("number expects text, got %T", v)
	}
}
