package storyboard

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// ParseTransform converts the legacy CSS-like form, e.g.
// "translate3d(-5%, -5%, 0) scale(1.1)", into a Transform.
// It runs only at ingestion; the z component of translate3d is dropped.
func ParseTransform(s string) (Transform, error) {
	tr := Identity
	rest := strings.TrimSpace(s)

	for rest != "" {
		open := strings.IndexByte(rest, '(')
		closing := strings.IndexByte(rest, ')')
		if open <= 0 || closing < open {
			return Transform{}, fmt.Errorf("malformed transform %q", s)
		}

		name := strings.TrimSpace(rest[:open])
		args, err := parseArgs(rest[open+1 : closing])
		if err != nil {
			return Transform{}, fmt.Errorf("transform %q: %s: %w", s, name, err)
		}
		rest = strings.TrimSpace(rest[closing+1:])

		switch name {
		case "translate3d", "translate":
			if len(args) < 1 || len(args) > 3 {
				return Transform{}, fmt.Errorf("transform %q: %s expects 1-3 arguments", s, name)
			}
			if err := percentOnly(args[:min(len(args), 2)]); err != nil {
				return Transform{}, fmt.Errorf("transform %q: %s: %w", s, name, err)
			}
			tr.TranslateX = args[0].value
			if len(args) > 1 {
				tr.TranslateY = args[1].value
			}
		case "translateX", "translateY":
			if len(args) != 1 {
				return Transform{}, fmt.Errorf("transform %q: %s expects 1 argument", s, name)
			}
			if err := percentOnly(args); err != nil {
				return Transform{}, fmt.Errorf("transform %q: %s: %w", s, name, err)
			}
			if name == "translateX" {
				tr.TranslateX = args[0].value
			} else {
				tr.TranslateY = args[0].value
			}
		case "scale":
			if len(args) == 0 || len(args) > 2 || (len(args) == 2 && args[0].value != args[1].value) {
				return Transform{}, fmt.Errorf("transform %q: only uniform scale is supported", s)
			}
			for _, a := range args {
				if a.unit != "" {
					return Transform{}, fmt.Errorf("transform %q: scale takes a plain number, got %q", s, a.unit)
				}
			}
			tr.Scale = args[0].value
		default:
			return Transform{}, fmt.Errorf("transform %q: unsupported function %s", s, name)
		}
	}

	return tr, nil
}

type arg struct {
	value float64
	unit  string
}

// translations are stored as percent of the surface, so only % or unitless
// values are accepted.
func percentOnly(args []arg) error {
	for _, a := range args {
		if a.unit != "" && a.unit != "%" {
			return fmt.Errorf("unsupported unit %q, use %%", a.unit)
		}
	}
	return nil
}

func parseArgs(s string) ([]arg, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]arg, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		num := strings.TrimRightFunc(p, unicode.IsLetter)
		num = strings.TrimSuffix(num, "%")
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, arg{value: v, unit: p[len(num):]})
	}
	return out, nil
}

// UnmarshalYAML accepts either structured fields or a legacy "transform" string.
// Structured fields win when both are present. Missing scale and opacity default to 1.
func (k *Keyframe) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Offset     float64  `yaml:"offset"`
		TranslateX *float64 `yaml:"translate_x"`
		TranslateY *float64 `yaml:"translate_y"`
		Scale      *float64 `yaml:"scale"`
		Opacity    *float64 `yaml:"opacity"`
		Transform  string   `yaml:"transform"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	tr := Identity
	if raw.Transform != "" {
		parsed, err := ParseTransform(raw.Transform)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		tr = parsed
	}
	if raw.TranslateX != nil {
		tr.TranslateX = *raw.TranslateX
	}
	if raw.TranslateY != nil {
		tr.TranslateY = *raw.TranslateY
	}
	if raw.Scale != nil {
		tr.Scale = *raw.Scale
	}

	opacity := 1.0
	if raw.Opacity != nil {
		opacity = *raw.Opacity
	}

	*k = Keyframe{Offset: raw.Offset, Transform: tr, Opacity: opacity}
	return nil
}
