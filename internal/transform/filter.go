package transform

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the closed set of supported pixel transforms.
type Kind string

const (
	Grayscale  Kind = "grayscale"
	Sepia      Kind = "sepia"
	Invert     Kind = "invert"
	Blur       Kind = "blur"
	Sharpen    Kind = "sharpen"
	Brightness Kind = "brightness"
	Contrast   Kind = "contrast"
)

// Default factors used when a Brightness or Contrast filter carries none.
const (
	DefaultBrightness = 1.2
	DefaultContrast   = 1.5
)

// Kinds returns every supported kind in display order.
func Kinds() []Kind {
	return []Kind{Grayscale, Sepia, Invert, Blur, Sharpen, Brightness, Contrast}
}

// Valid reports whether k is a member of the closed set.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Parametric reports whether the kind takes a factor.
func (k Kind) Parametric() bool {
	return k == Brightness || k == Contrast
}

// Filter selects one transform. Factor is only meaningful for Brightness
// and Contrast; zero means the default factor.
type Filter struct {
	Kind   Kind    `json:"kind"`
	Factor float64 `json:"factor,omitempty"`
}

// BrightnessFilter returns a Brightness filter with the given factor.
func BrightnessFilter(factor float64) Filter { return Filter{Kind: Brightness, Factor: factor} }

// ContrastFilter returns a Contrast filter with the given factor.
func ContrastFilter(factor float64) Filter { return Filter{Kind: Contrast, Factor: factor} }

// EffectiveFactor returns the factor actually applied.
func (f Filter) EffectiveFactor() float64 {
	switch f.Kind {
	case Brightness:
		if f.Factor == 0 {
			return DefaultBrightness
		}
	case Contrast:
		if f.Factor == 0 {
			return DefaultContrast
		}
	default:
		return 0
	}
	return f.Factor
}

// Validate checks the kind and factor.
func (f Filter) Validate() error {
	if !f.Kind.Valid() {
		return fmt.Errorf("unknown filter %q (valid: %s)", f.Kind, joinKinds())
	}
	if f.Kind.Parametric() && f.Factor < 0 {
		return fmt.Errorf("filter %s: factor must be non-negative, got %g", f.Kind, f.Factor)
	}
	if !f.Kind.Parametric() && f.Factor != 0 {
		return fmt.Errorf("filter %s takes no factor", f.Kind)
	}
	return nil
}

func (f Filter) String() string {
	if f.Kind.Parametric() {
		return fmt.Sprintf("%s:%s", f.Kind, strconv.FormatFloat(f.EffectiveFactor(), 'g', -1, 64))
	}
	return string(f.Kind)
}

// ParseFilter parses "kind" or "kind:factor", e.g. "sepia" or "contrast:1.5".
func ParseFilter(s string) (Filter, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(s), ":")
	f := Filter{Kind: Kind(strings.ToLower(strings.TrimSpace(name)))}
	if hasArg {
		v, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil {
			return Filter{}, fmt.Errorf("filter %s: invalid factor %q: %w", f.Kind, arg, err)
		}
		f.Factor = v
	}
	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

func joinKinds() string {
	names := make([]string, 0, len(Kinds()))
	for _, k := range Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}
