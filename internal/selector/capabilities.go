package selector

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Level grades a capability. The zero value means undeclared and ranks below
// every declared level.
type Level int

const (
	LevelUnset Level = iota
	LevelLow
	LevelMedium
	LevelHigh
)

var levelNames = map[Level]string{LevelLow: "low", LevelMedium: "medium", LevelHigh: "high"}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unset"
}

// ParseLevel accepts low, medium or high.
func ParseLevel(raw string) (Level, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for level, name := range levelNames {
		if name == value {
			return level, nil
		}
	}
	if value == "" {
		return LevelUnset, nil
	}
	return LevelUnset, fmt.Errorf("unknown level %q (want low, medium or high)", raw)
}

func (l *Level) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseLevel(node.Value)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func (l Level) MarshalYAML() (any, error) { return l.String(), nil }

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Size grades the produced binary. The zero value means undeclared and ranks
// after every declared size.
type Size int

const (
	SizeUnset Size = iota
	SizeCompact
	SizeStandard
	SizeLarge
)

var sizeNames = map[Size]string{SizeCompact: "compact", SizeStandard: "standard", SizeLarge: "large"}

func (s Size) String() string {
	if name, ok := sizeNames[s]; ok {
		return name
	}
	return "unset"
}

// ParseSize accepts compact, standard or large.
func ParseSize(raw string) (Size, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for size, name := range sizeNames {
		if name == value {
			return size, nil
		}
	}
	if value == "" {
		return SizeUnset, nil
	}
	return SizeUnset, fmt.Errorf("unknown binary size %q (want compact, standard or large)", raw)
}

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Size) MarshalYAML() (any, error) { return s.String(), nil }

func (s Size) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// sizeRank orders sizes smallest first with undeclared last.
func (s Size) sizeRank() int {
	if s == SizeUnset {
		return int(SizeLarge) + 1
	}
	return int(s)
}

// Capabilities are the declared properties strategies rank on.
type Capabilities struct {
	Security             Level `yaml:"security_level" json:"security_level"`
	Performance          Level `yaml:"performance_level" json:"performance_level"`
	BinarySize           Size  `yaml:"binary_size" json:"binary_size"`
	StreamingIO          bool  `yaml:"streaming_io" json:"streaming_io"`
	Parallelism          bool  `yaml:"parallelism" json:"parallelism"`
	PerformanceOptimized bool  `yaml:"performance_optimized" json:"performance_optimized"`
}
