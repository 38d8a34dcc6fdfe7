// Package config loads run configuration for the lattice runtime from YAML:
// global extents, the rank grid, and per-field element types and boundary
// conditions.
package config

import (
	"fmt"
	"math"
	"math/cmplx"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xiagt-summer/HILA/field"
	"github.com/xiagt-summer/HILA/lattice"
)

type Config struct {
	Extents  []int         `yaml:"extents"`
	Ranks    int           `yaml:"ranks"`
	RankGrid []int         `yaml:"rank_grid,omitempty"` // explicit divisions; empty means surface policy
	Fields   []FieldConfig `yaml:"fields"`
}

type FieldConfig struct {
	Name       string           `yaml:"name"`
	Type       string           `yaml:"type"`   // real | complex | realN | complexN
	Layout     string           `yaml:"layout"` // element-major | component-major
	Boundaries []BoundaryConfig `yaml:"boundaries,omitempty"`
}

type BoundaryConfig struct {
	Axis      int     `yaml:"axis"`
	Kind      string  `yaml:"kind"`                 // periodic | antiperiodic | twisted
	TwistTurn float64 `yaml:"twist_turn,omitempty"` // twist phase as a fraction of a full turn
}

func DefaultConfig() *Config {
	return &Config{
		Extents: []int{8, 8, 8, 8},
		Ranks:   1,
		Fields: []FieldConfig{
			{Name: "phi", Type: "real", Layout: "element-major"},
		},
	}
}

// Load reads a YAML configuration over the defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Extents) == 0 {
		return fmt.Errorf("no extents")
	}
	for a, e := range c.Extents {
		if e < 1 {
			return fmt.Errorf("axis %d extent %d", a, e)
		}
	}
	if c.Ranks < 1 {
		return fmt.Errorf("ranks %d", c.Ranks)
	}
	if len(c.RankGrid) != 0 && len(c.RankGrid) != len(c.Extents) {
		return fmt.Errorf("rank grid has %d axes, extents have %d", len(c.RankGrid), len(c.Extents))
	}
	for i, fc := range c.Fields {
		if fc.Name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if _, err := fc.ElemType(); err != nil {
			return err
		}
		if _, err := fc.FieldLayout(); err != nil {
			return err
		}
		for _, bc := range fc.Boundaries {
			if bc.Axis < 0 || bc.Axis >= len(c.Extents) {
				return fmt.Errorf("field %s: boundary axis %d", fc.Name, bc.Axis)
			}
			if _, err := bc.Cond(); err != nil {
				return fmt.Errorf("field %s: %w", fc.Name, err)
			}
		}
	}
	return nil
}

// Policy returns the decomposition policy the configuration asks for.
func (c *Config) Policy() lattice.Policy {
	if len(c.RankGrid) > 0 {
		return lattice.ExplicitPolicy{Divisions: c.RankGrid}
	}
	return lattice.SurfacePolicy{}
}

// ElemType resolves the field's element type descriptor.
func (fc FieldConfig) ElemType() (field.ElemType, error) {
	switch fc.Type {
	case "", "real":
		return field.Real, nil
	case "complex":
		return field.Complex, nil
	}
	var n int
	if _, err := fmt.Sscanf(fc.Type, "real%d", &n); err == nil && n > 0 {
		return field.RealVector(n), nil
	}
	if _, err := fmt.Sscanf(fc.Type, "complex%d", &n); err == nil && n > 0 {
		return field.ComplexVector(n), nil
	}
	return field.ElemType{}, fmt.Errorf("field %s: unknown element type %q", fc.Name, fc.Type)
}

// FieldLayout resolves the storage layout tag.
func (fc FieldConfig) FieldLayout() (field.Layout, error) {
	switch fc.Layout {
	case "", "element-major":
		return field.ElementMajor, nil
	case "component-major":
		return field.ComponentMajor, nil
	}
	return 0, fmt.Errorf("field %s: unknown layout %q", fc.Name, fc.Layout)
}

// Cond resolves the boundary condition for one axis.
func (bc BoundaryConfig) Cond() (field.BoundaryCond, error) {
	switch bc.Kind {
	case "", "periodic":
		return field.BoundaryCond{Kind: field.Periodic}, nil
	case "antiperiodic":
		return field.BoundaryCond{Kind: field.Antiperiodic}, nil
	case "twisted":
		phase := cmplx.Exp(complex(0, 2*math.Pi*bc.TwistTurn))
		return field.BoundaryCond{Kind: field.Twisted, Phase: phase}, nil
	}
	return field.BoundaryCond{}, fmt.Errorf("unknown boundary kind %q", bc.Kind)
}
