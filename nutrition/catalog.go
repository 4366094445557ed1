// Package nutrition serves the renal-diet recipe dataset: per-dish
// nutrient totals from the Indian Nutrient Databank, screened against CKD
// dietary limits so the patient app can flag risky meals.
package nutrition

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Recipe is one dish with its per-serving nutrient totals.
type Recipe struct {
	Name         string  `json:"name"`
	Calories     float64 `json:"calories"`
	ProteinG     float64 `json:"proteinG"`
	FatG         float64 `json:"fatG"`
	CarbG        float64 `json:"carbG"`
	SodiumMg     float64 `json:"sodiumMg"`
	PotassiumMg  float64 `json:"potassiumMg"`
	PhosphorusMg float64 `json:"phosphorusMg"`
}

// Flag marks one exceeded renal-diet limit.
type Flag string

const (
	FlagHighSodium     Flag = "high_sodium"
	FlagHighPotassium  Flag = "high_potassium"
	FlagHighPhosphorus Flag = "high_phosphorus"
)

// RenalLimits are per-meal ceilings for the restricted nutrients.
type RenalLimits struct {
	SodiumMg     float64
	PotassiumMg  float64
	PhosphorusMg float64
}

// DefaultRenalLimits returns per-meal ceilings derived from common CKD
// guidance (roughly a third of the daily allowance).
func DefaultRenalLimits() RenalLimits {
	return RenalLimits{
		SodiumMg:     600,
		PotassiumMg:  700,
		PhosphorusMg: 300,
	}
}

// Flags returns the limits r exceeds, in a fixed order.
func (r Recipe) Flags(limits RenalLimits) []Flag {
	var flags []Flag
	if r.SodiumMg > limits.SodiumMg {
		flags = append(flags, FlagHighSodium)
	}
	if r.PotassiumMg > limits.PotassiumMg {
		flags = append(flags, FlagHighPotassium)
	}
	if r.PhosphorusMg > limits.PhosphorusMg {
		flags = append(flags, FlagHighPhosphorus)
	}
	return flags
}

// Catalog is a loaded, read-only recipe dataset.
type Catalog struct {
	recipes []Recipe
}

// Load reads a recipe JSON array.
func Load(r io.Reader) (*Catalog, error) {
	var recipes []Recipe
	if err := json.NewDecoder(r).Decode(&recipes); err != nil {
		return nil, fmt.Errorf("failed to decode recipe catalog: %w", err)
	}
	return &Catalog{recipes: recipes}, nil
}

// LoadFile reads a recipe JSON file from disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipe catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Len returns the number of recipes in the catalog.
func (c *Catalog) Len() int {
	return len(c.recipes)
}

// Search returns recipes whose name contains q (case-insensitive),
// preserving dataset order. Empty q returns everything.
func (c *Catalog) Search(q string) []Recipe {
	if q == "" {
		out := make([]Recipe, len(c.recipes))
		copy(out, c.recipes)
		return out
	}
	q = strings.ToLower(q)
	var out []Recipe
	for _, r := range c.recipes {
		if strings.Contains(strings.ToLower(r.Name), q) {
			out = append(out, r)
		}
	}
	return out
}

// Flagged returns recipes carrying the given flag under the limits.
func (c *Catalog) Flagged(flag Flag, limits RenalLimits) []Recipe {
	var out []Recipe
	for _, r := range c.recipes {
		for _, f := range r.Flags(limits) {
			if f == flag {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
