// Package units fixes the variable naming and unit policy of the final
// forcing artifact. The conversion table is the single source of truth for
// derived variables; ad hoc inline constants are deliberately absent.
package units

import (
	"fmt"
	"math"
)

// Conversion converts a value between two unit representations:
// out = in*Factor + Offset.
type Conversion struct {
	From   string
	To     string
	Factor float64
	Offset float64
}

// Apply converts a single value.
func (c Conversion) Apply(v float64) float64 {
	return v*c.Factor + c.Offset
}

// Derivation defines an output variable computed from another variable via
// a unit conversion.
type Derivation struct {
	// Name is the derived variable's name in the final artifact.
	Name string

	// Source is the (renamed) variable the derivation reads.
	Source string

	// Conv is the unit conversion applied element-wise.
	Conv Conversion

	// Note documents the derivation in the artifact metadata.
	Note string
}

// Rename maps source variable names to the names the downstream simulator
// expects.
var Rename = map[string]string{
	"LWDOWN":   "DLWRF_surface",
	"PSFC":     "PRES_surface",
	"Q2D":      "SPFH_2maboveground",
	"RAINRATE": "precip_rate",
	"SWDOWN":   "DSWRF_surface",
	"T2D":      "TMP_2maboveground",
	"U2D":      "UGRD_10maboveground",
	"V2D":      "VGRD_10maboveground",
}

// Derivations lists the variables synthesized during final assembly.
//
// precip_rate arrives in mm s^-1; the simulator's precipitation input wants
// mm h^-1. Historic revisions of this conversion disagreed (x3600,
// x3600/1000, /0.9998); the x3600 representation is the documented one and
// the others are rejected.
var Derivations = []Derivation{
	{
		Name:   "APCP_surface",
		Source: "precip_rate",
		Conv:   Conversion{From: "mm s^-1", To: "mm h^-1", Factor: 3600},
		Note:   "precip_rate converted to mm/h by multiplying by 3600",
	},
}

// OutputName returns the artifact name for a source variable, falling back
// to the source name when no rename applies.
func OutputName(source string) string {
	if renamed, ok := Rename[source]; ok {
		return renamed
	}
	return source
}

// Validate checks the conversion tables at startup. A broken table fails
// the run before any data moves.
func Validate() error {
	seen := make(map[string]bool)
	for from, to := range Rename {
		if from == "" || to == "" {
			return fmt.Errorf("rename table has an empty name")
		}
		if seen[to] {
			return fmt.Errorf("rename table maps two variables to %q", to)
		}
		seen[to] = true
	}

	for _, d := range Derivations {
		if d.Name == "" || d.Source == "" {
			return fmt.Errorf("derivation has an empty name")
		}
		if d.Conv.Factor == 0 {
			return fmt.Errorf("derivation %s: zero conversion factor", d.Name)
		}
		if math.IsNaN(d.Conv.Factor) || math.IsInf(d.Conv.Factor, 0) ||
			math.IsNaN(d.Conv.Offset) || math.IsInf(d.Conv.Offset, 0) {
			return fmt.Errorf("derivation %s: conversion is not finite", d.Name)
		}
		if d.Conv.From == "" || d.Conv.To == "" {
			return fmt.Errorf("derivation %s: units must be named on both sides", d.Name)
		}
		if seen[d.Name] {
			return fmt.Errorf("derivation %s collides with a renamed variable", d.Name)
		}
	}
	return nil
}
