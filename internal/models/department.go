package models

import (
	"sort"
	"strings"
)

type Department string

const (
	DeptWaste     Department = "Waste"
	DeptWater     Department = "Water"
	DeptTransport Department = "Transport"
	DeptEnergy    Department = "Energy"
	DeptSafety    Department = "Safety"
)

func DefaultDepartments() []Department {
	return []Department{DeptWaste, DeptWater, DeptTransport, DeptEnergy, DeptSafety}
}

// Departments is the closed set of departments accepted at the API boundary.
// The built-in departments are always present, extra ones come from configuration.
type Departments struct {
	byKey map[string]Department
}

func NewDepartments(extra ...string) *Departments {
	d := &Departments{byKey: make(map[string]Department)}
	for _, dept := range DefaultDepartments() {
		d.byKey[strings.ToLower(string(dept))] = dept
	}
	for _, name := range extra {
		name = strings.TrimSpace(name)
		if len(name) == 0 {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := d.byKey[key]; !ok {
			d.byKey[key] = Department(name)
		}
	}
	return d
}

// Parse matches s case-insensitively and returns the canonical spelling.
func (d *Departments) Parse(s string) (Department, bool) {
	dept, ok := d.byKey[strings.ToLower(strings.TrimSpace(s))]
	return dept, ok
}

func (d *Departments) All() []Department {
	result := make([]Department, 0, len(d.byKey))
	for _, dept := range d.byKey {
		result = append(result, dept)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
