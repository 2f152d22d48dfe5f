package entities

import (
	"context"
	"strings"
)

// Entities holds extracted spans per category. Each slice keeps appearance
// order and may contain duplicates.
type Entities struct {
	Dates         []string `json:"dates"`
	Locations     []string `json:"locations"`
	Quantities    []string `json:"quantities"`
	Products      []string `json:"products"`
	Organizations []string `json:"organizations"`
	People        []string `json:"people"`
	Custom        []string `json:"custom"`
}

type Extractor interface {
	Extract(ctx context.Context, text string) (Entities, error)
}

// Empty returns an Entities value with every category present and empty.
func Empty() Entities {
	var e Entities
	e.Normalize()
	return e
}

// Normalize replaces nil categories with empty slices so JSON never omits them.
func (e *Entities) Normalize() {
	for _, c := range e.categories() {
		if *c == nil {
			*c = []string{}
		}
	}
}

func (e Entities) Count() int {
	n := 0
	for _, c := range e.categories() {
		n += len(*c)
	}
	return n
}

func (e Entities) IsEmpty() bool {
	return e.Count() == 0
}

func (e Entities) Clone() Entities {
	out := e
	for _, c := range out.categories() {
		if *c != nil {
			*c = append([]string(nil), (*c)...)
		}
	}
	return out
}

// Get returns the category by its JSON name.
func (e Entities) Get(category string) []string {
	switch strings.ToLower(category) {
	case "dates":
		return e.Dates
	case "locations":
		return e.Locations
	case "quantities":
		return e.Quantities
	case "products":
		return e.Products
	case "organizations":
		return e.Organizations
	case "people":
		return e.People
	case "custom":
		return e.Custom
	}
	return nil
}

// Categories lists the JSON category names in a fixed order.
func Categories() []string {
	return []string{"dates", "locations", "quantities", "products", "organizations", "people", "custom"}
}

func (e *Entities) categories() []*[]string {
	return []*[]string{&e.Dates, &e.Locations, &e.Quantities, &e.Products, &e.Organizations, &e.People, &e.Custom}
}

// Field returns a pointer to the named category slice, or nil.
func (e *Entities) Field(category string) *[]string {
	for i, name := range Categories() {
		if name == strings.ToLower(category) {
			return e.categories()[i]
		}
	}
	return nil
}
