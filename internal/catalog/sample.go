package catalog

import (
	_ "embed"
	"sync"
)

//go:embed sample_catalog.yaml
var sampleCatalog []byte

var (
	sampleOnce sync.Once
	sample     *Catalog
)

// Default returns the built-in sample catalog.
func Default() *Catalog {
	sampleOnce.Do(func() {
		c, err := Parse(sampleCatalog)
		if err != nil {
			panic("catalog: embedded sample catalog is invalid: " + err.Error())
		}
		sample = c
	})
	return sample
}
