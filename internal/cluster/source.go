package cluster

import "github.com/roojs/semantic-code-search/internal/engine"

// Source lists indexed functions and their vectors. *engine.Engine implements it.
type Source interface {
	Functions() []engine.Function
	Vector(id uint64) ([]float32, bool)
}

// Items loads every indexed function with its vector. Functions whose vector is gone
// are skipped.
func Items(src Source) []Item {
	fns := src.Functions()
	items := make([]Item, 0, len(fns))
	for _, fn := range fns {
		vec, ok := src.Vector(fn.ID)
		if !ok {
			continue
		}
		items = append(items, Item{
			ID:        fn.ID,
			Path:      fn.Path,
			StartLine: fn.Lines[0],
			EndLine:   fn.Lines[1],
			Vector:    vec,
		})
	}
	return items
}
