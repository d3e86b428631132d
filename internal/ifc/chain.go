package ifc

import (
	"fmt"
	"sort"

	"github.com/sebas/imscscf/internal/hss"
)

// CompileAll compiles and priority-sorts a subscriber's raw iFC list, as
// returned by the HSS Client, into a matchable sequence. Lower priority
// values are evaluated first.
func CompileAll(raws []hss.IFCRaw) ([]*IFC, error) {
	compiled := make([]*IFC, 0, len(raws))
	for i, raw := range raws {
		ifc, err := Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("ifc at index %d (priority %d): %w", i, raw.Priority, err)
		}
		compiled = append(compiled, ifc)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority < compiled[j].Priority
	})
	return compiled, nil
}
