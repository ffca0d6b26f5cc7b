package scan

import (
	"sort"

	"github.com/bobmcallan/eodscan/internal/indicators"
	"github.com/bobmcallan/eodscan/internal/models"
)

var defaultSchema = indicators.NewSchema()

// Evaluate filters rows by the definition's predicate, orders them by its
// sort key and truncates to its result cap. rows is not modified.
func Evaluate(rows []models.SnapshotRow, def *Definition) []models.SnapshotRow {
	out, _ := evaluate(rows, def)
	return out
}

// Run evaluates def over rows and returns the result with the definition
// metadata attached.
func Run(rows []models.SnapshotRow, def *Definition) models.ScanResult {
	out, matched := evaluate(rows, def)
	res := models.ScanResult{
		TotalMatched: matched,
		Rows:         out,
	}
	if def != nil {
		res.Group = def.Group
		res.GroupLink = def.GroupLink
		res.Scan = def.Name
		res.Slug = def.Slug
		res.Description = def.Description
		res.Where = def.Where
		res.SortKey = def.SortKey
		res.SortDirection = def.SortDirection
		res.ResultCap = def.ResultCap
		if def.Predicate != nil && res.Where == "" {
			res.Where = def.Predicate.String()
		}
	}
	return res
}

func evaluate(rows []models.SnapshotRow, def *Definition) ([]models.SnapshotRow, int) {
	out := []models.SnapshotRow{}
	if def == nil || def.Predicate == nil || !knownSortKey(def) {
		return out, 0
	}

	for _, row := range rows {
		if def.Predicate.Match(row) {
			out = append(out, row)
		}
	}
	matched := len(out)

	asc := def.SortDirection == models.SortAscending
	sort.SliceStable(out, func(i, j int) bool {
		vi, iok := out[i].Get(def.SortKey).Float()
		vj, jok := out[j].Get(def.SortKey).Float()
		switch {
		case !iok || !jok:
			// undefined keys go last
			return iok && !jok
		case asc:
			return vi < vj
		default:
			return vi > vj
		}
	})

	if def.ResultCap < len(out) {
		out = out[:max(def.ResultCap, 0)]
	}
	return out, matched
}

func knownSortKey(def *Definition) bool {
	schema := def.schema
	if schema == nil {
		schema = defaultSchema
	}
	canonical, ok := schema.Resolve(def.SortKey)
	return ok && canonical == def.SortKey
}
