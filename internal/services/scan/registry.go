package scan

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bobmcallan/eodscan/internal/indicators"
	"github.com/bobmcallan/eodscan/internal/models"
)

// Scale parameters available to every catalog expression.
const (
	ParamPrice  = "price"
	ParamVolume = "volume"
)

// Definition is a compiled scan: a bound predicate plus ranking rules.
type Definition struct {
	Group         string
	GroupLink     string
	Name          string
	Description   string
	Slug          string
	Where         string
	Predicate     *Predicate
	SortKey       string
	SortDirection models.SortDirection
	ResultCap     int

	schema *indicators.Schema
}

// Group is a catalog group with its compiled scans.
type Group struct {
	Name        string
	Slug        string
	Link        string
	Description string
	Scans       []*Definition
}

// DefinitionError reports a catalog scan that could not be compiled.
type DefinitionError struct {
	Group string
	Scan  string
	Err   error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("scan %q in group %q: %v", e.Scan, e.Group, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// Registry holds the compiled definitions of a catalog. It is read-only once
// built.
type Registry struct {
	schema *indicators.Schema
	params map[string]float64
	groups []*Group
	defs   []*Definition
	byKey  map[string]*Definition
	errs   []*DefinitionError
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*Registry)

// WithSchema replaces the default indicator schema.
func WithSchema(schema *indicators.Schema) RegistryOption {
	return func(r *Registry) {
		r.schema = schema
	}
}

// WithParams sets expression parameters, adding to @price and @volume.
func WithParams(params map[string]float64) RegistryOption {
	return func(r *Registry) {
		for k, v := range params {
			r.params[strings.ToLower(k)] = v
		}
	}
}

// WithMarket binds @price and @volume to a market's scale factors.
// Zero factors leave the defaults in place.
func WithMarket(m models.Market) RegistryOption {
	return func(r *Registry) {
		if m.PriceScale != 0 {
			r.params[ParamPrice] = m.PriceScale
		}
		if m.VolumeScale != 0 {
			r.params[ParamVolume] = m.VolumeScale
		}
	}
}

// NewRegistry compiles every scan in cat. Malformed scans are left out and
// reported by Errors; the rest still load.
func NewRegistry(cat *Catalog, opts ...RegistryOption) *Registry {
	r := &Registry{
		schema: indicators.NewSchema(),
		params: map[string]float64{ParamPrice: 1, ParamVolume: 1},
		byKey:  make(map[string]*Definition),
	}
	for _, opt := range opts {
		opt(r)
	}
	if cat == nil {
		return r
	}

	bySlug := make(map[string]*Definition)
	for _, gs := range cat.Groups {
		group := &Group{
			Name:        gs.Name,
			Slug:        GroupSlug(gs.Name),
			Link:        gs.Link,
			Description: gs.Description,
		}
		for _, ss := range gs.Scans {
			def, err := r.compile(gs, ss)
			if err != nil {
				r.errs = append(r.errs, &DefinitionError{Group: gs.Name, Scan: ss.Name, Err: err})
				continue
			}
			key := lookupKey(gs.Name, ss.Name)
			if _, dup := r.byKey[key]; dup {
				r.errs = append(r.errs, &DefinitionError{Group: gs.Name, Scan: ss.Name, Err: errors.New("duplicate scan name in group")})
				continue
			}
			if prev, taken := bySlug[def.Slug]; taken {
				r.errs = append(r.errs, &DefinitionError{Group: gs.Name, Scan: ss.Name,
					Err: fmt.Errorf("slug %q already used by scan %q in group %q", def.Slug, prev.Name, prev.Group)})
				continue
			}
			bySlug[def.Slug] = def
			r.byKey[key] = def
			r.defs = append(r.defs, def)
			group.Scans = append(group.Scans, def)
		}
		r.groups = append(r.groups, group)
	}
	return r
}

func (r *Registry) compile(gs GroupSpec, ss ScanSpec) (*Definition, error) {
	if strings.TrimSpace(gs.Name) == "" {
		return nil, errors.New("group name is empty")
	}
	if strings.TrimSpace(ss.Name) == "" {
		return nil, errors.New("scan name is empty")
	}

	parsed, err := Parse(ss.Where)
	if err != nil {
		return nil, err
	}
	bound, err := Bind(parsed, r.schema, r.params)
	if err != nil {
		return nil, err
	}
	pred, err := NewPredicate(bound)
	if err != nil {
		return nil, err
	}

	sortKey, ok := r.schema.Resolve(strings.ToLower(strings.TrimSpace(ss.SortKey)))
	if !ok {
		return nil, fmt.Errorf("unknown sort key %q", ss.SortKey)
	}

	var dir models.SortDirection
	switch strings.ToLower(strings.TrimSpace(ss.SortDirection)) {
	case "", string(models.SortDescending):
		dir = models.SortDescending
	case string(models.SortAscending):
		dir = models.SortAscending
	default:
		return nil, fmt.Errorf("unknown sort direction %q", ss.SortDirection)
	}

	limit := DefaultResultCap
	if ss.ResultCap != nil {
		if *ss.ResultCap < 0 {
			return nil, fmt.Errorf("negative result cap %d", *ss.ResultCap)
		}
		limit = *ss.ResultCap
	}

	return &Definition{
		Group:         gs.Name,
		GroupLink:     gs.Link,
		Name:          ss.Name,
		Description:   ss.Description,
		Slug:          Slug(gs.Name, ss.Name),
		Where:         ss.Where,
		Predicate:     pred,
		SortKey:       sortKey,
		SortDirection: dir,
		ResultCap:     limit,
		schema:        r.schema,
	}, nil
}

func lookupKey(group, name string) string {
	return group + "\x00" + name
}

// Definitions returns the compiled scans in catalog order.
func (r *Registry) Definitions() []*Definition {
	return r.defs
}

// Lookup returns the definition for a group and scan name.
func (r *Registry) Lookup(group, name string) (*Definition, bool) {
	def, ok := r.byKey[lookupKey(group, name)]
	return def, ok
}

// Groups returns the catalog groups in order, each with its loaded scans.
func (r *Registry) Groups() []*Group {
	return r.groups
}

// Errors returns the scans that failed to compile, in catalog order.
func (r *Registry) Errors() []*DefinitionError {
	return r.errs
}

// Schema returns the schema definitions were bound against.
func (r *Registry) Schema() *indicators.Schema {
	return r.schema
}

// RatioWindows returns the derived-ratio windows any definition needs,
// through its predicate or its sort key, ascending.
func (r *Registry) RatioWindows() []int {
	seen := make(map[int]bool)
	for _, def := range r.defs {
		columns := append([]string{def.SortKey}, def.Predicate.Columns()...)
		for _, c := range columns {
			if w, ok := r.schema.RatioWindow(c); ok {
				seen[w] = true
			}
		}
	}
	out := make([]int, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Ints(out)
	return out
}
