package transform

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"
	"github.com/ohler55/ojg/jp"
	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-list-ingest/types"
)

const tagSeparator = ", "

// ErrMalformedDocument is returned when the top level of a document is not an object.
var ErrMalformedDocument = xerrors.New("malformed document: top level is not an object")

// Paths select containers, not their entries: a container that is not an array yields nothing.
var (
	descriptionsPath = jp.MustParseString("$.containers.cna.descriptions")
	problemTypesPath = jp.MustParseString("$.containers.cna.problemTypes")
	ptDescPath       = jp.MustParseString("$.descriptions")
	referencesPath   = jp.MustParseString("$.containers.cna.references")
	affectedPath     = jp.MustParseString("$.containers.cna.affected")
	versionsPath     = jp.MustParseString("$.versions")
	tagsPath         = jp.MustParseString("$.tags")
	titlePath        = jp.MustParseString("$.containers.cna.title")
)

type options struct {
	newID func() string
}

type option func(*options)

// WithIDFunc sets the generator for row identifiers. It must be safe for concurrent use.
func WithIDFunc(f func() string) option {
	return func(opts *options) {
		opts.newID = f
	}
}

type Transformer struct {
	*options
}

func NewTransformer(opts ...option) Transformer {
	o := &options{
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return Transformer{
		options: o,
	}
}

// Transform maps one CVE JSON 5 document to its entity graph. Missing containers and
// fields produce empty collections or zero values; only a non-object document fails.
func (t Transformer) Transform(doc any) (*types.Graph, error) {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, xerrors.Errorf("got %T: %w", doc, ErrMalformedDocument)
	}

	record := t.record(root)
	g := &types.Graph{
		Records: []types.VulnerabilityRecord{record},
	}

	for _, pt := range objects(array(problemTypesPath.Get(root))) {
		for _, d := range objects(array(ptDescPath.Get(pt))) {
			g.ProblemTypes = append(g.ProblemTypes, types.ProblemType{
				ID:          t.newID(),
				RecordRowID: record.RowID,
				Description: str(d, "description"),
				CWEID:       str(d, "cweId"),
				Lang:        str(d, "lang"),
			})
		}
	}

	for _, a := range objects(array(affectedPath.Get(root))) {
		product := types.AffectedProduct{
			ID:            t.newID(),
			RecordRowID:   record.RowID,
			Vendor:        str(a, "vendor"),
			Product:       str(a, "product"),
			DefaultStatus: str(a, "defaultStatus"),
		}
		g.AffectedProducts = append(g.AffectedProducts, product)

		for _, v := range objects(array(versionsPath.Get(a))) {
			g.ProductVersions = append(g.ProductVersions, types.ProductVersion{
				ID:                t.newID(),
				AffectedProductID: product.ID,
				Version:           str(v, "version"),
				LessThan:          str(v, "lessThan"),
				Status:            str(v, "status"),
				VersionType:       str(v, "versionType"),
			})
		}
	}

	for _, r := range objects(array(referencesPath.Get(root))) {
		ref := types.Reference{
			ID:   t.newID(),
			URL:  str(r, "url"),
			Tags: strings.Join(strs(array(tagsPath.Get(r))), tagSeparator),
		}
		g.References = append(g.References, ref)
		g.RecordReferences = append(g.RecordReferences, types.RecordReference{
			RecordRowID: record.RowID,
			ReferenceID: ref.ID,
		})
	}

	return g, nil
}

func (t Transformer) record(root map[string]any) types.VulnerabilityRecord {
	meta, _ := root["cveMetadata"].(map[string]any)
	return types.VulnerabilityRecord{
		RowID:             t.newID(),
		ID:                str(meta, "cveId"),
		AssignerOrgID:     str(meta, "assignerOrgId"),
		State:             str(meta, "state"),
		AssignerShortName: str(meta, "assignerShortName"),
		DateReserved:      timestamp(meta, "dateReserved"),
		DatePublished:     timestamp(meta, "datePublished"),
		DateUpdated:       timestamp(meta, "dateUpdated"),
		Title:             first(strs(titlePath.Get(root))),
		Description:       description(objects(array(descriptionsPath.Get(root)))),
	}
}

// description prefers the English entry and falls back to the first one.
func description(descriptions []map[string]any) string {
	for _, d := range descriptions {
		if strings.HasPrefix(strings.ToLower(str(d, "lang")), "en") {
			return str(d, "value")
		}
	}
	if len(descriptions) > 0 {
		return str(descriptions[0], "value")
	}
	return ""
}

// timestamp returns nil when the field is absent, empty or unparseable.
// Values without a zone are taken as UTC.
func timestamp(m map[string]any, key string) *time.Time {
	s := strings.TrimSpace(str(m, key))
	if s == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if ts, err = dateparse.ParseIn(s, time.UTC); err != nil {
			return nil
		}
	}
	ts = ts.UTC()
	return &ts
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// array returns the entries of the single selected value when it is an array.
func array(selected []any) []any {
	if len(selected) != 1 {
		return nil
	}
	values, _ := selected[0].([]any)
	return values
}

func objects(values []any) []map[string]any {
	return lo.FilterMap(values, func(v any, _ int) (map[string]any, bool) {
		m, ok := v.(map[string]any)
		return m, ok
	})
}

func strs(values []any) []string {
	return lo.FilterMap(values, func(v any, _ int) (string, bool) {
		s, ok := v.(string)
		return s, ok
	})
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
