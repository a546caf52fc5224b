package types

import "time"

// VulnerabilityRecord is one CVE entry. ID is the source identifier taken verbatim;
// RowID is the per-run key that child entities point at.
type VulnerabilityRecord struct {
	RowID             string     `json:"rowId"`
	ID                string     `json:"id"`
	AssignerOrgID     string     `json:"assignerOrgId,omitempty"`
	State             string     `json:"state,omitempty"`
	AssignerShortName string     `json:"assignerShortName,omitempty"`
	DateReserved      *time.Time `json:"dateReserved,omitempty"`
	DatePublished     *time.Time `json:"datePublished,omitempty"`
	DateUpdated       *time.Time `json:"dateUpdated,omitempty"`
	Title             string     `json:"title,omitempty"`
	Description       string     `json:"description,omitempty"`
}

type ProblemType struct {
	ID          string `json:"id"`
	RecordRowID string `json:"recordRowId"`
	Description string `json:"description,omitempty"`
	CWEID       string `json:"cweId,omitempty"`
	Lang        string `json:"lang,omitempty"`
}

// Reference has no back-link to a record; the association lives in RecordReference.
type Reference struct {
	ID   string `json:"id"`
	URL  string `json:"url,omitempty"`
	Tags string `json:"tags,omitempty"`
}

type RecordReference struct {
	RecordRowID string `json:"recordRowId"`
	ReferenceID string `json:"referenceId"`
}

type AffectedProduct struct {
	ID            string `json:"id"`
	RecordRowID   string `json:"recordRowId"`
	Vendor        string `json:"vendor,omitempty"`
	Product       string `json:"product,omitempty"`
	DefaultStatus string `json:"defaultStatus,omitempty"`
}

type ProductVersion struct {
	ID                string `json:"id"`
	AffectedProductID string `json:"affectedProductId"`
	Version           string `json:"version,omitempty"`
	LessThan          string `json:"lessThan,omitempty"`
	Status            string `json:"status,omitempty"`
	VersionType       string `json:"versionType,omitempty"`
}

// Graph holds the entities derived from one document, or accumulated for one batch.
// Slices are grouped by kind in the order they have to be written.
type Graph struct {
	Records          []VulnerabilityRecord
	ProblemTypes     []ProblemType
	AffectedProducts []AffectedProduct
	ProductVersions  []ProductVersion
	References       []Reference
	RecordReferences []RecordReference
}

// Merge appends every entity of other to g.
func (g *Graph) Merge(other *Graph) {
	if other == nil {
		return
	}
	g.Records = append(g.Records, other.Records...)
	g.ProblemTypes = append(g.ProblemTypes, other.ProblemTypes...)
	g.AffectedProducts = append(g.AffectedProducts, other.AffectedProducts...)
	g.ProductVersions = append(g.ProductVersions, other.ProductVersions...)
	g.References = append(g.References, other.References...)
	g.RecordReferences = append(g.RecordReferences, other.RecordReferences...)
}

// Len returns the number of rows the graph turns into.
func (g *Graph) Len() int {
	return len(g.Records) + len(g.ProblemTypes) + len(g.AffectedProducts) +
		len(g.ProductVersions) + len(g.References) + len(g.RecordReferences)
}
