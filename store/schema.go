package store

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Tables in dependency order.
var tables = []string{
	"cve_records",
	"problem_types",
	"affected_products",
	"product_versions",
	`"references"`,
	"cve_references",
}

// Tables returns the table names in the order a batch writes them.
func Tables() []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = strings.Trim(t, `"`)
	}
	return names
}

const schemaTmpl = `
CREATE TABLE IF NOT EXISTS cve_records (
	row_id TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	assigner_org_id TEXT,
	state TEXT,
	assigner_short_name TEXT,
	date_reserved %[1]s,
	date_published %[1]s,
	date_updated %[1]s,
	title TEXT,
	description TEXT
);
%[2]s

CREATE TABLE IF NOT EXISTS problem_types (
	id TEXT PRIMARY KEY,
	cve_record_row_id TEXT NOT NULL REFERENCES cve_records (row_id) ON DELETE CASCADE,
	description TEXT,
	cwe_id TEXT,
	lang TEXT
);
CREATE INDEX IF NOT EXISTS idx_problem_types_record ON problem_types (cve_record_row_id);

CREATE TABLE IF NOT EXISTS affected_products (
	id TEXT PRIMARY KEY,
	cve_record_row_id TEXT NOT NULL REFERENCES cve_records (row_id) ON DELETE CASCADE,
	vendor TEXT,
	product TEXT,
	default_status TEXT
);
CREATE INDEX IF NOT EXISTS idx_affected_products_record ON affected_products (cve_record_row_id);

CREATE TABLE IF NOT EXISTS product_versions (
	id TEXT PRIMARY KEY,
	affected_product_id TEXT NOT NULL REFERENCES affected_products (id) ON DELETE CASCADE,
	version TEXT,
	less_than TEXT,
	status TEXT,
	version_type TEXT
);
CREATE INDEX IF NOT EXISTS idx_product_versions_product ON product_versions (affected_product_id);

CREATE TABLE IF NOT EXISTS "references" (
	id TEXT PRIMARY KEY,
	url TEXT,
	tags TEXT
);

CREATE TABLE IF NOT EXISTS cve_references (
	cve_record_row_id TEXT NOT NULL REFERENCES cve_records (row_id) ON DELETE CASCADE,
	reference_id TEXT NOT NULL REFERENCES "references" (id) ON DELETE CASCADE,
	PRIMARY KEY (cve_record_row_id, reference_id)
);
`

const (
	recordIndex       = `CREATE INDEX IF NOT EXISTS idx_cve_records_id ON cve_records (id);`
	uniqueRecordIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uidx_cve_records_id ON cve_records (id);`
)

const (
	insertRecord = `INSERT INTO cve_records (row_id, id, assigner_org_id, state, assigner_short_name,
	date_reserved, date_published, date_updated, title, description) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	insertProblemType     = `INSERT INTO problem_types (id, cve_record_row_id, description, cwe_id, lang) VALUES (?, ?, ?, ?, ?)`
	insertAffectedProduct = `INSERT INTO affected_products (id, cve_record_row_id, vendor, product, default_status) VALUES (?, ?, ?, ?, ?)`
	insertProductVersion  = `INSERT INTO product_versions (id, affected_product_id, version, less_than, status, version_type) VALUES (?, ?, ?, ?, ?, ?)`
	insertReference       = `INSERT INTO "references" (id, url, tags) VALUES (?, ?, ?)`
	insertRecordReference = `INSERT INTO cve_references (cve_record_row_id, reference_id) VALUES (?, ?)`
)

type dialect struct {
	driver        string
	timestampType string
	positional    bool
}

var dialects = map[string]dialect{
	DriverSQLite:   {driver: DriverSQLite, timestampType: "DATETIME"},
	DriverPostgres: {driver: DriverPostgres, timestampType: "TIMESTAMPTZ", positional: true},
}

func (d dialect) schema(uniqueRecordIDs bool) string {
	idx := recordIndex
	if uniqueRecordIDs {
		idx = uniqueRecordIndex
	}
	return fmt.Sprintf(schemaTmpl, d.timestampType, idx)
}

// rebind rewrites ? placeholders to $1, $2, ... for drivers that need them.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
