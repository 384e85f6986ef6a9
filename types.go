package vectorstore

import "fmt"

// IndexId identifies one logical vector index. It is derived from the
// identity of the indexed table and is the key of the engine's
// registries. Immutable once created.
type IndexId string

func (id IndexId) String() string { return string(id) }

// Table returns the name of the table this index is built over.
func (id IndexId) Table() TableName { return TableName(id) }

// TableName names a database table.
type TableName string

func (t TableName) String() string { return string(t) }

// ColumnName names a column of a database table.
type ColumnName string

func (c ColumnName) String() string { return string(c) }

// PrimaryKey is the serialized primary key of one row of an indexed
// table. It identifies the row's embedding inside an index actor.
type PrimaryKey string

// Dimensions is the dimensionality of the embedding vectors of an
// index. Zero is invalid.
type Dimensions int

// Connectivity is the per-node maximum degree of the proximity graph
// underlying a vector index. Zero selects the index default.
type Connectivity int

// ExpansionAdd is the breadth-of-exploration parameter used while
// building the proximity graph. Zero selects the index default.
type ExpansionAdd int

// ExpansionSearch is the breadth-of-exploration parameter used while
// searching the proximity graph. Zero selects the index default.
type ExpansionSearch int

// ScyllaDBURI addresses the database node(s) the monitors poll.
type ScyllaDBURI string

func (u ScyllaDBURI) String() string { return string(u) }

// Embedding is one vector value read from an indexed table.
type Embedding []float32

// IndexDefinition carries the per-index parameters of a create
// request. It is transient: validated at index-actor construction and
// not retained by the engine.
type IndexDefinition struct {
	ColID           ColumnName
	ColEmb          ColumnName
	Dimensions      Dimensions
	Connectivity    Connectivity
	ExpansionAdd    ExpansionAdd
	ExpansionSearch ExpansionSearch
}

func (d IndexDefinition) String() string {
	return fmt.Sprintf("col_id=%s col_emb=%s dimensions=%d connectivity=%d expansion_add=%d expansion_search=%d",
		d.ColID, d.ColEmb, d.Dimensions, d.Connectivity, d.ExpansionAdd, d.ExpansionSearch)
}
