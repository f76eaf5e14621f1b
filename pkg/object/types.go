package object

// Hash is a 64-character hex-encoded digest.
type Hash string

// SchemaVersion is the object descriptor format written by this package.
const SchemaVersion = 1

// Tuple is one canonical structure record: the value found at position
// Index of attribute Key on node Node. Owner hashes are implied by the
// CodeObject that carries the tuple.
type Tuple struct {
	Node  int
	Key   string
	Index int
	Value string
}

// Metadata is stored alongside a CodeObject but never hashed.
type Metadata struct {
	Author    string
	Timestamp int64 // unix seconds, UTC
	Tags      []string
}

// CodeObject is an immutable stored function: the canonical structure keyed
// by its content hash.
type CodeObject struct {
	Hash         Hash
	Algorithm    Algorithm
	Tuples       []Tuple
	Metadata     Metadata
	Dependencies []Hash // derived, sorted
}

// Mapping is one human-language rendering of a CodeObject. Names binds
// placeholder identifiers (_v_0, _v_1, ...) to spellings; Aliases binds
// referenced function hashes to the local name used for them.
type Mapping struct {
	Docstring string
	Comment   string
	Names     map[string]string
	Aliases   map[Hash]string
	// Layout holds the text between rendered tokens, as captured by the
	// front end that parsed the source. It may be empty.
	Layout []string
}

// MappingRecord is a stored mapping variant with its composite key.
type MappingRecord struct {
	Language string
	Hash     Hash
	Mapping  Mapping
}

// Bundle is one object with the mapping variants that travel with it. It is
// the unit of ingestion for sync and refactor.
type Bundle struct {
	Object   *CodeObject
	Mappings []MappingRecord
}
