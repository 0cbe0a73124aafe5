package store

// DDL is the full relational schema. Natural keys are unique per owner so
// repeated materialization runs can never create duplicate rows even if the
// engine-side dedup pass is bypassed.
const DDL = `
CREATE TABLE IF NOT EXISTS documents (
	id          INTEGER PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	natural_key TEXT NOT NULL,
	code        TEXT NOT NULL,
	title       TEXT,
	UNIQUE (owner_id, natural_key)
);

CREATE TABLE IF NOT EXISTS sections (
	id          INTEGER PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	document_id INTEGER NOT NULL REFERENCES documents(id),
	parent_id   INTEGER REFERENCES sections(id),
	natural_key TEXT NOT NULL,
	code        TEXT NOT NULL,
	kind        TEXT,
	seq         INTEGER NOT NULL,
	title       TEXT,
	UNIQUE (owner_id, natural_key)
);
CREATE INDEX IF NOT EXISTS idx_sections_document ON sections(document_id);

CREATE TABLE IF NOT EXISTS blocks (
	id           INTEGER PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	document_id  INTEGER NOT NULL REFERENCES documents(id),
	section_id   INTEGER REFERENCES sections(id),
	parent_id    INTEGER REFERENCES blocks(id),
	natural_key  TEXT NOT NULL,
	family       TEXT NOT NULL,
	kind         TEXT,
	seq          INTEGER NOT NULL,
	content_hash TEXT,
	body         TEXT,
	attrs        TEXT,
	UNIQUE (owner_id, natural_key)
);
CREATE INDEX IF NOT EXISTS idx_blocks_section ON blocks(section_id);
CREATE INDEX IF NOT EXISTS idx_blocks_parent ON blocks(parent_id);

CREATE TABLE IF NOT EXISTS hierarchy_edges (
	kind      TEXT NOT NULL,
	parent_id INTEGER NOT NULL,
	child_id  INTEGER NOT NULL,
	seq       INTEGER NOT NULL,
	PRIMARY KEY (kind, parent_id, child_id)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS ref_entities (
	id          INTEGER PRIMARY KEY,
	kind        TEXT NOT NULL,
	natural_key TEXT NOT NULL,
	label       TEXT,
	UNIQUE (kind, natural_key)
);
`
