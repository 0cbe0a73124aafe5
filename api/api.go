package api

// OwnerContext identifies the scope one materialization run writes into.
// Natural keys are only unique within an owner, so two owners may hold
// structurally identical documents without colliding.
type OwnerContext struct {
	// OwnerID scopes every natural key produced by the run.
	OwnerID string `json:"owner_id"`
	// DocCode is the stable external code of the document being materialized.
	DocCode string `json:"doc_code"`
	// Title of the document, stored on the document row.
	Title string `json:"title,omitempty"`
}

// Family names one materialized row family.
type Family string

const (
	FamilyDocument    Family = "document"
	FamilySection     Family = "section"
	FamilyText        Family = "text"
	FamilyList        Family = "list"
	FamilyListItem    Family = "list_item"
	FamilyTable       Family = "table"
	FamilyTableColumn Family = "table_column"
	FamilyTableRow    Family = "table_row"
	FamilyTableCell   Family = "table_cell"
	FamilyExcerpt     Family = "excerpt"
	FamilyHighlight   Family = "highlight"
	FamilyLot         Family = "lot"
	FamilyEdge        Family = "edge"
	FamilyReference   Family = "reference"
)

// Warning codes attached to recoverable conditions.
const (
	WarnValidation   = "validation"
	WarnRefIntegrity = "ref_integrity"
	WarnDanglingEdge = "dangling_edge"
)

// Warning records one skipped or discarded item and why.
type Warning struct {
	Code string `json:"code"`
	Node string `json:"node,omitempty"`
	Msg  string `json:"msg"`
}

// Result is the structured outcome of one materialization run.
// Recoverable conditions never escape as errors; they land in Warnings
// and flip Success to false only when the run could not finish.
type Result struct {
	RunID    string         `json:"run_id"`
	OwnerID  string         `json:"owner_id"`
	DocCode  string         `json:"doc_code"`
	Created  map[Family]int `json:"created"`
	Reused   map[Family]int `json:"reused"`
	Warnings []Warning      `json:"warnings,omitempty"`
	// Fatal holds the persistence error that halted the run, if any.
	Fatal string `json:"fatal,omitempty"`
	// Success is true when the run reached final commit. A run with
	// warnings but no fatal error is still successful (partially).
	Success bool `json:"success"`
}

// NewResult returns an empty result for the given owner scope.
func NewResult(runID string, owner OwnerContext) *Result {
	return &Result{
		RunID:   runID,
		OwnerID: owner.OwnerID,
		DocCode: owner.DocCode,
		Created: make(map[Family]int),
		Reused:  make(map[Family]int),
	}
}

// TotalCreated sums created rows across all families.
func (r *Result) TotalCreated() int {
	n := 0
	for _, c := range r.Created {
		n += c
	}
	return n
}

// Warn appends a warning.
func (r *Result) Warn(code, node, msg string) {
	r.Warnings = append(r.Warnings, Warning{Code: code, Node: node, Msg: msg})
}
