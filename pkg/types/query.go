package types

// SimpleSearchQuery is the dashboard's basic search: a date range over
// date_created plus exact "key:value" matches on flattened fields.
type SimpleSearchQuery struct {
	StartDate     string   `json:"start_date" schema:"start_date"`
	EndDate       string   `json:"end_date" schema:"end_date"`
	KeyValuePairs []string `json:"key_value_pairs" schema:"key_value_pairs"`
}

// FilterOperator enumerates the supported structured-filter operators.
type FilterOperator string

const (
	OpEquals      FilterOperator = "equals"
	OpContains    FilterOperator = "contains"
	OpStartsWith  FilterOperator = "startsWith"
	OpEndsWith    FilterOperator = "endsWith"
	OpGreaterThan FilterOperator = "greaterThan"
	OpLessThan    FilterOperator = "lessThan"
)

// FilterItem is one (field, operator, value) predicate.
type FilterItem struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    string         `json:"value"`
}

// FilterModel is a list of predicates combined with AND semantics.
type FilterModel struct {
	Items []FilterItem `json:"items"`
}

// SortDirection orders a result set ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Sort names the field and direction results are ordered by. A zero
// Sort means descending by date_created.
type Sort struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

// Page selects one page of a result set. Page numbers are zero-based to
// match the dashboard's grid component.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

// FlattenedRecord is one row of the derived search index: the flattened
// fields of a product plus its core columns, keyed by uid.
type FlattenedRecord map[string]any
