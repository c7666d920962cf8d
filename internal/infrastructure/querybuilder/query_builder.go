package querybuilder

import (
	"fmt"
	"strings"
)

// QueryBuilder builds parameterized PostgreSQL statements
type QueryBuilder struct {
	queryType  QueryType
	table      string
	columns    []string
	sets       []assignment
	conditions []Condition
	orderBy    []OrderBy
	limit      *int
	returning  []string
	onConflict []string
}

// QueryType is the kind of statement being built
type QueryType int

const (
	SelectQuery QueryType = iota
	InsertQuery
)

// Condition is one WHERE predicate
type Condition struct {
	Column   string
	Operator Operator
	Value    interface{}
}

// OrderBy is one ORDER BY term
type OrderBy struct {
	Column    string
	Direction Direction
}

type assignment struct {
	column string
	value  interface{}
}

// Operator is a comparison operator
type Operator int

const (
	Equal Operator = iota
	NotEqual
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
	In
	IsNull
	IsNotNull
)

// Direction is a sort direction
type Direction int

const (
	Asc Direction = iota
	Desc
)

// New creates an empty builder
func New() *QueryBuilder {
	return &QueryBuilder{}
}

// Select starts a SELECT of columns; no columns selects *
func (qb *QueryBuilder) Select(columns ...string) *QueryBuilder {
	qb.queryType = SelectQuery
	qb.columns = columns
	return qb
}

// From sets the table of a SELECT
func (qb *QueryBuilder) From(table string) *QueryBuilder {
	qb.table = table
	return qb
}

// Insert starts an INSERT into table
func (qb *QueryBuilder) Insert(table string) *QueryBuilder {
	qb.queryType = InsertQuery
	qb.table = table
	return qb
}

// Set adds a column value to an INSERT. Columns keep the order they are set in.
func (qb *QueryBuilder) Set(column string, value interface{}) *QueryBuilder {
	qb.sets = append(qb.sets, assignment{column: column, value: value})
	return qb
}

// Where adds an AND predicate
func (qb *QueryBuilder) Where(column string, operator Operator, value interface{}) *QueryBuilder {
	qb.conditions = append(qb.conditions, Condition{Column: column, Operator: operator, Value: value})
	return qb
}

// WhereEqual adds column = value
func (qb *QueryBuilder) WhereEqual(column string, value interface{}) *QueryBuilder {
	return qb.Where(column, Equal, value)
}

// WhereIn adds column IN (values...)
func (qb *QueryBuilder) WhereIn(column string, values []interface{}) *QueryBuilder {
	return qb.Where(column, In, values)
}

// OrderBy adds a sort term
func (qb *QueryBuilder) OrderBy(column string, direction Direction) *QueryBuilder {
	qb.orderBy = append(qb.orderBy, OrderBy{Column: column, Direction: direction})
	return qb
}

// OrderByAsc sorts ascending by column
func (qb *QueryBuilder) OrderByAsc(column string) *QueryBuilder {
	return qb.OrderBy(column, Asc)
}

// OrderByDesc sorts descending by column
func (qb *QueryBuilder) OrderByDesc(column string) *QueryBuilder {
	return qb.OrderBy(column, Desc)
}

// Limit caps the number of rows
func (qb *QueryBuilder) Limit(limit int) *QueryBuilder {
	qb.limit = &limit
	return qb
}

// Returning adds a RETURNING clause
func (qb *QueryBuilder) Returning(columns ...string) *QueryBuilder {
	qb.returning = columns
	return qb
}

// OnConflictDoNothing ignores rows clashing on columns
func (qb *QueryBuilder) OnConflictDoNothing(columns ...string) *QueryBuilder {
	qb.onConflict = columns
	return qb
}

// ToSQL renders the statement and its arguments
func (qb *QueryBuilder) ToSQL() (string, []interface{}, error) {
	if qb.table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	switch qb.queryType {
	case SelectQuery:
		return qb.buildSelect()
	case InsertQuery:
		return qb.buildInsert()
	default:
		return "", nil, fmt.Errorf("unknown query type %d", qb.queryType)
	}
}

func (qb *QueryBuilder) buildSelect() (string, []interface{}, error) {
	var query strings.Builder
	var params []interface{}

	query.WriteString("SELECT ")
	if len(qb.columns) == 0 {
		query.WriteString("*")
	} else {
		query.WriteString(strings.Join(qb.columns, ", "))
	}
	query.WriteString(" FROM ")
	query.WriteString(qb.table)

	where, params, next, err := buildConditions(qb.conditions, 1)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		query.WriteString(" WHERE ")
		query.WriteString(where)
	}

	if len(qb.orderBy) > 0 {
		terms := make([]string, len(qb.orderBy))
		for i, o := range qb.orderBy {
			dir := "ASC"
			if o.Direction == Desc {
				dir = "DESC"
			}
			terms[i] = o.Column + " " + dir
		}
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(terms, ", "))
	}

	if qb.limit != nil {
		fmt.Fprintf(&query, " LIMIT $%d", next)
		params = append(params, *qb.limit)
	}

	return query.String(), params, nil
}

func (qb *QueryBuilder) buildInsert() (string, []interface{}, error) {
	if len(qb.sets) == 0 {
		return "", nil, fmt.Errorf("no values specified for INSERT")
	}

	columns := make([]string, len(qb.sets))
	placeholders := make([]string, len(qb.sets))
	params := make([]interface{}, len(qb.sets))
	for i, s := range qb.sets {
		columns[i] = s.column
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		params[i] = s.value
	}

	var query strings.Builder
	fmt.Fprintf(&query, "INSERT INTO %s (%s) VALUES (%s)",
		qb.table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	if qb.onConflict != nil {
		query.WriteString(" ON CONFLICT")
		if len(qb.onConflict) > 0 {
			fmt.Fprintf(&query, " (%s)", strings.Join(qb.onConflict, ", "))
		}
		query.WriteString(" DO NOTHING")
	}
	if len(qb.returning) > 0 {
		query.WriteString(" RETURNING ")
		query.WriteString(strings.Join(qb.returning, ", "))
	}

	return query.String(), params, nil
}

func buildConditions(conditions []Condition, start int) (string, []interface{}, int, error) {
	parts := make([]string, 0, len(conditions))
	var params []interface{}
	idx := start

	for _, c := range conditions {
		var op string
		switch c.Operator {
		case Equal:
			op = "="
		case NotEqual:
			op = "!="
		case GreaterThan:
			op = ">"
		case GreaterThanOrEqual:
			op = ">="
		case LessThan:
			op = "<"
		case LessThanOrEqual:
			op = "<="
		case IsNull:
			parts = append(parts, c.Column+" IS NULL")
			continue
		case IsNotNull:
			parts = append(parts, c.Column+" IS NOT NULL")
			continue
		case In:
			values, ok := c.Value.([]interface{})
			if !ok || len(values) == 0 {
				return "", nil, 0, fmt.Errorf("IN on %s needs at least one value", c.Column)
			}
			placeholders := make([]string, len(values))
			for j, v := range values {
				placeholders[j] = fmt.Sprintf("$%d", idx)
				params = append(params, v)
				idx++
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", c.Column, strings.Join(placeholders, ", ")))
			continue
		default:
			return "", nil, 0, fmt.Errorf("unsupported operator %d on %s", c.Operator, c.Column)
		}

		parts = append(parts, fmt.Sprintf("%s %s $%d", c.Column, op, idx))
		params = append(params, c.Value)
		idx++
	}

	return strings.Join(parts, " AND "), params, idx, nil
}
