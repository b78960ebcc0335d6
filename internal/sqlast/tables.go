package sqlast

import "strings"

// NormalizeTableName lower-cases a table name and strips the back-tick /
// double-quote delimiters the parser may have left on a raw identifier,
// matching the CRDT transformer's comparison rule (spec §4.3).
func NormalizeTableName(name string) string {
	name = strings.Trim(name, "`\"")
	return strings.ToLower(name)
}

// ExtractTableNames walks stmt and returns every referenced table's raw
// name (not normalized) in encounter order, per spec §4.2. It covers
// SELECT bodies (including CTEs, subqueries, set operations, joins),
// INSERT/UPDATE/DELETE, CREATE/ALTER/DROP TABLE, CREATE INDEX and
// TRUNCATE.
func ExtractTableNames(stmt Statement) []string {
	var names []string
	add := func(n string) {
		if n != "" {
			names = append(names, n)
		}
	}

	switch s := stmt.(type) {
	case *SelectStmt:
		walkSelectTables(s, add)
	case *InsertStmt:
		add(s.Table)
		if s.Select != nil {
			walkSelectTables(s.Select, add)
		}
		for _, row := range s.ValuesRows {
			for _, e := range row {
				walkExprTables(e, add)
			}
		}
	case *UpdateStmt:
		add(s.Table)
		for _, a := range s.Assignments {
			walkExprTables(a.Value, add)
		}
		if s.Where != nil {
			walkExprTables(s.Where, add)
		}
	case *DeleteStmt:
		add(s.Table)
		if s.Where != nil {
			walkExprTables(s.Where, add)
		}
	case *CreateTableStmt:
		add(s.Table)
	case *AlterTableStmt:
		add(s.Table)
	case *DropStmt:
		add(s.Name)
	case *CreateIndexStmt:
		add(s.Table)
	case *TruncateStmt:
		add(s.Table)
	}
	return names
}

func walkSelectTables(s *SelectStmt, add func(string)) {
	for _, cte := range s.CTEs {
		walkSelectTables(cte.Query, add)
	}
	for _, term := range s.Terms {
		for _, col := range term.Core.Columns {
			if col.Expr != nil {
				walkExprTables(col.Expr, add)
			}
		}
		for _, item := range term.Core.From {
			if item.Subquery != nil {
				walkSelectTables(item.Subquery, add)
			} else {
				add(item.Table)
			}
			if item.On != nil {
				walkExprTables(item.On, add)
			}
		}
		if term.Core.Where != nil {
			walkExprTables(term.Core.Where, add)
		}
		for _, g := range term.Core.GroupBy {
			walkExprTables(g, add)
		}
		if term.Core.Having != nil {
			walkExprTables(term.Core.Having, add)
		}
	}
	for _, o := range s.OrderBy {
		walkExprTables(o.Expr, add)
	}
}

func walkExprTables(e Expr, add func(string)) {
	switch v := e.(type) {
	case nil:
		return
	case *BinaryExpr:
		walkExprTables(v.Left, add)
		walkExprTables(v.Right, add)
	case *UnaryExpr:
		walkExprTables(v.Operand, add)
	case *Paren:
		walkExprTables(v.Inner, add)
	case *FuncCall:
		for _, a := range v.Args {
			walkExprTables(a, add)
		}
	case *Between:
		walkExprTables(v.Operand, add)
		walkExprTables(v.Low, add)
		walkExprTables(v.High, add)
	case *CaseExpr:
		walkExprTables(v.Operand, add)
		for _, w := range v.Whens {
			walkExprTables(w.When, add)
			walkExprTables(w.Then, add)
		}
		walkExprTables(v.Else, add)
	case *ExprList:
		for _, item := range v.Items {
			walkExprTables(item, add)
		}
	case *SubqueryExpr:
		walkSelectTables(v.Query, add)
	case *ExistsExpr:
		walkSelectTables(v.Query, add)
	case *InExpr:
		walkExprTables(v.Operand, add)
		if v.Subquery != nil {
			walkSelectTables(v.Subquery, add)
		}
		for _, item := range v.List {
			walkExprTables(item, add)
		}
	}
}
