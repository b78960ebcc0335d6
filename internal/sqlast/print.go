package sqlast

import (
	"fmt"
	"strings"
)

// Print re-serializes a Statement into executable SQL text. It is the
// counterpart to ParseSingle/ParseMany used by the executor after the
// CRDT transformer has rewritten a statement's AST in place.
func Print(stmt Statement) string {
	var b strings.Builder
	writeStatement(&b, stmt)
	return b.String()
}

func quoteIdent(name string) string {
	return "\"" + strings.ReplaceAll(name, "\"", "\"\"") + "\""
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func writeStatement(b *strings.Builder, stmt Statement) {
	switch s := stmt.(type) {
	case *SelectStmt:
		writeSelect(b, s)
	case *InsertStmt:
		writeInsert(b, s)
	case *UpdateStmt:
		writeUpdate(b, s)
	case *DeleteStmt:
		writeDelete(b, s)
	case *CreateTableStmt:
		writeCreateTable(b, s)
	case *AlterTableStmt:
		fmt.Fprintf(b, "ALTER TABLE %s %s", quoteIdent(s.Table), s.Action)
	case *CreateIndexStmt:
		writeCreateIndex(b, s)
	case *DropStmt:
		ifExists := ""
		if s.IfExists {
			ifExists = "IF EXISTS "
		}
		fmt.Fprintf(b, "DROP %s %s%s", s.Kind, ifExists, quoteIdent(s.Name))
	case *TruncateStmt:
		fmt.Fprintf(b, "TRUNCATE TABLE %s", quoteIdent(s.Table))
	default:
		panic(fmt.Sprintf("sqlast: unknown statement type %T", stmt))
	}
}

func writeSelect(b *strings.Builder, s *SelectStmt) {
	if len(s.CTEs) > 0 {
		b.WriteString("WITH ")
		for i, cte := range s.CTEs {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "%s", quoteIdent(cte.Name))
			if len(cte.Columns) > 0 {
				b.WriteString(" (")
				for j, c := range cte.Columns {
					if j > 0 {
						b.WriteString(", ")
					}
					b.WriteString(quoteIdent(c))
				}
				b.WriteString(")")
			}
			b.WriteString(" AS (")
			writeSelect(b, cte.Query)
			b.WriteString(")")
		}
		b.WriteString(" ")
	}

	for i, term := range s.Terms {
		if i > 0 {
			fmt.Fprintf(b, " %s ", term.Op)
		}
		writeSelectCore(b, term.Core)
	}

	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, o.Expr)
			if o.Desc {
				b.WriteString(" DESC")
			}
		}
	}
	if s.Limit != nil {
		b.WriteString(" LIMIT ")
		writeExpr(b, s.Limit)
		if s.Offset != nil {
			b.WriteString(" OFFSET ")
			writeExpr(b, s.Offset)
		}
	}
}

func writeSelectCore(b *strings.Builder, c *SelectCore) {
	b.WriteString("SELECT ")
	if c.Distinct {
		b.WriteString("DISTINCT ")
	}
	for i, col := range c.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		writeResultColumn(b, col)
	}
	if len(c.From) > 0 {
		b.WriteString(" FROM ")
		for i, item := range c.From {
			if i > 0 {
				if item.JoinOp == "," {
					b.WriteString(", ")
				} else {
					fmt.Fprintf(b, " %s ", item.JoinOp)
				}
			}
			writeFromItem(b, item)
			if item.On != nil {
				b.WriteString(" ON ")
				writeExpr(b, item.On)
			}
		}
	}
	if c.Where != nil {
		b.WriteString(" WHERE ")
		writeExpr(b, c.Where)
	}
	if len(c.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, e := range c.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, e)
		}
		if c.Having != nil {
			b.WriteString(" HAVING ")
			writeExpr(b, c.Having)
		}
	}
}

func writeResultColumn(b *strings.Builder, col ResultColumn) {
	switch {
	case col.Star:
		b.WriteString("*")
	case col.TableStar != "":
		fmt.Fprintf(b, "%s.*", quoteIdent(col.TableStar))
	default:
		writeExpr(b, col.Expr)
		if col.Alias != "" {
			fmt.Fprintf(b, " AS %s", quoteIdent(col.Alias))
		}
	}
}

func writeFromItem(b *strings.Builder, item FromItem) {
	if item.Subquery != nil {
		b.WriteString("(")
		writeSelect(b, item.Subquery)
		b.WriteString(")")
	} else {
		b.WriteString(quoteIdent(item.Table))
	}
	if item.Alias != "" {
		fmt.Fprintf(b, " AS %s", quoteIdent(item.Alias))
	}
}

func writeInsert(b *strings.Builder, s *InsertStmt) {
	fmt.Fprintf(b, "INSERT INTO %s", quoteIdent(s.Table))
	if len(s.Columns) > 0 {
		b.WriteString(" (")
		for i, c := range s.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quoteIdent(c))
		}
		b.WriteString(")")
	}
	switch {
	case s.DefaultValues:
		b.WriteString(" DEFAULT VALUES")
	case s.Select != nil:
		b.WriteString(" ")
		writeSelect(b, s.Select)
	default:
		b.WriteString(" VALUES ")
		for i, row := range s.ValuesRows {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(")
			for j, e := range row {
				if j > 0 {
					b.WriteString(", ")
				}
				writeExpr(b, e)
			}
			b.WriteString(")")
		}
	}
	if len(s.Returning) > 0 {
		b.WriteString(" RETURNING ")
		for i, col := range s.Returning {
			if i > 0 {
				b.WriteString(", ")
			}
			writeResultColumn(b, col)
		}
	}
}

func writeUpdate(b *strings.Builder, s *UpdateStmt) {
	fmt.Fprintf(b, "UPDATE %s SET ", quoteIdent(s.Table))
	for i, a := range s.Assignments {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s = ", quoteIdent(a.Column))
		writeExpr(b, a.Value)
	}
	if s.Where != nil {
		b.WriteString(" WHERE ")
		writeExpr(b, s.Where)
	}
	if len(s.Returning) > 0 {
		b.WriteString(" RETURNING ")
		for i, col := range s.Returning {
			if i > 0 {
				b.WriteString(", ")
			}
			writeResultColumn(b, col)
		}
	}
}

func writeDelete(b *strings.Builder, s *DeleteStmt) {
	fmt.Fprintf(b, "DELETE FROM %s", quoteIdent(s.Table))
	if s.Where != nil {
		b.WriteString(" WHERE ")
		writeExpr(b, s.Where)
	}
}

func writeCreateTable(b *strings.Builder, s *CreateTableStmt) {
	b.WriteString("CREATE TABLE ")
	if s.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	fmt.Fprintf(b, "%s (", quoteIdent(s.Table))
	first := true
	for _, c := range s.Columns {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(b, "%s", quoteIdent(c.Name))
		if c.TypeName != "" {
			fmt.Fprintf(b, " %s", c.TypeName)
		}
		if c.RawSuffix != "" {
			fmt.Fprintf(b, " %s", c.RawSuffix)
		}
	}
	for _, tc := range s.TableConstraints {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(tc)
	}
	b.WriteString(")")
	if s.WithoutRowID {
		b.WriteString(" WITHOUT ROWID")
	}
}

func writeCreateIndex(b *strings.Builder, s *CreateIndexStmt) {
	b.WriteString("CREATE ")
	if s.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if s.IfNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	fmt.Fprintf(b, "%s ON %s %s", quoteIdent(s.IndexName), quoteIdent(s.Table), s.Rest)
}

func writeExpr(b *strings.Builder, e Expr) {
	switch v := e.(type) {
	case nil:
		return
	case *Ident:
		if v.Table != "" {
			fmt.Fprintf(b, "%s.%s", quoteIdent(v.Table), identOrStar(v.Column))
		} else {
			b.WriteString(identOrStar(v.Column))
		}
	case *Literal:
		switch v.Kind {
		case LitNull:
			b.WriteString("NULL")
		case LitNumber:
			b.WriteString(v.Text)
		case LitString:
			b.WriteString(quoteString(v.Text))
		case LitBool:
			b.WriteString(strings.ToUpper(v.Text))
		}
	case *Placeholder:
		b.WriteString("?")
	case *BinaryExpr:
		writeExpr(b, v.Left)
		fmt.Fprintf(b, " %s ", v.Op)
		writeExpr(b, v.Right)
	case *UnaryExpr:
		fmt.Fprintf(b, "%s ", v.Op)
		writeExpr(b, v.Operand)
	case *Paren:
		b.WriteString("(")
		writeExpr(b, v.Inner)
		b.WriteString(")")
	case *FuncCall:
		b.WriteString(v.Name)
		b.WriteString("(")
		if v.Star {
			b.WriteString("*")
		} else {
			if v.Distinct {
				b.WriteString("DISTINCT ")
			}
			for i, a := range v.Args {
				if i > 0 {
					b.WriteString(", ")
				}
				writeExpr(b, a)
			}
		}
		b.WriteString(")")
	case *Between:
		writeExpr(b, v.Operand)
		if v.Not {
			b.WriteString(" NOT BETWEEN ")
		} else {
			b.WriteString(" BETWEEN ")
		}
		writeExpr(b, v.Low)
		b.WriteString(" AND ")
		writeExpr(b, v.High)
	case *CaseExpr:
		b.WriteString("CASE ")
		if v.Operand != nil {
			writeExpr(b, v.Operand)
			b.WriteString(" ")
		}
		for _, w := range v.Whens {
			b.WriteString("WHEN ")
			writeExpr(b, w.When)
			b.WriteString(" THEN ")
			writeExpr(b, w.Then)
			b.WriteString(" ")
		}
		if v.Else != nil {
			b.WriteString("ELSE ")
			writeExpr(b, v.Else)
			b.WriteString(" ")
		}
		b.WriteString("END")
	case *ExprList:
		b.WriteString("(")
		for i, item := range v.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, item)
		}
		b.WriteString(")")
	case *SubqueryExpr:
		b.WriteString("(")
		writeSelect(b, v.Query)
		b.WriteString(")")
	case *ExistsExpr:
		if v.Not {
			b.WriteString("NOT ")
		}
		b.WriteString("EXISTS (")
		writeSelect(b, v.Query)
		b.WriteString(")")
	case *InExpr:
		writeExpr(b, v.Operand)
		if v.Not {
			b.WriteString(" NOT IN (")
		} else {
			b.WriteString(" IN (")
		}
		if v.Subquery != nil {
			writeSelect(b, v.Subquery)
		} else {
			for i, item := range v.List {
				if i > 0 {
					b.WriteString(", ")
				}
				writeExpr(b, item)
			}
		}
		b.WriteString(")")
	default:
		panic(fmt.Sprintf("sqlast: unknown expr type %T", e))
	}
}

func identOrStar(col string) string {
	if col == "*" {
		return "*"
	}
	return quoteIdent(col)
}
