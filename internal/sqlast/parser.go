package sqlast

import (
	"fmt"
	"strings"

	"github.com/haexhub/haexvault/internal/apperr"
)

// ParseSingle parses exactly one statement. Trailing `;` is permitted; a
// second statement after it is an error, matching the spec's
// parse_single/parse_many split (§4.2).
func ParseSingle(sql string) (Statement, error) {
	stmts, err := ParseMany(sql)
	if err != nil {
		return nil, err
	}
	if len(stmts) != 1 {
		return nil, &apperr.ParseError{SQL: sql, Reason: fmt.Sprintf("expected exactly one statement, found %d", len(stmts))}
	}
	return stmts[0], nil
}

// ParseMany parses a `;`-separated sequence of statements.
func ParseMany(sql string) ([]Statement, error) {
	toks, err := tokenize(sql)
	if err != nil {
		return nil, &apperr.ParseError{SQL: sql, Reason: err.Error()}
	}
	p := &parser{toks: toks, sql: sql}

	var out []Statement
	for {
		for p.cur().kind == tokPunct && p.cur().text == ";" {
			p.pos++
		}
		if p.cur().kind == tokEOF {
			break
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
		if p.cur().kind == tokPunct && p.cur().text == ";" {
			continue
		}
		if p.cur().kind == tokEOF {
			break
		}
		return nil, &apperr.ParseError{SQL: sql, Reason: fmt.Sprintf("unexpected token %q after statement", p.cur().raw)}
	}
	return out, nil
}

type parser struct {
	toks []token
	pos  int
	sql  string
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) peek(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *parser) advance() token { t := p.cur(); p.pos++; return t }

func (p *parser) errf(format string, args ...interface{}) error {
	return &apperr.ParseError{SQL: p.sql, Reason: fmt.Sprintf(format, args...)}
}

// isKeyword reports whether the current token is an unquoted identifier
// equal (case-insensitively) to kw.
func (p *parser) isKeyword(kw string) bool {
	t := p.cur()
	return t.kind == tokIdent && upper(t.text) == kw
}

func (p *parser) isAnyKeyword(kws ...string) bool {
	for _, kw := range kws {
		if p.isKeyword(kw) {
			return true
		}
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return p.errf("expected %s, got %q", kw, p.cur().raw)
	}
	p.pos++
	return nil
}

func (p *parser) expectPunct(s string) error {
	t := p.cur()
	if (t.kind == tokPunct || t.kind == tokOp) && t.text == s {
		p.pos++
		return nil
	}
	return p.errf("expected %q, got %q", s, t.raw)
}

func (p *parser) isPunct(s string) bool {
	t := p.cur()
	return (t.kind == tokPunct || t.kind == tokOp) && t.text == s
}

// identText returns an identifier's text regardless of quoting style,
// lower-cased for quoted idents being matched against raw keywords is the
// caller's job; this just returns the literal name.
func identText(t token) string { return t.text }

func (p *parser) parseIdentName() (string, error) {
	t := p.cur()
	if t.kind != tokIdent && t.kind != tokQuotedIdent {
		return "", p.errf("expected identifier, got %q", t.raw)
	}
	p.pos++
	return identText(t), nil
}

// parseQualifiedName parses `a.b.c`-style names and returns only the
// final segment, matching the transformer's table-name normalization.
func (p *parser) parseQualifiedName() (string, error) {
	name, err := p.parseIdentName()
	if err != nil {
		return "", err
	}
	for p.isPunct(".") {
		p.pos++
		name, err = p.parseIdentName()
		if err != nil {
			return "", err
		}
	}
	return name, nil
}

func (p *parser) parseStatement() (Statement, error) {
	switch {
	case p.isKeyword("WITH"):
		return p.parseSelectStmt()
	case p.isKeyword("SELECT"):
		return p.parseSelectStmt()
	case p.isKeyword("INSERT"):
		return p.parseInsertStmt()
	case p.isKeyword("UPDATE"):
		return p.parseUpdateStmt()
	case p.isKeyword("DELETE"):
		return p.parseDeleteStmt()
	case p.isKeyword("CREATE"):
		return p.parseCreateStmt()
	case p.isKeyword("ALTER"):
		return p.parseAlterStmt()
	case p.isKeyword("DROP"):
		return p.parseDropStmt()
	case p.isKeyword("TRUNCATE"):
		return p.parseTruncateStmt()
	default:
		return nil, p.errf("unrecognized statement starting at %q", p.cur().raw)
	}
}

// --- SELECT ----------------------------------------------------------------

func (p *parser) parseSelectStmt() (*SelectStmt, error) {
	stmt := &SelectStmt{}

	if p.isKeyword("WITH") {
		p.pos++
		for {
			name, err := p.parseIdentName()
			if err != nil {
				return nil, err
			}
			cte := CTE{Name: name}
			if p.isPunct("(") {
				p.pos++
				for {
					col, err := p.parseIdentName()
					if err != nil {
						return nil, err
					}
					cte.Columns = append(cte.Columns, col)
					if p.isPunct(",") {
						p.pos++
						continue
					}
					break
				}
				if err := p.expectPunct(")"); err != nil {
					return nil, err
				}
			}
			if err := p.expectKeyword("AS"); err != nil {
				return nil, err
			}
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			sub, err := p.parseSelectStmt()
			if err != nil {
				return nil, err
			}
			cte.Query = sub
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			stmt.CTEs = append(stmt.CTEs, cte)
			if p.isPunct(",") {
				p.pos++
				continue
			}
			break
		}
	}

	for {
		if err := p.expectKeyword("SELECT"); err != nil {
			return nil, err
		}
		core, err := p.parseSelectCore()
		if err != nil {
			return nil, err
		}
		op := ""
		if len(stmt.Terms) > 0 {
			op = stmt.pendingOp
		}
		stmt.Terms = append(stmt.Terms, CompoundTerm{Op: op, Core: core})

		switch {
		case p.isKeyword("UNION"):
			p.pos++
			next := "UNION"
			if p.isKeyword("ALL") {
				p.pos++
				next = "UNION ALL"
			}
			stmt.pendingOp = next
			continue
		case p.isKeyword("INTERSECT"):
			p.pos++
			stmt.pendingOp = "INTERSECT"
			continue
		case p.isKeyword("EXCEPT"):
			p.pos++
			stmt.pendingOp = "EXCEPT"
			continue
		}
		break
	}

	if p.isKeyword("ORDER") {
		p.pos++
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Expr: e}
			if p.isKeyword("ASC") {
				p.pos++
			} else if p.isKeyword("DESC") {
				p.pos++
				item.Desc = true
			}
			stmt.OrderBy = append(stmt.OrderBy, item)
			if p.isPunct(",") {
				p.pos++
				continue
			}
			break
		}
	}

	if p.isKeyword("LIMIT") {
		p.pos++
		lim, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Limit = lim
		if p.isPunct(",") {
			p.pos++
			off, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.Offset = off
		} else if p.isKeyword("OFFSET") {
			p.pos++
			off, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			stmt.Offset = off
		}
	}

	return stmt, nil
}

func (p *parser) parseSelectCore() (*SelectCore, error) {
	core := &SelectCore{}
	if p.isKeyword("DISTINCT") {
		p.pos++
		core.Distinct = true
	} else if p.isKeyword("ALL") {
		p.pos++
	}

	for {
		col, err := p.parseResultColumn()
		if err != nil {
			return nil, err
		}
		core.Columns = append(core.Columns, col)
		if p.isPunct(",") {
			p.pos++
			continue
		}
		break
	}

	if p.isKeyword("FROM") {
		p.pos++
		items, err := p.parseFromClause()
		if err != nil {
			return nil, err
		}
		core.From = items
	}

	if p.isKeyword("WHERE") {
		p.pos++
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		core.Where = w
	}

	if p.isKeyword("GROUP") {
		p.pos++
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			core.GroupBy = append(core.GroupBy, e)
			if p.isPunct(",") {
				p.pos++
				continue
			}
			break
		}
		if p.isKeyword("HAVING") {
			p.pos++
			h, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			core.Having = h
		}
	}

	return core, nil
}

func (p *parser) parseResultColumn() (ResultColumn, error) {
	if p.isPunct("*") {
		p.pos++
		return ResultColumn{Star: true}, nil
	}
	// alias.* lookahead
	if (p.cur().kind == tokIdent || p.cur().kind == tokQuotedIdent) && p.peek(1).text == "." && p.peek(2).text == "*" {
		name := p.advance().text
		p.pos++ // dot
		p.pos++ // star
		return ResultColumn{TableStar: name}, nil
	}

	e, err := p.parseExpr()
	if err != nil {
		return ResultColumn{}, err
	}
	rc := ResultColumn{Expr: e}
	if p.isKeyword("AS") {
		p.pos++
		alias, err := p.parseIdentName()
		if err != nil {
			return ResultColumn{}, err
		}
		rc.Alias = alias
	} else if p.cur().kind == tokIdent || p.cur().kind == tokQuotedIdent {
		if !p.isReservedFollowWord() {
			alias, _ := p.parseIdentName()
			rc.Alias = alias
		}
	}
	return rc, nil
}

// isReservedFollowWord reports whether the current identifier token is a
// keyword that can legally follow a result column / table reference,
// which disambiguates an implicit alias from the next clause keyword.
func (p *parser) isReservedFollowWord() bool {
	return p.isAnyKeyword("FROM", "WHERE", "GROUP", "HAVING", "ORDER", "LIMIT",
		"UNION", "INTERSECT", "EXCEPT", "JOIN", "LEFT", "RIGHT", "INNER",
		"CROSS", "OUTER", "NATURAL", "ON", "AS", "VALUES", "RETURNING", "SET")
}

func (p *parser) parseFromClause() ([]FromItem, error) {
	var items []FromItem
	first, err := p.parseFromPrimary()
	if err != nil {
		return nil, err
	}
	items = append(items, first)

	for {
		joinOp := ""
		switch {
		case p.isKeyword("JOIN"):
			p.pos++
			joinOp = "JOIN"
		case p.isKeyword("INNER"):
			p.pos++
			p.expectKeyword("JOIN")
			joinOp = "INNER JOIN"
		case p.isKeyword("LEFT"):
			p.pos++
			if p.isKeyword("OUTER") {
				p.pos++
			}
			if err := p.expectKeyword("JOIN"); err != nil {
				return nil, err
			}
			joinOp = "LEFT JOIN"
		case p.isKeyword("RIGHT"):
			p.pos++
			if p.isKeyword("OUTER") {
				p.pos++
			}
			if err := p.expectKeyword("JOIN"); err != nil {
				return nil, err
			}
			joinOp = "RIGHT JOIN"
		case p.isKeyword("CROSS"):
			p.pos++
			if err := p.expectKeyword("JOIN"); err != nil {
				return nil, err
			}
			joinOp = "CROSS JOIN"
		case p.isPunct(","):
			p.pos++
			joinOp = ","
		default:
			return items, nil
		}

		item, err := p.parseFromPrimary()
		if err != nil {
			return nil, err
		}
		item.JoinOp = joinOp
		if joinOp != "," && joinOp != "CROSS JOIN" && p.isKeyword("ON") {
			p.pos++
			on, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item.On = on
		}
		items = append(items, item)
	}
}

func (p *parser) parseFromPrimary() (FromItem, error) {
	if p.isPunct("(") {
		p.pos++
		sub, err := p.parseSelectStmt()
		if err != nil {
			return FromItem{}, err
		}
		if err := p.expectPunct(")"); err != nil {
			return FromItem{}, err
		}
		item := FromItem{Subquery: sub}
		item.Alias = p.maybeParseAlias()
		return item, nil
	}
	name, err := p.parseQualifiedName()
	if err != nil {
		return FromItem{}, err
	}
	item := FromItem{Table: name}
	item.Alias = p.maybeParseAlias()
	return item, nil
}

func (p *parser) maybeParseAlias() string {
	if p.isKeyword("AS") {
		p.pos++
		a, _ := p.parseIdentName()
		return a
	}
	if (p.cur().kind == tokIdent || p.cur().kind == tokQuotedIdent) && !p.isReservedFollowWord() {
		a, _ := p.parseIdentName()
		return a
	}
	return ""
}

// --- INSERT ------------------------------------------------------------

func (p *parser) parseInsertStmt() (*InsertStmt, error) {
	p.pos++ // INSERT
	if p.isKeyword("OR") {
		p.pos++
		p.pos++ // skip conflict-resolution keyword (REPLACE/IGNORE/...)
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStmt{Table: table}
	// SQLite only accepts an INSERT target alias with AS; without this
	// check DEFAULT or SELECT would be taken for an alias.
	if p.isKeyword("AS") {
		stmt.Alias = p.maybeParseAlias()
	}

	if p.isPunct("(") {
		p.pos++
		for {
			col, err := p.parseIdentName()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.isPunct(",") {
				p.pos++
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
	}

	switch {
	case p.isKeyword("VALUES"):
		p.pos++
		for {
			if err := p.expectPunct("("); err != nil {
				return nil, err
			}
			var row []Expr
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				row = append(row, e)
				if p.isPunct(",") {
					p.pos++
					continue
				}
				break
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			stmt.ValuesRows = append(stmt.ValuesRows, row)
			if p.isPunct(",") {
				p.pos++
				continue
			}
			break
		}
	case p.isKeyword("SELECT") || p.isKeyword("WITH"):
		sel, err := p.parseSelectStmt()
		if err != nil {
			return nil, err
		}
		stmt.Select = sel
	case p.isKeyword("DEFAULT"):
		p.pos++
		if err := p.expectKeyword("VALUES"); err != nil {
			return nil, err
		}
		stmt.DefaultValues = true
	default:
		return nil, &apperr.UnsupportedStatement{SQL: p.sql, Reason: "INSERT requires VALUES, SELECT or DEFAULT VALUES"}
	}

	if p.isKeyword("ON") {
		return nil, &apperr.UnsupportedStatement{SQL: p.sql, Reason: "ON CONFLICT is not supported; unique violations are surfaced as errors"}
	}

	if p.isKeyword("RETURNING") {
		p.pos++
		for {
			col, err := p.parseResultColumn()
			if err != nil {
				return nil, err
			}
			stmt.Returning = append(stmt.Returning, col)
			if p.isPunct(",") {
				p.pos++
				continue
			}
			break
		}
	}

	return stmt, nil
}

// --- UPDATE --------------------------------------------------------------

func (p *parser) parseUpdateStmt() (*UpdateStmt, error) {
	p.pos++ // UPDATE
	if p.isKeyword("OR") {
		p.pos++
		p.pos++
	}
	table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStmt{Table: table}
	stmt.Alias = p.maybeParseAlias()

	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseIdentName()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Assignments = append(stmt.Assignments, Assignment{Column: col, Value: val})
		if p.isPunct(",") {
			p.pos++
			continue
		}
		break
	}

	if p.isKeyword("WHERE") {
		p.pos++
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}

	if p.isKeyword("RETURNING") {
		p.pos++
		for {
			col, err := p.parseResultColumn()
			if err != nil {
				return nil, err
			}
			stmt.Returning = append(stmt.Returning, col)
			if p.isPunct(",") {
				p.pos++
				continue
			}
			break
		}
	}

	return stmt, nil
}

// --- DELETE ----------------------------------------------------------------

func (p *parser) parseDeleteStmt() (*DeleteStmt, error) {
	p.pos++ // DELETE
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStmt{Table: table}
	stmt.Alias = p.maybeParseAlias()

	if p.isPunct(",") || p.isKeyword("USING") {
		return nil, &apperr.UnsupportedStatement{SQL: p.sql, Reason: "multi-table DELETE is not supported"}
	}

	if p.isKeyword("WHERE") {
		p.pos++
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Where = w
	}
	return stmt, nil
}

// --- DDL -------------------------------------------------------------------

func (p *parser) parseCreateStmt() (Statement, error) {
	p.pos++ // CREATE
	unique := false
	if p.isKeyword("UNIQUE") {
		p.pos++
		unique = true
	}
	switch {
	case p.isKeyword("TABLE"):
		return p.parseCreateTableStmt()
	case p.isKeyword("INDEX"):
		return p.parseCreateIndexStmt(unique)
	default:
		return nil, &apperr.UnsupportedStatement{SQL: p.sql, Reason: "only CREATE TABLE and CREATE INDEX are supported"}
	}
}

func (p *parser) parseCreateTableStmt() (*CreateTableStmt, error) {
	p.pos++ // TABLE
	stmt := &CreateTableStmt{}
	if p.isKeyword("IF") {
		p.pos++
		p.expectKeyword("NOT")
		p.expectKeyword("EXISTS")
		stmt.IfNotExists = true
	}
	name, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt.Table = name

	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		if p.isAnyKeyword("PRIMARY", "UNIQUE", "CHECK", "FOREIGN", "CONSTRAINT") {
			raw, err := p.consumeBalancedUntilCommaOrParen()
			if err != nil {
				return nil, err
			}
			stmt.TableConstraints = append(stmt.TableConstraints, raw)
		} else {
			colName, err := p.parseIdentName()
			if err != nil {
				return nil, err
			}
			typeName := ""
			if p.cur().kind == tokIdent && !p.isReservedColumnWord() {
				typeName, _ = p.parseIdentName()
				for p.isPunct("(") {
					// consume type parameters like DECIMAL(10,2)
					_, err := p.consumeParenGroup()
					if err != nil {
						return nil, err
					}
				}
			}
			suffix, err := p.consumeBalancedUntilCommaOrParen()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, ColumnDef{Name: colName, TypeName: typeName, RawSuffix: suffix})
		}
		if p.isPunct(",") {
			p.pos++
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}

	for p.isKeyword("WITHOUT") || p.isKeyword("STRICT") {
		if p.isKeyword("WITHOUT") {
			p.pos++
			p.expectKeyword("ROWID")
			stmt.WithoutRowID = true
		} else {
			p.pos++
		}
		if p.isPunct(",") {
			p.pos++
		}
	}

	return stmt, nil
}

// isReservedColumnWord reports whether the current token is a clause
// keyword rather than a type name, so a column with no type
// (`id PRIMARY KEY`) is parsed correctly.
func (p *parser) isReservedColumnWord() bool {
	return p.isAnyKeyword("PRIMARY", "UNIQUE", "NOT", "NULL", "DEFAULT", "CHECK",
		"REFERENCES", "COLLATE", "GENERATED", "AS")
}

// consumeBalancedUntilCommaOrParen consumes and returns the raw text of
// tokens up to (but not including) the next top-level `,` or `)`,
// tracking nested parens so constraint argument lists are not split.
func (p *parser) consumeBalancedUntilCommaOrParen() (string, error) {
	var parts []string
	depth := 0
	for {
		t := p.cur()
		if t.kind == tokEOF {
			return "", p.errf("unexpected end of input in column/constraint definition")
		}
		if depth == 0 && t.kind == tokPunct && (t.text == "," || t.text == ")") {
			break
		}
		if t.kind == tokPunct && t.text == "(" {
			depth++
		}
		if t.kind == tokPunct && t.text == ")" {
			depth--
		}
		parts = append(parts, renderRawToken(t))
		p.pos++
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

func (p *parser) consumeParenGroup() (string, error) {
	var parts []string
	if err := p.expectPunct("("); err != nil {
		return "", err
	}
	parts = append(parts, "(")
	depth := 1
	for depth > 0 {
		t := p.cur()
		if t.kind == tokEOF {
			return "", p.errf("unexpected end of input in parenthesized group")
		}
		if t.kind == tokPunct && t.text == "(" {
			depth++
		}
		if t.kind == tokPunct && t.text == ")" {
			depth--
		}
		parts = append(parts, renderRawToken(t))
		p.pos++
	}
	return strings.Join(parts, " "), nil
}

func renderRawToken(t token) string {
	switch t.kind {
	case tokString:
		return "'" + strings.ReplaceAll(t.text, "'", "''") + "'"
	case tokQuotedIdent:
		return "\"" + strings.ReplaceAll(t.text, "\"", "\"\"") + "\""
	default:
		return t.raw
	}
}

func (p *parser) parseCreateIndexStmt(unique bool) (*CreateIndexStmt, error) {
	p.pos++ // INDEX
	stmt := &CreateIndexStmt{Unique: unique}
	if p.isKeyword("IF") {
		p.pos++
		p.expectKeyword("NOT")
		p.expectKeyword("EXISTS")
		stmt.IfNotExists = true
	}
	name, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt.IndexName = name
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt.Table = table

	var parts []string
	for p.cur().kind != tokEOF && !p.isPunct(";") {
		parts = append(parts, renderRawToken(p.cur()))
		p.pos++
	}
	stmt.Rest = strings.Join(parts, " ")
	return stmt, nil
}

func (p *parser) parseAlterStmt() (*AlterTableStmt, error) {
	p.pos++ // ALTER
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	var parts []string
	for p.cur().kind != tokEOF && !p.isPunct(";") {
		parts = append(parts, renderRawToken(p.cur()))
		p.pos++
	}
	return &AlterTableStmt{Table: table, Action: strings.Join(parts, " ")}, nil
}

func (p *parser) parseDropStmt() (*DropStmt, error) {
	p.pos++ // DROP
	kind := ""
	switch {
	case p.isKeyword("TABLE"):
		kind = "TABLE"
	case p.isKeyword("INDEX"):
		kind = "INDEX"
	default:
		return nil, &apperr.UnsupportedStatement{SQL: p.sql, Reason: "only DROP TABLE and DROP INDEX are supported"}
	}
	p.pos++
	stmt := &DropStmt{Kind: kind}
	if p.isKeyword("IF") {
		p.pos++
		p.expectKeyword("EXISTS")
		stmt.IfExists = true
	}
	name, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt.Name = name
	return stmt, nil
}

func (p *parser) parseTruncateStmt() (*TruncateStmt, error) {
	p.pos++ // TRUNCATE
	if p.isKeyword("TABLE") {
		p.pos++
	}
	name, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	return &TruncateStmt{Table: name}, nil
}
