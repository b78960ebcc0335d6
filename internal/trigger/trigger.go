// Package trigger installs and maintains the SQL triggers that turn
// ordinary table writes into entries in the CRDT journal
// (haex_crdt_logs). Triggers are named with a z_ prefix so they run
// after any application-defined triggers on the same table.
package trigger

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/haexhub/haexvault/internal/apperr"
)

const (
	tombstoneColumn = "haex_tombstone"
	hlcColumn       = "haex_hlc_timestamp"
	syncActiveKey   = "sync_active"
	configsTable    = "haex_crdt_configs"
	logsTable       = "haex_crdt_logs"
)

// TableColumns holds a table's column names in declaration order plus its
// primary key column names (composite keys supported), as read by
// introspect via PRAGMA table_info.
type TableColumns struct {
	All []string
	PK  []string
}

func introspect(tx *sql.Tx, table string) (TableColumns, error) {
	rows, err := tx.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(table)))
	if err != nil {
		return TableColumns{}, &apperr.CrdtSetupError{Kind: apperr.CrdtSetupDatabaseError, Table: table, Reason: err.Error()}
	}
	defer rows.Close()

	var cols TableColumns
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return TableColumns{}, &apperr.CrdtSetupError{Kind: apperr.CrdtSetupDatabaseError, Table: table, Reason: err.Error()}
		}
		cols.All = append(cols.All, name)
		if pk > 0 {
			cols.PK = append(cols.PK, name)
		}
	}
	if err := rows.Err(); err != nil {
		return TableColumns{}, &apperr.CrdtSetupError{Kind: apperr.CrdtSetupDatabaseError, Table: table, Reason: err.Error()}
	}
	return cols, nil
}

func quoteIdent(name string) string {
	return "\"" + strings.ReplaceAll(name, "\"", "\"\"") + "\""
}

// TrackedColumns returns the columns of a table that participate in the
// CRDT log: everything except the primary key, haex_tombstone, and
// haex_hlc_timestamp.
func TrackedColumns(cols TableColumns) []string {
	pk := map[string]bool{}
	for _, c := range cols.PK {
		pk[strings.ToLower(c)] = true
	}
	var out []string
	for _, c := range cols.All {
		lc := strings.ToLower(c)
		if pk[lc] || lc == tombstoneColumn || lc == hlcColumn {
			continue
		}
		out = append(out, c)
	}
	return out
}

func pkJSONExpr(prefix string, pk []string) string {
	var b strings.Builder
	b.WriteString("json_object(")
	for i, c := range pk {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s, %s.%s", quoteLiteral(c), prefix, quoteIdent(c))
	}
	b.WriteString(")")
	return b.String()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func gate() string {
	return fmt.Sprintf(
		`(SELECT value FROM %s WHERE key = '%s') IS NOT '1'`,
		quoteIdent(configsTable), syncActiveKey,
	)
}

// SetupTriggersForTable introspects table, validates it has a primary key
// and a tombstone column, and installs (or, when force is true,
// drops-and-recreates) its z_crdt_<table>_insert/update triggers, all
// within tx.
func SetupTriggersForTable(tx *sql.Tx, table string, force bool) error {
	cols, err := introspect(tx, table)
	if err != nil {
		return err
	}
	if len(cols.PK) == 0 {
		return &apperr.CrdtSetupError{Kind: apperr.CrdtSetupPrimaryKeyMissing, Table: table, Reason: "table has no primary key column"}
	}
	hasTombstone := false
	for _, c := range cols.All {
		if strings.EqualFold(c, tombstoneColumn) {
			hasTombstone = true
			break
		}
	}
	if !hasTombstone {
		return &apperr.CrdtSetupError{Kind: apperr.CrdtSetupTombstoneColumnMissing, Table: table, Reason: "table has no haex_tombstone column"}
	}

	insertName := fmt.Sprintf("z_crdt_%s_insert", table)
	updateName := fmt.Sprintf("z_crdt_%s_update", table)

	if force {
		if _, err := tx.Exec(fmt.Sprintf(`DROP TRIGGER IF EXISTS %s`, quoteIdent(insertName))); err != nil {
			return &apperr.CrdtSetupError{Kind: apperr.CrdtSetupDatabaseError, Table: table, Reason: err.Error()}
		}
		if _, err := tx.Exec(fmt.Sprintf(`DROP TRIGGER IF EXISTS %s`, quoteIdent(updateName))); err != nil {
			return &apperr.CrdtSetupError{Kind: apperr.CrdtSetupDatabaseError, Table: table, Reason: err.Error()}
		}
	}

	tracked := TrackedColumns(cols)

	if err := createInsertTrigger(tx, table, insertName, cols.PK, tracked); err != nil {
		return err
	}
	if err := createUpdateTrigger(tx, table, updateName, cols.PK, tracked); err != nil {
		return err
	}
	return nil
}

func createInsertTrigger(tx *sql.Tx, table, name string, pk, tracked []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER IF NOT EXISTS %s AFTER INSERT ON %s\n", quoteIdent(name), quoteIdent(table))
	fmt.Fprintf(&b, "WHEN NEW.%s = 0 AND %s\n", quoteIdent(tombstoneColumn), gate())
	b.WriteString("BEGIN\n")
	for _, col := range tracked {
		fmt.Fprintf(&b, "  INSERT INTO %s (haex_timestamp, table_name, row_pks, op_type, column_name, new_value)\n", quoteIdent(logsTable))
		fmt.Fprintf(&b, "  VALUES (NEW.%s, %s, %s, 'INSERT', %s, json_object('value', NEW.%s));\n",
			quoteIdent(hlcColumn), quoteLiteral(table), pkJSONExpr("NEW", pk), quoteLiteral(col), quoteIdent(col))
	}
	b.WriteString("END;")
	_, err := tx.Exec(b.String())
	if err != nil {
		return &apperr.CrdtSetupError{Kind: apperr.CrdtSetupDatabaseError, Table: table, Reason: err.Error()}
	}
	return nil
}

func createUpdateTrigger(tx *sql.Tx, table, name string, pk, tracked []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER IF NOT EXISTS %s AFTER UPDATE ON %s\n", quoteIdent(name), quoteIdent(table))
	fmt.Fprintf(&b, "WHEN %s\n", gate())
	b.WriteString("BEGIN\n")
	for _, col := range tracked {
		fmt.Fprintf(&b, "  INSERT INTO %s (haex_timestamp, table_name, row_pks, op_type, column_name, new_value, old_value)\n", quoteIdent(logsTable))
		fmt.Fprintf(&b, "  SELECT NEW.%s, %s, %s, 'UPDATE', %s, json_object('value', NEW.%s), json_object('value', OLD.%s)\n",
			quoteIdent(hlcColumn), quoteLiteral(table), pkJSONExpr("NEW", pk), quoteLiteral(col), quoteIdent(col), quoteIdent(col))
		fmt.Fprintf(&b, "  WHERE NEW.%s IS NOT OLD.%s;\n", quoteIdent(col), quoteIdent(col))
	}
	fmt.Fprintf(&b, "  INSERT INTO %s (haex_timestamp, table_name, row_pks, op_type)\n", quoteIdent(logsTable))
	fmt.Fprintf(&b, "  SELECT NEW.%s, %s, %s, 'DELETE'\n", quoteIdent(hlcColumn), quoteLiteral(table), pkJSONExpr("NEW", pk))
	fmt.Fprintf(&b, "  WHERE OLD.%s = 0 AND NEW.%s = 1;\n", quoteIdent(tombstoneColumn), quoteIdent(tombstoneColumn))
	b.WriteString("END;")
	_, err := tx.Exec(b.String())
	if err != nil {
		return &apperr.CrdtSetupError{Kind: apperr.CrdtSetupDatabaseError, Table: table, Reason: err.Error()}
	}
	return nil
}

// WithTriggersPaused sets haex_crdt_configs.sync_active='1' for the
// duration of action, guaranteeing it is cleared afterward even if action
// returns an error or panics. Used during replay of remote log entries so
// replaying a remote mutation does not re-append it to the local log.
func WithTriggersPaused(tx *sql.Tx, action func() error) (err error) {
	if _, execErr := tx.Exec(
		fmt.Sprintf(`INSERT INTO %s(key, value) VALUES ('%s', '1')
			ON CONFLICT(key) DO UPDATE SET value = '1'`, quoteIdent(configsTable), syncActiveKey),
	); execErr != nil {
		return &apperr.CrdtSetupError{Kind: apperr.CrdtSetupDatabaseError, Reason: execErr.Error()}
	}
	defer func() {
		if _, clearErr := tx.Exec(
			fmt.Sprintf(`UPDATE %s SET value = '0' WHERE key = '%s'`, quoteIdent(configsTable), syncActiveKey),
		); clearErr != nil && err == nil {
			err = &apperr.CrdtSetupError{Kind: apperr.CrdtSetupDatabaseError, Reason: clearErr.Error()}
		}
		if r := recover(); r != nil {
			tx.Exec(fmt.Sprintf(`UPDATE %s SET value = '0' WHERE key = '%s'`, quoteIdent(configsTable), syncActiveKey))
			panic(r)
		}
	}()
	return action()
}
