package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cobaltdata/schemaport/internal/catalog"
	"github.com/cobaltdata/schemaport/internal/provider"
)

// defaultBatchRows caps rows per generated INSERT when the caller does not
// set ScriptOptions.BatchRows.
const defaultBatchRows = 100

// typeHandler binds one object type to its enumeration and scripting
// implementation.
type typeHandler struct {
	enumerate func(ctx context.Context, conn *sql.Conn) ([]catalog.Object, error)
	script    func(ctx context.Context, conn *sql.Conn, objs []catalog.Object, opts provider.ScriptOptions) (string, error)
}

// buildHandlers returns the handler table for everything sqlite can express.
// Foreign keys and check constraints live inside table DDL, and sqlite has
// no routines or principals, so those types are absent.
func buildHandlers() map[catalog.Type]typeHandler {
	return map[catalog.Type]typeHandler{
		catalog.TypeDatabaseConfig: {enumerate: enumerateConfig, script: scriptConfig},
		catalog.TypeSchema:         {enumerate: enumerateSchemas, script: scriptSchemas},
		catalog.TypeSequence:       {enumerate: enumerateSequences, script: scriptSequences},
		catalog.TypeTable:          {enumerate: enumerateMaster(catalog.TypeTable, "table"), script: scriptMaster("table")},
		catalog.TypeView:           {enumerate: enumerateMaster(catalog.TypeView, "view"), script: scriptMaster("view")},
		catalog.TypeIndex:          {enumerate: enumerateMaster(catalog.TypeIndex, "index"), script: scriptMaster("index")},
		catalog.TypeTrigger:        {enumerate: enumerateMaster(catalog.TypeTrigger, "trigger"), script: scriptMaster("trigger")},
		catalog.TypeData:           {enumerate: enumerateData, script: scriptData},
	}
}

// enumerateMaster lists sqlite_master entries of one type. Entries without
// stored SQL (auto-generated primary key and unique indexes) and sqlite_*
// names are flagged as system objects.
func enumerateMaster(t catalog.Type, masterType string) func(context.Context, *sql.Conn) ([]catalog.Object, error) {
	return func(ctx context.Context, conn *sql.Conn) ([]catalog.Object, error) {
		rows, err := conn.QueryContext(ctx,
			"SELECT name, sql FROM sqlite_master WHERE type = ? ORDER BY name", masterType)
		if err != nil {
			return nil, fmt.Errorf("failed to query sqlite_master for type %s: %w", masterType, err)
		}
		defer rows.Close()

		var objs []catalog.Object
		for rows.Next() {
			var name string
			var ddl sql.NullString
			if err := rows.Scan(&name, &ddl); err != nil {
				return nil, fmt.Errorf("failed to scan sqlite_master row: %w", err)
			}
			objs = append(objs, catalog.Object{
				Type:   t,
				Schema: mainSchema,
				Name:   name,
				System: strings.HasPrefix(name, "sqlite_") || !ddl.Valid,
			})
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating sqlite_master: %w", err)
		}
		return objs, nil
	}
}

// scriptMaster emits the stored CREATE statements for sqlite_master objects.
func scriptMaster(masterType string) func(context.Context, *sql.Conn, []catalog.Object, provider.ScriptOptions) (string, error) {
	keyword := strings.ToUpper(masterType)
	return func(ctx context.Context, conn *sql.Conn, objs []catalog.Object, opts provider.ScriptOptions) (string, error) {
		var b strings.Builder
		for _, obj := range objs {
			var ddl sql.NullString
			err := conn.QueryRowContext(ctx,
				"SELECT sql FROM sqlite_master WHERE type = ? AND name = ?",
				masterType, obj.Name).Scan(&ddl)
			if errors.Is(err, sql.ErrNoRows) {
				return "", fmt.Errorf("%w: %s", provider.ErrObjectNotFound, obj.Identity())
			}
			if err != nil {
				return "", fmt.Errorf("failed to read definition of %s: %w", obj.Identity(), err)
			}
			if !ddl.Valid {
				return "", fmt.Errorf("%s has no stored definition", obj.Identity())
			}

			stmt := strings.TrimSpace(ddl.String)
			if opts.DropFirst {
				fmt.Fprintf(&b, "DROP %s IF EXISTS %s;\n", keyword, quoteIdent(obj.Name))
			}
			if opts.IfNotExists {
				stmt = ensureIfNotExists(stmt)
			}
			b.WriteString(stmt)
			b.WriteString(";\n\n")
		}
		return b.String(), nil
	}
}

var (
	createStmtRe  = regexp.MustCompile(`(?i)^(\s*CREATE\s+(?:TEMP\s+|TEMPORARY\s+)?(?:UNIQUE\s+)?(?:VIRTUAL\s+)?(?:TABLE|VIEW|INDEX|TRIGGER))\s+`)
	ifNotExistsRe = regexp.MustCompile(`(?i)\bIF\s+NOT\s+EXISTS\b`)
)

// ensureIfNotExists injects IF NOT EXISTS into a stored CREATE statement.
// sqlite_master strips the guard even when the object was created with one.
func ensureIfNotExists(ddl string) string {
	if ifNotExistsRe.MatchString(ddl) {
		return ddl
	}
	return createStmtRe.ReplaceAllString(ddl, "$1 IF NOT EXISTS ")
}

// enumerateConfig reports the single database-level configuration object.
func enumerateConfig(ctx context.Context, conn *sql.Conn) ([]catalog.Object, error) {
	return []catalog.Object{{Type: catalog.TypeDatabaseConfig, Schema: mainSchema, Name: "database"}}, nil
}

// scriptConfig emits the persistent pragma settings.
func scriptConfig(ctx context.Context, conn *sql.Conn, objs []catalog.Object, opts provider.ScriptOptions) (string, error) {
	var userVersion, appID int64
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&userVersion); err != nil {
		return "", fmt.Errorf("failed to read user_version: %w", err)
	}
	if err := conn.QueryRowContext(ctx, "PRAGMA application_id").Scan(&appID); err != nil {
		return "", fmt.Errorf("failed to read application_id: %w", err)
	}
	var journalMode string
	if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return "", fmt.Errorf("failed to read journal_mode: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "PRAGMA user_version = %d;\n", userVersion)
	fmt.Fprintf(&b, "PRAGMA application_id = %d;\n", appID)
	fmt.Fprintf(&b, "PRAGMA journal_mode = %s;\n", journalMode)
	return b.String(), nil
}

// enumerateSchemas lists the attached databases. main is the primary; temp
// is engine-internal and flagged as such.
func enumerateSchemas(ctx context.Context, conn *sql.Conn) ([]catalog.Object, error) {
	list, err := databaseList(ctx, conn)
	if err != nil {
		return nil, err
	}
	objs := make([]catalog.Object, 0, len(list))
	for _, entry := range list {
		objs = append(objs, catalog.Object{
			Type:   catalog.TypeSchema,
			Schema: entry.name,
			Name:   entry.name,
			System: entry.name == "temp",
		})
	}
	return objs, nil
}

// scriptSchemas emits ATTACH statements for non-primary schemas. The main
// schema needs no statement and scripts to a marker comment.
func scriptSchemas(ctx context.Context, conn *sql.Conn, objs []catalog.Object, opts provider.ScriptOptions) (string, error) {
	list, err := databaseList(ctx, conn)
	if err != nil {
		return "", err
	}
	files := make(map[string]string, len(list))
	for _, entry := range list {
		files[entry.name] = entry.file
	}

	var b strings.Builder
	for _, obj := range objs {
		file, ok := files[obj.Name]
		if !ok {
			return "", fmt.Errorf("%w: %s", provider.ErrObjectNotFound, obj.Identity())
		}
		if obj.Name == mainSchema {
			fmt.Fprintf(&b, "-- %s is the primary database and needs no ATTACH\n", mainSchema)
			continue
		}
		fmt.Fprintf(&b, "ATTACH DATABASE %s AS %s;\n", quoteString(file), quoteIdent(obj.Name))
	}
	return b.String(), nil
}

type schemaEntry struct {
	name string
	file string
}

func databaseList(ctx context.Context, conn *sql.Conn) ([]schemaEntry, error) {
	rows, err := conn.QueryContext(ctx, "PRAGMA database_list")
	if err != nil {
		return nil, fmt.Errorf("failed to read database_list: %w", err)
	}
	defer rows.Close()

	var list []schemaEntry
	for rows.Next() {
		var seq int64
		var name string
		var file sql.NullString
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return nil, fmt.Errorf("failed to scan database_list row: %w", err)
		}
		list = append(list, schemaEntry{name: name, file: file.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating database_list: %w", err)
	}
	return list, nil
}

// enumerateSequences lists sqlite_sequence rows, one per AUTOINCREMENT
// counter. The table only exists once some table declares AUTOINCREMENT.
func enumerateSequences(ctx context.Context, conn *sql.Conn) ([]catalog.Object, error) {
	rows, err := conn.QueryContext(ctx, "SELECT name FROM sqlite_sequence ORDER BY name")
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query sqlite_sequence: %w", err)
	}
	defer rows.Close()

	var objs []catalog.Object
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan sqlite_sequence row: %w", err)
		}
		objs = append(objs, catalog.Object{Type: catalog.TypeSequence, Schema: mainSchema, Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sqlite_sequence: %w", err)
	}
	return objs, nil
}

// scriptSequences restores AUTOINCREMENT counters. The UPDATE covers the
// usual case where loading data already created the row; the guarded INSERT
// covers counters for tables that were scripted empty.
func scriptSequences(ctx context.Context, conn *sql.Conn, objs []catalog.Object, opts provider.ScriptOptions) (string, error) {
	var b strings.Builder
	for _, obj := range objs {
		var seq int64
		err := conn.QueryRowContext(ctx, "SELECT seq FROM sqlite_sequence WHERE name = ?", obj.Name).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", provider.ErrObjectNotFound, obj.Identity())
		}
		if err != nil {
			return "", fmt.Errorf("failed to read sequence %s: %w", obj.Name, err)
		}
		fmt.Fprintf(&b, "UPDATE sqlite_sequence SET seq = %d WHERE name = %s;\n", seq, quoteString(obj.Name))
		fmt.Fprintf(&b, "INSERT INTO sqlite_sequence (name, seq) SELECT %s, %d WHERE (SELECT changes()) = 0;\n\n",
			quoteString(obj.Name), seq)
	}
	return b.String(), nil
}

// enumerateData reports one data object per user table.
func enumerateData(ctx context.Context, conn *sql.Conn) ([]catalog.Object, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND sql IS NOT NULL AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query tables for data: %w", err)
	}
	defer rows.Close()

	var objs []catalog.Object
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		objs = append(objs, catalog.Object{Type: catalog.TypeData, Schema: mainSchema, Name: name})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return objs, nil
}

// scriptData generates batched INSERT statements for each table's rows.
// DropFirst empties the table before loading.
func scriptData(ctx context.Context, conn *sql.Conn, objs []catalog.Object, opts provider.ScriptOptions) (string, error) {
	batch := opts.BatchRows
	if batch <= 0 {
		batch = defaultBatchRows
	}

	var b strings.Builder
	for _, obj := range objs {
		if opts.DropFirst {
			fmt.Fprintf(&b, "DELETE FROM %s;\n", quoteIdent(obj.Name))
		}
		if err := scriptTableRows(ctx, conn, &b, obj, batch); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func scriptTableRows(ctx context.Context, conn *sql.Conn, b *strings.Builder, obj catalog.Object, batch int) error {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", quoteIdent(obj.Name)))
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return fmt.Errorf("%w: %s", provider.ErrObjectNotFound, obj.Identity())
		}
		return fmt.Errorf("failed to read rows of %s: %w", obj.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to read columns of %s: %w", obj.Name, err)
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	colList := strings.Join(quoted, ", ")

	var tuples []string
	flush := func() {
		if len(tuples) == 0 {
			return
		}
		fmt.Fprintf(b, "INSERT INTO %s (%s) VALUES\n  %s;\n", quoteIdent(obj.Name), colList, strings.Join(tuples, ",\n  "))
		tuples = tuples[:0]
	}

	total := 0
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row of %s: %w", obj.Name, err)
		}

		lits := make([]string, len(vals))
		for i, v := range vals {
			lits[i] = sqlLiteral(v)
		}
		tuples = append(tuples, "("+strings.Join(lits, ", ")+")")
		total++
		if len(tuples) >= batch {
			flush()
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows of %s: %w", obj.Name, err)
	}
	flush()

	if total == 0 {
		fmt.Fprintf(b, "-- %s has no rows\n", obj.Name)
	}
	b.WriteString("\n")
	return nil
}

// sqlLiteral renders one scanned value as a SQL literal.
func sqlLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case []byte:
		return "X'" + hex.EncodeToString(x) + "'"
	case string:
		return quoteString(x)
	case time.Time:
		return quoteString(x.UTC().Format(time.RFC3339Nano))
	default:
		return quoteString(fmt.Sprintf("%v", x))
	}
}

// quoteIdent double-quotes an identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteString single-quotes a text literal.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
