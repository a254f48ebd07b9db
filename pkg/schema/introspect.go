// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Reader reads the live catalog state of a Postgres schema. *sql.DB and
// *sql.Tx both satisfy it.
type Reader interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Read seeds a fresh Schema snapshot from information_schema/pg_catalog
// for the given Postgres schema (namespace). This is the "authoritative"
// read the tracker is seeded from at the start of every migrate cycle
// (spec §4.3); complete and abort do not call it.
func Read(ctx context.Context, db Reader, pgSchema string) (*Schema, error) {
	s := New()

	tableRows, err := db.QueryContext(ctx, `
		SELECT c.relname
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind IN ('r', 'p')`, pgSchema)
	if err != nil {
		return nil, fmt.Errorf("schema: listing tables: %w", err)
	}
	defer tableRows.Close()

	var tableNames []string
	for tableRows.Next() {
		var name string
		if err := tableRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("schema: scanning table name: %w", err)
		}
		tableNames = append(tableNames, name)
	}
	if err := tableRows.Err(); err != nil {
		return nil, err
	}

	for _, name := range tableNames {
		t, err := readTable(ctx, db, pgSchema, name)
		if err != nil {
			return nil, fmt.Errorf("schema: reading table %q: %w", name, err)
		}
		s.AddTable(name, t)
	}

	enums, err := readEnums(ctx, db, pgSchema)
	if err != nil {
		return nil, fmt.Errorf("schema: reading enums: %w", err)
	}
	for _, e := range enums {
		s.AddEnum(e)
	}

	return s, nil
}

func readTable(ctx context.Context, db Reader, pgSchema, table string) (*Table, error) {
	t := &Table{Name: table}

	colRows, err := db.QueryContext(ctx, `
		SELECT a.attname,
		       format_type(a.atttypid, a.atttypmod),
		       NOT a.attnotnull,
		       pg_get_expr(d.adbin, d.adrelid),
		       COALESCE(t.typtype = 'e', false),
		       CASE WHEN t.typtype = 'e' THEN t.typname ELSE '' END
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_type t ON t.oid = a.atttypid
		LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		WHERE n.nspname = $1 AND c.relname = $2
		  AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum`, pgSchema, table)
	if err != nil {
		return nil, err
	}
	defer colRows.Close()

	for colRows.Next() {
		var (
			name      string
			typ       string
			nullable  bool
			def       sql.NullString
			isEnum    bool
			enumType  string
		)
		if err := colRows.Scan(&name, &typ, &nullable, &def, &isEnum, &enumType); err != nil {
			return nil, err
		}
		col := &Column{
			Name:     name,
			Type:     typ,
			Nullable: nullable,
		}
		if def.Valid {
			v := def.String
			col.Default = &v
		}
		if isEnum {
			col.EnumType = enumType
		}
		t.AddColumn(col)
	}
	if err := colRows.Err(); err != nil {
		return nil, err
	}

	pkRows, err := db.QueryContext(ctx, `
		SELECT a.attname
		FROM pg_catalog.pg_index i
		JOIN pg_catalog.pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		JOIN pg_catalog.pg_class c ON c.oid = i.indrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND i.indisprimary
		ORDER BY array_position(i.indkey, a.attnum)`, pgSchema, table)
	if err != nil {
		return nil, err
	}
	defer pkRows.Close()
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, err
		}
		t.PrimaryKey = append(t.PrimaryKey, name)
	}
	if err := pkRows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := db.QueryContext(ctx, `
		SELECT ic.relname, i.indisunique, array_agg(a.attname ORDER BY array_position(i.indkey, a.attnum))
		FROM pg_catalog.pg_index i
		JOIN pg_catalog.pg_class ic ON ic.oid = i.indexrelid
		JOIN pg_catalog.pg_class c ON c.oid = i.indrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE n.nspname = $1 AND c.relname = $2 AND NOT i.indisprimary
		GROUP BY ic.relname, i.indisunique`, pgSchema, table)
	if err != nil {
		return nil, err
	}
	defer idxRows.Close()
	for idxRows.Next() {
		var (
			name    string
			unique  bool
			columns []string
		)
		if err := idxRows.Scan(&name, &unique, pq.Array(&columns)); err != nil {
			return nil, err
		}
		t.AddIndex(&Index{Name: name, Unique: unique, Columns: columns})
	}
	if err := idxRows.Err(); err != nil {
		return nil, err
	}

	fkRows, err := db.QueryContext(ctx, `
		SELECT con.conname,
		       array_agg(att.attname ORDER BY array_position(con.conkey, att.attnum)),
		       ref.relname,
		       array_agg(refatt.attname ORDER BY array_position(con.confkey, refatt.attnum)),
		       CASE con.confdeltype
		           WHEN 'c' THEN 'CASCADE' WHEN 'n' THEN 'SET NULL'
		           WHEN 'd' THEN 'SET DEFAULT' WHEN 'r' THEN 'RESTRICT'
		           ELSE 'NO ACTION' END
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_class ref ON ref.oid = con.confrelid
		JOIN pg_catalog.pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = ANY(con.conkey)
		JOIN pg_catalog.pg_attribute refatt ON refatt.attrelid = con.confrelid AND refatt.attnum = ANY(con.confkey)
		WHERE n.nspname = $1 AND c.relname = $2 AND con.contype = 'f'
		GROUP BY con.conname, ref.relname, con.confdeltype`, pgSchema, table)
	if err != nil {
		return nil, err
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var (
			name     string
			columns  []string
			refTable string
			refCols  []string
			onDelete string
		)
		if err := fkRows.Scan(&name, pq.Array(&columns), &refTable, pq.Array(&refCols), &onDelete); err != nil {
			return nil, err
		}
		t.AddForeignKey(&ForeignKey{
			Name: name, Columns: columns,
			ReferencedTable: refTable, ReferencedColumns: refCols,
			OnDelete: onDelete,
		})
	}
	if err := fkRows.Err(); err != nil {
		return nil, err
	}

	return t, nil
}

func readEnums(ctx context.Context, db Reader, pgSchema string) ([]*Enum, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT t.typname, array_agg(e.enumlabel ORDER BY e.enumsortorder)
		FROM pg_catalog.pg_type t
		JOIN pg_catalog.pg_enum e ON e.enumtypid = t.oid
		JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = $1
		GROUP BY t.typname`, pgSchema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enums []*Enum
	for rows.Next() {
		var (
			name   string
			values []string
		)
		if err := rows.Scan(&name, pq.Array(&values)); err != nil {
			return nil, err
		}
		enums = append(enums, &Enum{Name: name, Values: values})
	}
	return enums, rows.Err()
}
