// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/reshapehq/reshape/pkg/db"
	"github.com/reshapehq/reshape/pkg/schema"
)

// backfillBatchSize is the number of rows touched per UPDATE batch when
// backfilling an `up` expression across an existing table. Batching
// keeps any individual statement's lock duration bounded, in keeping
// with the "no exclusive lock longer than a catalog update" guarantee
// in spec §5.
const backfillBatchSize = 1000

// backfillScalar populates physicalColumn for every existing row of the
// table using expr, in batches ordered by the table's single-column
// primary key (spec §4.4.6: "backfills ... in chunks").
func backfillScalar(ctx context.Context, conn db.DB, t *schema.Table, physicalColumn, expr string) error {
	pk, err := singlePrimaryKey(t)
	if err != nil {
		return err
	}

	var cursor interface{}
	for {
		query := fmt.Sprintf(
			"UPDATE %s SET %s = %s WHERE %s IN (SELECT %s FROM %s WHERE %s %s ORDER BY %s LIMIT %d) RETURNING %s",
			pq.QuoteIdentifier(t.Name),
			pq.QuoteIdentifier(physicalColumn),
			expr,
			pq.QuoteIdentifier(pk),
			pq.QuoteIdentifier(pk),
			pq.QuoteIdentifier(t.Name),
			pq.QuoteIdentifier(pk),
			cursorPredicate(cursor),
			pq.QuoteIdentifier(pk),
			backfillBatchSize,
			pq.QuoteIdentifier(pk),
		)

		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("migrations: backfilling %s.%s: %w", t.Name, physicalColumn, err)
		}

		var last interface{}
		count := 0
		for rows.Next() {
			if err := rows.Scan(&last); err != nil {
				rows.Close()
				return fmt.Errorf("migrations: scanning backfill cursor: %w", err)
			}
			count++
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("migrations: backfilling %s.%s: %w", t.Name, physicalColumn, err)
		}
		if closeErr != nil {
			return closeErr
		}

		if count == 0 {
			return nil
		}
		cursor = last
		if count < backfillBatchSize {
			return nil
		}
	}
}

func cursorPredicate(cursor interface{}) string {
	if cursor == nil {
		return "IS NOT NULL"
	}
	return fmt.Sprintf("> %s", pq.QuoteLiteral(fmt.Sprintf("%v", cursor)))
}

func singlePrimaryKey(t *schema.Table) (string, error) {
	if len(t.PrimaryKey) != 1 {
		return "", InvariantViolationError{
			Reason: fmt.Sprintf("table %q must have a single-column primary key to backfill", t.Name),
		}
	}
	return t.PrimaryKey[0], nil
}

// backfillCrossTable performs the one-shot UPDATE described in spec
// §4.4.6 for cross-table `up`/`down` forms: `UPDATE t1 SET col = value
// FROM t2 WHERE where`.
func backfillCrossTable(ctx context.Context, conn db.DB, table, physicalColumn, dependentTable, value, where string) error {
	query := fmt.Sprintf("UPDATE %s SET %s = %s FROM %s WHERE %s",
		pq.QuoteIdentifier(table),
		pq.QuoteIdentifier(physicalColumn),
		value,
		pq.QuoteIdentifier(dependentTable),
		where,
	)
	if _, err := conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrations: cross-table backfill on %s: %w", table, err)
	}
	return nil
}

// backfillInsertSelect performs create_table's initial population pass
// from a source table, using INSERT ... SELECT ... ON CONFLICT DO
// NOTHING (ON CONFLICT ON CONSTRAINT upsertConstraint DO NOTHING when
// upsertConstraint is set) so that it is safe to re-run after a partial
// failure (spec §4.4.1).
func backfillInsertSelect(ctx context.Context, conn db.DB, sourceTable, destTable string, columnMap map[string]string, upsertConstraint string) error {
	destCols := make([]string, 0, len(columnMap))
	selectExprs := make([]string, 0, len(columnMap))
	for destCol, srcExpr := range columnMap {
		destCols = append(destCols, pq.QuoteIdentifier(destCol))
		selectExprs = append(selectExprs, srcExpr)
	}

	conflictClause := "ON CONFLICT DO NOTHING"
	if upsertConstraint != "" {
		conflictClause = fmt.Sprintf("ON CONFLICT ON CONSTRAINT %s DO NOTHING", pq.QuoteIdentifier(upsertConstraint))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s %s",
		pq.QuoteIdentifier(destTable),
		joinComma(destCols),
		joinComma(selectExprs),
		pq.QuoteIdentifier(sourceTable),
		conflictClause,
	)
	if _, err := conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrations: backfilling %s from %s: %w", destTable, sourceTable, err)
	}
	return nil
}

func joinComma(items []string) string {
	out := ""
	for i, it := range items {
		if i != 0 {
			out += ", "
		}
		out += it
	}
	return out
}
