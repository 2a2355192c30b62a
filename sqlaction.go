/*
 * Copyright 2022 RapidLoop, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gatejson

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

// Querier is the minimal subset of pgx.Tx / pgxpool.Pool that the action
// executor and pipeline executor need (spec.md §4.D, §9 "shared
// transaction"). Both *pgx.Conn, pgx.Tx and *pgxpool.Pool satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ExecuteSQL renders query against bag and runs it through q, shaping the
// result per query.Result.Kind (spec.md §3, §4.D). The returned value is
// always JSON-marshalable.
func ExecuteSQL(ctx context.Context, q Querier, query DbQuery, bag map[string]any) (any, error) {
	sqlText, err := Render(query.Template, bag)
	if err != nil {
		// both a missing hole and an empty template are caller errors
		// (spec.md §4.A, §7): malformed request, not a server fault.
		return nil, NewError(ErrBadRequest, err)
	}

	switch query.Result.Kind {
	case ResultNone:
		if _, err := q.Exec(ctx, sqlText); err != nil {
			return nil, wrapDbError(err)
		}
		return map[string]any{"status": "ok"}, nil

	case ResultCount:
		tag, err := q.Exec(ctx, sqlText)
		if err != nil {
			return nil, wrapDbError(err)
		}
		return map[string]any{"rowsAffected": tag.RowsAffected()}, nil

	case ResultLastInsert:
		if _, err := q.Exec(ctx, sqlText); err != nil {
			return nil, wrapDbError(err)
		}
		var id int64
		row := q.QueryRow(ctx, "select currval(pg_get_serial_sequence($1, $2))", query.Result.Table, query.Result.Sequence)
		if err := row.Scan(&id); err != nil {
			return nil, wrapDbError(err)
		}
		return map[string]any{query.Result.Table: id}, nil

	case ResultItem, ResultItemOk, ResultCollection:
		return queryRows(ctx, q, sqlText, query.Result)

	default:
		return nil, NewErrorf(ErrServerConfiguration, "unknown DbResult kind")
	}
}

func queryRows(ctx context.Context, q Querier, sqlText string, result DbResult) (any, error) {
	rows, err := q.Query(ctx, sqlText)
	if err != nil {
		return nil, wrapDbError(err)
	}
	defer rows.Close()

	columns := result.Columns
	if columns == nil {
		columns = liveColumnNames(rows)
	}

	var items []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, wrapDbError(err)
		}
		item := rowToObject(columns, vals)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDbError(err)
	}

	switch result.Kind {
	case ResultCollection:
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = it
		}
		return out, nil

	case ResultItem:
		if len(items) == 0 {
			return nil, NewErrorf(ErrNotFound, "no rows")
		}
		if len(items) > 1 {
			return nil, NewErrorf(ErrDb, "expected exactly one row, got %d", len(items))
		}
		return items[0], nil

	case ResultItemOk:
		if len(items) == 0 {
			return nil, NewErrorf(ErrNotFound, "no rows")
		}
		if len(items) > 1 {
			return nil, NewErrorf(ErrDb, "expected exactly one row, got %d", len(items))
		}
		item := items[0]
		item["status"] = "ok"
		return item, nil
	}
	panic("unreachable")
}

// liveColumnNames reads the result column names off the query itself, for
// a plain `select *` route that declared no fixed (cols) hint (spec.md
// §4.A, §4.D).
func liveColumnNames(rows pgx.Rows) []string {
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = string(f.Name)
	}
	return cols
}

// rowToObject zips column names with a row's decoded values, converting
// each to a JSON-friendly Go value (spec.md §4.D).
func rowToObject(columns []string, vals []any) map[string]any {
	obj := make(map[string]any, len(columns))
	for i, c := range columns {
		if i < len(vals) {
			obj[c] = convertSQLValue(vals[i])
		} else {
			obj[c] = nil
		}
	}
	return obj
}

// convertSQLValue maps a pgx-decoded PostgreSQL value to its JSON
// representation (spec.md §4.D): text/bytes → string, numeric → number,
// boolean → boolean, arrays → JSON array (recursive), null → null,
// dates/times → ISO string, anything else → the sentinel string
// "[unsupported SQL type]".
func convertSQLValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, int16, int32, int64, int, float32, float64:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case [16]byte: // uuid.UUID's underlying array shape from some drivers
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = convertSQLValue(e)
		}
		return out
	default:
		return "[unsupported SQL type]"
	}
}

// wrapDbError classifies a pgx/pgconn error per spec.md §7: SQLSTATE class
// 23 (integrity constraint violation) becomes Conflict, everything else
// becomes DbError.
func wrapDbError(err error) *GatewayError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23" {
		return NewError(ErrConflict, err)
	}
	return NewError(ErrDb, err)
}
