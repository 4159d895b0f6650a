package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite"
)

const queryDatabase = "query.db"

// rowKeywords start statements whose result set is printed.
var rowKeywords = map[string]bool{
	"SELECT":  true,
	"WITH":    true,
	"PRAGMA":  true,
	"VALUES":  true,
	"EXPLAIN": true,
}

// SplitStatements cuts a script into statements on semicolons that are not
// inside quotes. "--" and "/* */" comments are dropped and whitespace runs
// outside quotes collapse to one space. Each statement keeps its terminating
// semicolon; a trailing statement without one is kept as is.
func SplitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
		quote rune
		space bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && s != ";" {
			stmts = append(stmts, s)
		}
		cur.Reset()
		space = false
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if quote != 0 {
			cur.WriteRune(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			space = cur.Len() > 0
		case c == '/' && i+1 < len(runes) && runes[i+1] == '*':
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			space = cur.Len() > 0
		case unicode.IsSpace(c):
			space = cur.Len() > 0
		default:
			if space {
				cur.WriteByte(' ')
				space = false
			}
			cur.WriteRune(c)
			switch c {
			case '\'', '"', '`':
				quote = c
			case '[':
				quote = ']'
			case ';':
				flush()
			}
		}
	}
	flush()
	return stmts
}

func returnsRows(stmt string) bool {
	word := stmt
	if i := strings.IndexFunc(stmt, func(r rune) bool { return !unicode.IsLetter(r) }); i >= 0 {
		word = stmt[:i]
	}
	return rowKeywords[strings.ToUpper(word)]
}

// RunQueries executes every statement of script against a fresh database file
// in dir and returns the textual report. Statement errors are reported inline
// and do not stop the batch; only a failure to open the store or the batch
// deadline end it early.
func RunQueries(ctx context.Context, dir, script string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := sql.Open("sqlite", filepath.Join(dir, queryDatabase))
	if err != nil {
		return "", environmentError("open query store", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var lines []string
	for _, stmt := range SplitStatements(script) {
		if ctx.Err() != nil {
			break
		}
		if returnsRows(stmt) {
			lines, err = appendQuery(ctx, db, stmt, lines)
		} else {
			lines, err = appendStatement(ctx, db, stmt, lines)
		}
		if err != nil {
			lines = append(lines, echo(stmt), "SQL Error: "+err.Error(), "")
		}
	}

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &Error{Kind: ErrTimeout, Op: "run queries"}
		}
		return "", &Error{Kind: ctx.Err(), Op: "run queries"}
	}
	return strings.Join(lines, "\n"), nil
}

func echo(stmt string) string {
	if returnsRows(stmt) {
		return "Query: " + stmt
	}
	return "Statement: " + stmt
}

// appendStatement reports the rows a statement changed. sqlite's changes()
// keeps the last DML count across DDL, so the delta of total_changes() is
// used instead and DDL reports 0.
func appendStatement(ctx context.Context, db *sql.DB, stmt string, lines []string) ([]string, error) {
	before, err := totalChanges(ctx, db)
	if err != nil {
		return lines, err
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return lines, err
	}
	after, err := totalChanges(ctx, db)
	if err != nil {
		return lines, err
	}
	return append(lines, echo(stmt), fmt.Sprintf("Rows affected: %d", after-before), ""), nil
}

func totalChanges(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, "SELECT total_changes()").Scan(&n)
	return n, err
}

func appendQuery(ctx context.Context, db *sql.DB, stmt string, lines []string) ([]string, error) {
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return lines, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return lines, err
	}

	var body []string
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return lines, err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatCell(v)
		}
		body = append(body, strings.Join(cells, " | "))
	}
	if err := rows.Err(); err != nil {
		return lines, err
	}

	lines = append(lines, echo(stmt))
	if len(body) == 0 {
		return append(lines, "No results returned.", ""), nil
	}
	header := strings.Join(cols, " | ")
	lines = append(lines, "Results:", header, strings.Repeat("-", len(header)))
	lines = append(lines, body...)
	return append(lines, ""), nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
