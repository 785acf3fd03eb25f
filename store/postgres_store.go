package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxConn is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps trackers in a table with the columns "name" and
// "sequenceNumber".
type PostgresStore struct {
	conn      PgxConn
	tableName string
	table     string
}

func NewPostgresStore(conn PgxConn, table string) *PostgresStore {
	return &PostgresStore{
		conn:      conn,
		tableName: table,
		table:     pgx.Identifier{table}.Sanitize(),
	}
}

func (s *PostgresStore) Table() string {
	return s.tableName
}

func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s BIGINT NOT NULL)`,
		s.table, column(AttrName), column(AttrSequenceNumber))
	if _, err := s.conn.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (Record, bool, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, column(AttrSequenceNumber), s.table, column(AttrName))

	rec := Record{Name: name}
	err := s.conn.QueryRow(ctx, sql, name).Scan(&rec.SequenceNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) ConditionalPut(ctx context.Context, rec Record, cond Condition) error {
	sql, args, err := s.conditionalPutSQL(rec, cond)
	if err != nil {
		return err
	}
	if sql == "" {
		return ErrPreconditionFailed
	}

	tag, err := s.conn.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPreconditionFailed
	}
	return nil
}

// conditionalPutSQL renders cond as a single statement. When the condition
// admits an absent row the statement is an upsert whose update branch is
// guarded by the remaining clauses; otherwise it is a guarded UPDATE.
func (s *PostgresStore) conditionalPutSQL(rec Record, cond Condition) (string, []any, error) {
	args := []any{rec.Name, rec.SequenceNumber}
	var (
		guards []string
		upsert bool
	)
	for _, cl := range cond.Clauses() {
		switch cl.Op {
		case OpNotExists:
			if cl.Attr == AttrName {
				upsert = true
				continue
			}
			// Every known column is NOT NULL; unknown attributes never exist.
			guards = append(guards, strconv.FormatBool(!hasAttr(cl.Attr)))
		case OpLessThan:
			if !hasAttr(cl.Attr) || cl.Attr == AttrName {
				guards = append(guards, "false")
				continue
			}
			args = append(args, cl.Value)
			guards = append(guards, fmt.Sprintf("t.%s < $%d", column(cl.Attr), len(args)))
		default:
			return "", nil, fmt.Errorf("unsupported condition %s", cl.Op)
		}
	}

	where := strings.Join(guards, " OR ")
	switch {
	case upsert && len(guards) == 0:
		return fmt.Sprintf(`INSERT INTO %s AS t (%s, %s) VALUES ($1, $2) ON CONFLICT (%s) DO NOTHING`,
			s.table, column(AttrName), column(AttrSequenceNumber), column(AttrName)), args, nil
	case upsert:
		return fmt.Sprintf(`INSERT INTO %s AS t (%s, %s) VALUES ($1, $2) ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s WHERE %s`,
			s.table, column(AttrName), column(AttrSequenceNumber), column(AttrName),
			column(AttrSequenceNumber), column(AttrSequenceNumber), where), args, nil
	case len(guards) == 0:
		return "", nil, nil
	default:
		return fmt.Sprintf(`UPDATE %s AS t SET %s = $2 WHERE t.%s = $1 AND (%s)`,
			s.table, column(AttrSequenceNumber), column(AttrName), where), args, nil
	}
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	sql := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES ($1, $2) ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s`,
		s.table, column(AttrName), column(AttrSequenceNumber), column(AttrName),
		column(AttrSequenceNumber), column(AttrSequenceNumber))
	_, err := s.conn.Exec(ctx, sql, rec.Name, rec.SequenceNumber)
	return err
}

func column(attr string) string {
	return pgx.Identifier{attr}.Sanitize()
}
