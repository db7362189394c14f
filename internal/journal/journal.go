package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/betbot/tradedesk/internal/domain"
)

// 定长格式，保证按字符串排序即按时间排序
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Status 交易尝试状态
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Entry 一次交易尝试的审计记录。只用于排查，不作为余额依据。
type Entry struct {
	ID            string           `json:"id"`
	Kind          domain.TradeKind `json:"kind"`
	Symbol        string           `json:"symbol"`
	Quantity      decimal.Decimal  `json:"quantity"`
	EstimatedCost decimal.Decimal  `json:"estimated_cost"`
	Status        Status           `json:"status"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Journal 交易审计日志（SQLite）
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（或创建）journal；path 为 ":memory:" 时使用内存库
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定，内存库也只有这一份
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, now: time.Now}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  symbol TEXT NOT NULL,
  quantity TEXT NOT NULL,
  estimated_cost TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);`,
	}
	for _, q := range stmts {
		if _, err := j.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

// Record 记录一次已提交的交易尝试，返回记录 ID
func (j *Journal) Record(ctx context.Context, kind domain.TradeKind, symbol string, quantity, estimatedCost decimal.Decimal) (string, error) {
	id := uuid.NewString()
	now := j.now().UTC().Format(timeLayout)
	_, err := j.db.ExecContext(ctx, `
INSERT INTO trades (id,kind,symbol,quantity,estimated_cost,status,error,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)
`, id, string(kind), symbol, quantity.String(), estimatedCost.String(), string(StatusSubmitted), "", now, now)
	if err != nil {
		return "", fmt.Errorf("insert trade: %w", err)
	}
	return id, nil
}

// Resolve 写入最终状态。cause 为 nil 表示确认成功。
func (j *Journal) Resolve(ctx context.Context, id string, cause error) error {
	status, msg := StatusConfirmed, ""
	if cause != nil {
		status, msg = StatusRejected, cause.Error()
	}
	res, err := j.db.ExecContext(ctx, `
UPDATE trades SET status=?, error=?, updated_at=? WHERE id=?
`, string(status), msg, j.now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("update trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("trade %s not found", id)
	}
	return nil
}

// Recent 按时间倒序返回最近的记录
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id,kind,symbol,quantity,estimated_cost,status,error,created_at,updated_at
FROM trades ORDER BY created_at DESC, rowid DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e                Entry
			kind, status     string
			qty, cost        string
			created, updated string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Symbol, &qty, &cost, &status, &e.Error, &created, &updated); err != nil {
			return nil, err
		}
		e.Kind = domain.TradeKind(kind)
		e.Status = Status(status)
		e.Quantity, _ = decimal.NewFromString(qty)
		e.EstimatedCost, _ = decimal.NewFromString(cost)
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		e.UpdatedAt, _ = time.Parse(timeLayout, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}
