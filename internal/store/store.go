// Package store 把埋伏分析结果与吸筹形态模板持久化到 SQLite。
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fund-burying-backend/internal/analyzer"
	"fund-burying-backend/internal/model"
)

const DefaultDBFileName = "ambush.db"

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("记录不存在")

// Record 一次已保存的综合分析
type Record struct {
	ID           int64              `json:"id"`
	StockCode    string             `json:"stock_code"`
	StockName    string             `json:"stock_name"`
	TradeDate    string             `json:"trade_date"`
	ConfigHash   string             `json:"config_hash"`
	Score        float64            `json:"score"`
	Level        string             `json:"level"`
	ModuleScores map[string]float64 `json:"module_scores"`
	Failures     map[string]string  `json:"failures"`
	Result       json.RawMessage    `json:"result,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Store SQLite 存储，可并发使用
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// ResolvePath 目录或无扩展名路径补上默认文件名
func ResolvePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return DefaultDBFileName
	}
	if filepath.Ext(p) == "" {
		return filepath.Join(p, DefaultDBFileName)
	}
	if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		return filepath.Join(p, DefaultDBFileName)
	}
	return p
}

// Open 打开（必要时创建）数据库并建表；形态表为空时写入内置模板
func Open(path string) (*Store, error) {
	path = ResolvePath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(path)))
	if err != nil {
		return nil, err
	}
	// 单连接避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if _, err := s.SeedPatterns(context.Background(), analyzer.DefaultPatterns()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("写入内置形态失败: %w", err)
	}
	return s, nil
}

func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ambush_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stock_code TEXT NOT NULL,
			stock_name TEXT NOT NULL DEFAULT '',
			trade_date TEXT NOT NULL,
			config_hash TEXT NOT NULL DEFAULT '',
			score REAL NOT NULL,
			level TEXT NOT NULL,
			fund_flow_score REAL,
			share_structure_score REAL,
			technical_pattern_score REAL,
			main_force_score REAL,
			market_environment_score REAL,
			module_scores TEXT NOT NULL,
			failures TEXT NOT NULL,
			result TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(stock_code, trade_date, config_hash)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ambush_results_code ON ambush_results(stock_code, trade_date);`,
		`CREATE INDEX IF NOT EXISTS idx_ambush_results_score ON ambush_results(score);`,
		`CREATE TABLE IF NOT EXISTS accumulation_patterns (
			name TEXT PRIMARY KEY,
			curve TEXT NOT NULL,
			success_rate REAL NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// moduleColumns 模块名到得分列
var moduleColumns = map[string]string{
	analyzer.ModuleFundFlow:          "fund_flow_score",
	analyzer.ModuleShareStructure:    "share_structure_score",
	analyzer.ModuleTechnicalPattern:  "technical_pattern_score",
	analyzer.ModuleMainForce:         "main_force_score",
	analyzer.ModuleMarketEnvironment: "market_environment_score",
}

// Save 保存综合结果；同一股票、交易日、配置重复分析时覆盖旧记录
func (s *Store) Save(ctx context.Context, res *model.CompositeResult, configHash string) (int64, error) {
	if res == nil || res.StockCode == "" || res.TradeDate == "" {
		return 0, fmt.Errorf("结果缺少股票代码或交易日")
	}
	full, err := json.Marshal(res)
	if err != nil {
		return 0, fmt.Errorf("序列化结果失败: %w", err)
	}
	scores := res.ModuleScores()
	scoresJSON, _ := json.Marshal(scores)
	failures := res.Failures
	if failures == nil {
		failures = map[string]string{}
	}
	failuresJSON, _ := json.Marshal(failures)

	cols := make([]any, 0, len(moduleColumns))
	for _, name := range analyzer.ModuleNames() {
		if v, ok := scores[name]; ok {
			cols = append(cols, v)
		} else {
			cols = append(cols, nil)
		}
	}

	args := []any{res.StockCode, res.StockName, res.TradeDate, configHash, res.Score, analyzer.Level(res.Score)}
	args = append(args, cols...)
	args = append(args, string(scoresJSON), string(failuresJSON), string(full), s.now().Format(time.RFC3339))

	var id int64
	err = s.db.QueryRowContext(ctx, `
INSERT INTO ambush_results (
  stock_code, stock_name, trade_date, config_hash, score, level,
  fund_flow_score, share_structure_score, technical_pattern_score, main_force_score, market_environment_score,
  module_scores, failures, result, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(stock_code, trade_date, config_hash) DO UPDATE SET
  stock_name = excluded.stock_name,
  score = excluded.score,
  level = excluded.level,
  fund_flow_score = excluded.fund_flow_score,
  share_structure_score = excluded.share_structure_score,
  technical_pattern_score = excluded.technical_pattern_score,
  main_force_score = excluded.main_force_score,
  market_environment_score = excluded.market_environment_score,
  module_scores = excluded.module_scores,
  failures = excluded.failures,
  result = excluded.result,
  created_at = excluded.created_at
RETURNING id`, args...).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("保存分析结果失败: %w", err)
	}
	return id, nil
}

const recordColumns = `id, stock_code, stock_name, trade_date, config_hash, score, level, module_scores, failures, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, extra ...any) (Record, error) {
	var r Record
	var scores, failures, created string
	dest := append([]any{&r.ID, &r.StockCode, &r.StockName, &r.TradeDate, &r.ConfigHash, &r.Score, &r.Level, &scores, &failures, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(scores), &r.ModuleScores); err != nil {
		return r, fmt.Errorf("解析模块得分失败: %w", err)
	}
	if err := json.Unmarshal([]byte(failures), &r.Failures); err != nil {
		return r, fmt.Errorf("解析失败原因失败: %w", err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return r, nil
}

// History 某只股票的历史记录，交易日倒序
func (s *Store) History(ctx context.Context, code string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM ambush_results
WHERE stock_code = ? ORDER BY trade_date DESC, id DESC LIMIT ?`, code, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get 按 ID 取完整记录（含结果 JSON）
func (s *Store) Get(ctx context.Context, id int64) (*Record, error) {
	var full string
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+`, result FROM ambush_results WHERE id = ?`, id)
	r, err := scanRecord(row, &full)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Result = json.RawMessage(full)
	return &r, nil
}

// Similar 按模块得分的绝对差之和找最接近的历史记录，缺失的模块不计入距离
func (s *Store) Similar(ctx context.Context, scores map[string]float64, excludeCode string, topK int) ([]Record, error) {
	if topK <= 0 || len(scores) == 0 {
		return nil, nil
	}
	var terms []string
	var args []any
	for _, name := range analyzer.ModuleNames() {
		v, ok := scores[name]
		if !ok {
			continue
		}
		col := moduleColumns[name]
		terms = append(terms, fmt.Sprintf("COALESCE(abs(%s - ?), 100)", col))
		args = append(args, v)
	}
	if len(terms) == 0 {
		return nil, nil
	}
	q := `SELECT ` + recordColumns + `, (` + strings.Join(terms, " + ") + `) AS distance
FROM ambush_results
WHERE stock_code <> ?
ORDER BY distance ASC, id ASC
LIMIT ?`
	args = append(args, excludeCode, topK)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Record, 0, topK)
	for rows.Next() {
		var distance float64
		r, err := scanRecord(rows, &distance)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
