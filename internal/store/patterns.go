package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fund-burying-backend/internal/analyzer"
)

// Patterns 模板库，按名称排序
func (s *Store) Patterns(ctx context.Context) ([]analyzer.AccumulationPattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, curve, success_rate FROM accumulation_patterns ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []analyzer.AccumulationPattern
	for rows.Next() {
		var p analyzer.AccumulationPattern
		var curve string
		if err := rows.Scan(&p.Name, &curve, &p.SuccessRate); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(curve), &p.Curve); err != nil {
			return nil, fmt.Errorf("形态 %s 曲线格式错误: %w", p.Name, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPattern 新增或更新模板
func (s *Store) UpsertPattern(ctx context.Context, p analyzer.AccumulationPattern) error {
	if err := validatePattern(p); err != nil {
		return err
	}
	curve, err := json.Marshal(p.Curve)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO accumulation_patterns (name, curve, success_rate, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET curve = excluded.curve, success_rate = excluded.success_rate, updated_at = excluded.updated_at`,
		p.Name, string(curve), p.SuccessRate, s.now().Format(time.RFC3339))
	return err
}

// DeletePattern 删除模板，不存在时返回 ErrNotFound
func (s *Store) DeletePattern(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accumulation_patterns WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedPatterns 仅在模板表为空时写入，返回写入条数
func (s *Store) SeedPatterns(ctx context.Context, patterns []analyzer.AccumulationPattern) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accumulation_patterns`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	for _, p := range patterns {
		if err := s.UpsertPattern(ctx, p); err != nil {
			return 0, err
		}
	}
	return len(patterns), nil
}

func validatePattern(p analyzer.AccumulationPattern) error {
	if p.Name == "" {
		return fmt.Errorf("形态名称不能为空")
	}
	if len(p.Curve) < 2 {
		return fmt.Errorf("形态 %s 至少需要2个点", p.Name)
	}
	if p.SuccessRate < 0 || p.SuccessRate > 1 {
		return fmt.Errorf("形态 %s 成功率必须在0-1之间", p.Name)
	}
	return nil
}
