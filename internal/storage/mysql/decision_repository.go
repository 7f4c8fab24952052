package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// maxCachedDecisions 限制内存仓库保留的记录数量。
const maxCachedDecisions = 512

// DecisionRecord 表示智能体一次被接受的投放决策。
type DecisionRecord struct {
	ID          int64  `json:"id"`
	Brand       string `json:"brand"`
	Style       string `json:"style"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	PlacementID string `json:"placementId"`
	ImageID     string `json:"imageId"`
	CostAtomic  int64  `json:"costAtomic"`
	Summary     string `json:"summary"`
	CreatedAt   int64  `json:"createdAt"`
}

// DecisionRepository 抽象决策日志的持久化接口。
type DecisionRepository interface {
	Save(ctx context.Context, record *DecisionRecord) error
	// ListLatest 按时间倒序返回最近的记录。
	ListLatest(ctx context.Context, limit int) ([]DecisionRecord, error)
	Close() error
}

// MemoryDecisionRepository 以 JSON Lines 文件保存决策，适合本地开发。
type MemoryDecisionRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []DecisionRecord
	nextID   int64
}

// NewMemoryDecisionRepository 创建文件仓库并加载已有记录。
func NewMemoryDecisionRepository(dataDir string) (*MemoryDecisionRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryDecisionRepository{dataFile: filepath.Join(dataDir, "decisions.log"), nextID: 1}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录决策。
func (m *MemoryDecisionRepository) Save(_ context.Context, record *DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.ID = m.nextID
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化决策记录失败: %w", err)
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开决策日志失败: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入决策日志失败: %w", err)
	}

	m.nextID++
	m.records = append([]DecisionRecord{*record}, m.records...)
	if len(m.records) > maxCachedDecisions {
		m.records = m.records[:maxCachedDecisions]
	}
	return nil
}

// ListLatest 返回最近的决策记录，按时间倒序排列。
func (m *MemoryDecisionRepository) ListLatest(_ context.Context, limit int) ([]DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]DecisionRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 满足 DecisionRepository 接口。
func (m *MemoryDecisionRepository) Close() error { return nil }

func (m *MemoryDecisionRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取决策日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []DecisionRecord
	for scanner.Scan() {
		var record DecisionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID >= m.nextID {
			m.nextID = record.ID + 1
		}
		restored = append([]DecisionRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析决策日志失败: %w", err)
	}
	if len(restored) > maxCachedDecisions {
		restored = restored[:maxCachedDecisions]
	}
	m.records = restored
	return nil
}

// SQLDecisionRepository 使用 MySQL 存储决策日志。
type SQLDecisionRepository struct {
	db *sql.DB
}

// NewSQLDecisionRepository 建立连接池并执行迁移。
func NewSQLDecisionRepository(ctx context.Context, cfg Config) (*SQLDecisionRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLDecisionRepository{db: db}, nil
}

const insertDecisionSQL = `INSERT INTO agent_decisions
    (brand, style, width, height, x, y, placement_id, image_id, cost_atomic, summary, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const listDecisionsSQL = `SELECT id, brand, style, width, height, x, y, placement_id, image_id, cost_atomic, summary, created_at
    FROM agent_decisions ORDER BY created_at DESC, id DESC LIMIT ?`

// Save 将决策写入 MySQL。
func (s *SQLDecisionRepository) Save(ctx context.Context, record *DecisionRecord) error {
	result, err := s.db.ExecContext(ctx, insertDecisionSQL,
		record.Brand,
		record.Style,
		record.Width,
		record.Height,
		record.X,
		record.Y,
		record.PlacementID,
		record.ImageID,
		record.CostAtomic,
		record.Summary,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

// ListLatest 查询最近的若干条决策。
func (s *SQLDecisionRepository) ListLatest(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, listDecisionsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("查询决策记录失败: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		if err := rows.Scan(&r.ID, &r.Brand, &r.Style, &r.Width, &r.Height, &r.X, &r.Y,
			&r.PlacementID, &r.ImageID, &r.CostAtomic, &r.Summary, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析决策记录失败: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历决策记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLDecisionRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ DecisionRepository = (*MemoryDecisionRepository)(nil)
	_ DecisionRepository = (*SQLDecisionRepository)(nil)
)
