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

// AttemptRecord 表示一次雇佣尝试的落库结构。
type AttemptRecord struct {
	ID         string `json:"id"`
	Agent      string `json:"agent"`
	Worker     string `json:"worker"`
	Wage       string `json:"wage"`
	Phase      string `json:"phase"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
	ApproveTx  string `json:"approve_tx,omitempty"`
	DepositTx  string `json:"deposit_tx,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}

// AttemptRepository 抽象雇佣记录的持久化接口。
type AttemptRepository interface {
	Save(ctx context.Context, record AttemptRecord) error
	ListLatest(ctx context.Context, limit int) ([]AttemptRecord, error)
	Close() error
}

const memoryRecordLimit = 512

// MemoryAttemptRepository 以 JSON 行文件追加写入，内存中保留最近的记录。
type MemoryAttemptRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []AttemptRecord
}

// NewMemoryAttemptRepository 创建基于本地文件的雇佣记录仓库。
func NewMemoryAttemptRepository(dataDir string) (*MemoryAttemptRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryAttemptRepository{dataFile: filepath.Join(dataDir, "attempts.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录雇佣结果。
func (m *MemoryAttemptRepository) Save(_ context.Context, record AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开雇佣日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化雇佣记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入雇佣日志失败: %w", err)
	}

	m.records = append([]AttemptRecord{record}, m.records...)
	if len(m.records) > memoryRecordLimit {
		m.records = m.records[:memoryRecordLimit]
	}
	return nil
}

// ListLatest 返回最近的雇佣记录，按时间倒序排列。
func (m *MemoryAttemptRepository) ListLatest(_ context.Context, limit int) ([]AttemptRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]AttemptRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 对文件仓库无需操作。
func (m *MemoryAttemptRepository) Close() error { return nil }

func (m *MemoryAttemptRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取雇佣日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []AttemptRecord
	for scanner.Scan() {
		var record AttemptRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]AttemptRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析雇佣日志失败: %w", err)
	}
	if len(restored) > memoryRecordLimit {
		restored = restored[:memoryRecordLimit]
	}
	m.records = restored
	return nil
}

// SQLAttemptRepository 使用 MySQL 存储雇佣记录。
type SQLAttemptRepository struct {
	db *sql.DB
}

// NewSQLAttemptRepository 建立连接池并执行迁移。
func NewSQLAttemptRepository(ctx context.Context, cfg Config) (*SQLAttemptRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLAttemptRepository{db: db}, nil
}

const insertAttemptSQL = `INSERT INTO hire_attempts
    (id, agent, worker, wage, phase, code, error_message, approve_tx, deposit_tx, task_id, started_at, finished_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectAttemptsSQL = `SELECT id, agent, worker, wage, phase, code, error_message, approve_tx, deposit_tx, task_id, started_at, finished_at
    FROM hire_attempts ORDER BY started_at DESC, id DESC LIMIT ?`

// Save 将雇佣记录写入 MySQL。
func (s *SQLAttemptRepository) Save(ctx context.Context, record AttemptRecord) error {
	if _, err := s.db.ExecContext(ctx, insertAttemptSQL,
		record.ID,
		record.Agent,
		record.Worker,
		record.Wage,
		record.Phase,
		record.Code,
		record.Error,
		record.ApproveTx,
		record.DepositTx,
		record.TaskID,
		record.StartedAt,
		record.FinishedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条雇佣记录。
func (s *SQLAttemptRepository) ListLatest(ctx context.Context, limit int) ([]AttemptRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectAttemptsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("查询雇佣记录失败: %w", err)
	}
	defer rows.Close()

	var records []AttemptRecord
	for rows.Next() {
		var r AttemptRecord
		if err := rows.Scan(&r.ID, &r.Agent, &r.Worker, &r.Wage, &r.Phase, &r.Code, &r.Error,
			&r.ApproveTx, &r.DepositTx, &r.TaskID, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("解析雇佣记录失败: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历雇佣记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLAttemptRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Open 根据驱动名称创建仓库，memory 写入 dataDir 下的 attempts.log。
func Open(ctx context.Context, driver string, cfg Config, dataDir string) (AttemptRepository, error) {
	switch driver {
	case "", "memory":
		return NewMemoryAttemptRepository(dataDir)
	case "mysql":
		return NewSQLAttemptRepository(ctx, cfg)
	default:
		return nil, fmt.Errorf("暂不支持的存储驱动: %s", driver)
	}
}
