package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"mystra/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultLimit = 100
	maxLimit     = 1000
)

// ErrUnsupportedDriver is returned by Open for unknown drivers.
var ErrUnsupportedDriver = errors.New("indexer: unsupported driver")

// EventRecord is one committed marketplace event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Position   int64     `gorm:"uniqueIndex"`
	CallID     string    `gorm:"size:36;index"`
	BlockTime  uint64    `gorm:"index"`
	Sequence   int
	Type       string `gorm:"size:64;index"`
	Collection string `gorm:"size:80;index"`
	TokenID    string `gorm:"size:80;index"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// TableName pins the table name.
func (EventRecord) TableName() string { return "market_events" }

// Event is the query view of an indexed event.
type Event struct {
	CallID     string            `json:"callId"`
	BlockTime  uint64            `json:"blockTime"`
	Sequence   int               `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Filter narrows a query. Empty fields match everything.
type Filter struct {
	Type       string
	Collection string
	TokenID    string
	CallID     string
	Limit      int
}

// Open connects to the configured event database.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite:
		return gorm.Open(sqlite.Open(dsn), cfg)
	case DriverPostgres:
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// Indexer persists committed events and serves them back newest first.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger

	mu       sync.Mutex
	position int64
	failures int
}

// New migrates the schema and resumes numbering after the newest stored
// event.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	var last struct{ Position int64 }
	if err := db.Model(&EventRecord{}).Select("COALESCE(MAX(position), 0) AS position").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("indexer: load position: %w", err)
	}
	return &Indexer{db: db, logger: logger, position: last.Position}, nil
}

// Emit implements events.Emitter. Only committed events are stored; a failing
// insert is logged and counted.
func (i *Indexer) Emit(evt events.Event) {
	committed, ok := evt.(events.Committed)
	if !ok || committed.Payload == nil {
		return
	}
	if err := i.Store(context.Background(), committed); err != nil {
		i.mu.Lock()
		i.failures++
		i.mu.Unlock()
		i.logger.Error("index market event",
			slog.String("callId", committed.CallID),
			slog.String("type", committed.EventType()),
			slog.String("error", err.Error()))
	}
}

// Store writes one committed event.
func (i *Indexer) Store(ctx context.Context, committed events.Committed) error {
	if committed.Payload == nil {
		return errors.New("indexer: empty event")
	}
	attrs, err := json.Marshal(committed.Payload.Attributes)
	if err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	record := EventRecord{
		ID:         uuid.New(),
		Position:   i.position + 1,
		CallID:     committed.CallID,
		BlockTime:  committed.BlockTime,
		Sequence:   committed.Sequence,
		Type:       committed.Payload.Type,
		Collection: committed.Payload.Attributes["collection"],
		TokenID:    committed.Payload.Attributes["tokenId"],
		Attributes: string(attrs),
	}
	if err := i.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}
	i.position = record.Position
	return nil
}

// Failures reports how many events could not be stored.
func (i *Indexer) Failures() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.failures
}

// Query returns matching events, newest first.
func (i *Indexer) Query(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	q := i.db.WithContext(ctx).Model(&EventRecord{})
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Collection != "" {
		q = q.Where("collection = ?", filter.Collection)
	}
	if filter.TokenID != "" {
		q = q.Where("token_id = ?", filter.TokenID)
	}
	if filter.CallID != "" {
		q = q.Where("call_id = ?", filter.CallID)
	}
	var records []EventRecord
	if err := q.Order("position DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(records))
	for _, rec := range records {
		evt := Event{CallID: rec.CallID, BlockTime: rec.BlockTime, Sequence: rec.Sequence, Type: rec.Type}
		if err := json.Unmarshal([]byte(rec.Attributes), &evt.Attributes); err != nil {
			return nil, fmt.Errorf("indexer: decode attributes of %s: %w", rec.ID, err)
		}
		out = append(out, evt)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (i *Indexer) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
