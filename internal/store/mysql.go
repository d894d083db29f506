package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"english-eval-go/internal/config"
	"english-eval-go/internal/evalerr"
	"english-eval-go/internal/logger"
	"english-eval-go/internal/types"
)

// OpenMySQL connects with the configured pool settings. Only the
// evaluation tables are migrated; the employee table belongs to another
// system.
func OpenMySQL(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is not set")
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.ConnectionLifetime)

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&evaluationRow{}, &reportRow{}); err != nil {
			return nil, fmt.Errorf("migrating evaluation tables: %w", err)
		}
		logger.Component("store").Info("evaluation tables migrated")
	}
	return db, nil
}

type GormStore struct {
	db  *gorm.DB
	loc *time.Location
}

func NewGormStore(db *gorm.DB, loc *time.Location) *GormStore {
	if loc == nil {
		loc = time.UTC
	}
	return &GormStore{db: db, loc: loc}
}

func (s *GormStore) CreateEvaluation(ctx context.Context, ev types.Evaluation) error {
	row := toEvaluationRow(ev)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return evalerr.Persistence("creating evaluation", err)
	}
	return nil
}

func (s *GormStore) MarkTranscribed(ctx context.Context, id uuid.UUID, transcript string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&evaluationRow{}).
		Where("id = ? AND status = ?", id, types.StatusPending).
		Updates(map[string]any{
			"status":        string(types.StatusTranscribed),
			"transcription": transcript,
			"updated_at":    at,
		})
	if res.Error != nil {
		return evalerr.Persistence("marking evaluation transcribed", res.Error)
	}
	if res.RowsAffected != 1 {
		return evalerr.Persistence("marking evaluation transcribed", ErrStatusConflict)
	}
	return nil
}

// SaveEvaluated locks the evaluation row, moves it from transcribed to
// evaluated and inserts the report. Either both are committed or neither.
func (s *GormStore) SaveEvaluated(ctx context.Context, id uuid.UUID, transcript string, report types.Report, at time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current evaluationRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "employee_id", "status").
			First(&current, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if !types.Status(current.Status).CanAdvanceTo(types.StatusEvaluated) {
			return fmt.Errorf("%w: %s -> evaluated", ErrStatusConflict, current.Status)
		}

		if err := tx.Model(&evaluationRow{}).Where("id = ?", id).Updates(map[string]any{
			"status":        string(types.StatusEvaluated),
			"transcription": transcript,
			"updated_at":    at,
			"updated_by":    current.EmployeeID,
		}).Error; err != nil {
			return fmt.Errorf("updating evaluation: %w", err)
		}

		row, err := toReportRow(report, current.EmployeeID)
		if err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return fmt.Errorf("inserting report: %w", err)
		}
		return nil
	})
	if err != nil {
		return evalerr.Persistence("saving evaluated report", err)
	}
	return nil
}

func (s *GormStore) MarkFailed(ctx context.Context, id uuid.UUID, f Failure, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&evaluationRow{}).
		Where("id = ? AND status IN ?", id, []string{string(types.StatusPending), string(types.StatusTranscribed)}).
		Updates(map[string]any{
			"status":         string(types.StatusFailed),
			"failure_stage":  f.Stage,
			"failure_kind":   f.Kind,
			"failure_reason": truncateReason(f.Reason),
			"updated_at":     at,
		})
	if res.Error != nil {
		return evalerr.Persistence("marking evaluation failed", res.Error)
	}
	if res.RowsAffected != 1 {
		return evalerr.Persistence("marking evaluation failed", ErrStatusConflict)
	}
	return nil
}

func (s *GormStore) GetEvaluation(ctx context.Context, id uuid.UUID) (Record, error) {
	var row evaluationRow
	err := s.db.WithContext(ctx).Preload("Report").First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, evalerr.Persistence("loading evaluation", err)
	}
	return s.toRecord(row)
}

func (s *GormStore) ListEvaluated(ctx context.Context, limit int) ([]Record, error) {
	q := s.db.WithContext(ctx).Preload("Report").
		Where("status = ?", types.StatusEvaluated).
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []evaluationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, evalerr.Persistence("listing evaluations", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := s.toRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) toRecord(row evaluationRow) (Record, error) {
	rec := Record{Evaluation: row.toEvaluation(s.loc)}
	if row.Report != nil {
		rep, err := row.Report.toReport(s.loc)
		if err != nil {
			return Record{}, evalerr.Persistence("decoding report", err)
		}
		rec.Report = &rep
	}
	return rec, nil
}
