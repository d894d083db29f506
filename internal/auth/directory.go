package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"

	"english-eval-go/internal/types"
)

// employeeRow is the read-only view of the employee table. It is never
// passed to AutoMigrate.
type employeeRow struct {
	ID       int64  `gorm:"primaryKey"`
	Email    string `gorm:"column:email"`
	IsActive bool   `gorm:"column:isactive"`
}

func (employeeRow) TableName() string { return "employee" }

type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) ActiveByEmail(ctx context.Context, email string) (types.EmployeeRef, error) {
	var row employeeRow
	err := d.db.WithContext(ctx).
		Where("LOWER(email) = ? AND isactive = ?", strings.ToLower(strings.TrimSpace(email)), true).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.EmployeeRef{}, ErrEmployeeNotFound
	}
	if err != nil {
		return types.EmployeeRef{}, fmt.Errorf("looking up employee: %w", err)
	}
	return types.EmployeeRef{ID: row.ID, Email: row.Email}, nil
}

func (d *GormDirectory) ActiveByID(ctx context.Context, id int64) (types.EmployeeRef, error) {
	var row employeeRow
	err := d.db.WithContext(ctx).Where("id = ? AND isactive = ?", id, true).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.EmployeeRef{}, ErrEmployeeNotFound
	}
	if err != nil {
		return types.EmployeeRef{}, fmt.Errorf("looking up employee: %w", err)
	}
	return types.EmployeeRef{ID: row.ID, Email: row.Email}, nil
}

// Employee is a directory entry for MemoryDirectory.
type Employee struct {
	ID     int64
	Email  string
	Active bool
}

// MemoryDirectory is an in-process Directory for local runs and tests.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byEmail map[string]Employee
}

func NewMemoryDirectory(employees ...Employee) *MemoryDirectory {
	d := &MemoryDirectory{byEmail: make(map[string]Employee, len(employees))}
	for _, e := range employees {
		d.byEmail[strings.ToLower(e.Email)] = e
	}
	return d
}

func (d *MemoryDirectory) ActiveByEmail(_ context.Context, email string) (types.EmployeeRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok || !e.Active {
		return types.EmployeeRef{}, ErrEmployeeNotFound
	}
	return types.EmployeeRef{ID: e.ID, Email: e.Email}, nil
}

func (d *MemoryDirectory) ActiveByID(_ context.Context, id int64) (types.EmployeeRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.byEmail {
		if e.ID == id && e.Active {
			return types.EmployeeRef{ID: e.ID, Email: e.Email}, nil
		}
	}
	return types.EmployeeRef{}, ErrEmployeeNotFound
}
