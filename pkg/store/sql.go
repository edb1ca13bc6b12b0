package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const orderSeqName = "order_id"

type userRow struct {
	Username     string `gorm:"column:username;primaryKey"`
	PasswordHash []byte `gorm:"column:password_hash"`
}

func (userRow) TableName() string { return "users" }

type orderRow struct {
	ID        uint64          `gorm:"column:id;primaryKey"`
	Side      string          `gorm:"column:side"`
	Owner     string          `gorm:"column:owner"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(32,8)"`
	Quantity  int64           `gorm:"column:quantity"`
	Remaining int64           `gorm:"column:remaining"`
	CreatedAt time.Time       `gorm:"column:created_at"`
}

func (orderRow) TableName() string { return "orders" }

type sequenceRow struct {
	Name  string `gorm:"column:name;primaryKey"`
	Value uint64 `gorm:"column:value"`
}

func (sequenceRow) TableName() string { return "sequences" }

// SQLStore is the Postgres backend. A Mutation commits as one database
// transaction.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Apply(ctx context.Context, m Mutation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range m.PutUsers {
			row := userRow{Username: u.Username, PasswordHash: u.PasswordHash}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "username"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return fmt.Errorf("put user %s: %w", u.Username, err)
			}
		}
		for _, o := range m.PutOrders {
			row := orderRow(o)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(&row).Error; err != nil {
				return fmt.Errorf("put order %d: %w", o.ID, err)
			}
		}
		if len(m.DelOrders) > 0 {
			if err := tx.Where("id IN ?", m.DelOrders).Delete(&orderRow{}).Error; err != nil {
				return fmt.Errorf("delete orders: %w", err)
			}
		}
		if m.Seq > 0 {
			row := sequenceRow{Name: orderSeqName, Value: m.Seq}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "name"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"value": gorm.Expr("GREATEST(sequences.value, EXCLUDED.value)"),
				}),
			}).Create(&row).Error; err != nil {
				return fmt.Errorf("advance sequence: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	var users []userRow
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		snap.Users = append(snap.Users, UserRecord{Username: u.Username, PasswordHash: u.PasswordHash})
	}

	var orders []orderRow
	if err := s.db.WithContext(ctx).Order("id asc").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	for _, o := range orders {
		snap.Orders = append(snap.Orders, OrderRecord(o))
	}

	var seq sequenceRow
	err := s.db.WithContext(ctx).Where("name = ?", orderSeqName).Take(&seq).Error
	switch err {
	case nil:
		snap.LastSeq = seq.Value
	case gorm.ErrRecordNotFound:
	default:
		return nil, fmt.Errorf("load sequence: %w", err)
	}

	return snap, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
