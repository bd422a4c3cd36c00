// Package testdb 提供測試用的 in-memory SQLite 資料庫與資料建立工具
package testdb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"carbid/models"
)

// Open 建立一個已完成 migration 的 in-memory 資料庫
// 連線池限制為一條，讓所有查詢看到同一個 in-memory 資料庫
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err, "failed to initialize test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db), "failed to migrate tables")
	return db
}

// Bidder 建立一個競標者帳號
func Bidder(t *testing.T, db *gorm.DB, approved bool) models.Account {
	t.Helper()
	return Account(t, db, models.RoleBidder, approved)
}

// Account 建立指定角色的帳號
func Account(t *testing.T, db *gorm.DB, role models.Role, approved bool) models.Account {
	t.Helper()
	id := uuid.New()
	account := models.Account{
		Email:        id.String() + "@example.com",
		Name:         "user-" + id.String()[:8],
		Role:         role,
		UserType:     models.UserTypeIndividual,
		Approved:     approved,
		PasswordHash: "x",
	}
	require.NoError(t, db.Create(&account).Error)
	return account
}

// OpenLot 建立一個已核准、進行中的批次，內含一台競標期間為 [start, end] 的車輛
func OpenLot(t *testing.T, db *gorm.DB, start, end time.Time) (models.Lot, models.Car) {
	t.Helper()
	lot := Lot(t, db, models.LotStatusActive, true)
	car := Car(t, db, lot.ID, models.CarStatusActive, start, end)
	return lot, car
}

// Lot 建立一個批次
func Lot(t *testing.T, db *gorm.DB, status models.LotStatus, approved bool) models.Lot {
	t.Helper()
	lot := models.Lot{
		LotNumber:    "LOT-" + uuid.NewString()[:8],
		Status:       status,
		Approved:     approved,
		UploadedByID: uuid.New(),
	}
	require.NoError(t, db.Create(&lot).Error)
	return lot
}

// Car 在批次下建立一台開放出價的車輛
func Car(t *testing.T, db *gorm.DB, lotID uuid.UUID, status models.CarStatus, start, end time.Time) models.Car {
	t.Helper()
	car := models.Car{
		LotID:            lotID,
		ChassisNo:        "CH-" + uuid.NewString()[:8],
		MakeModel:        "Toyota Land Cruiser",
		Year:             2019,
		Km:               84000,
		Status:           status,
		BiddingEnabled:   true,
		BiddingStartDate: start.UTC(),
		BiddingEndDate:   end.UTC(),
	}
	require.NoError(t, db.Create(&car).Error)
	return car
}
