package data

import (
	"time"

	"FuseGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewMySQLClient creates the GORM client backing the audit trail. An
// empty DSN disables audit persistence: the audit logger then degrades
// to a no-op and the gateway keeps running.
func NewMySQLClient(c *conf.Data, l log.Logger) (*gorm.DB, func(), error) {
	helper := log.NewHelper(l)

	if c == nil || c.Database == nil || c.Database.Source == "" {
		helper.Warn("database source is empty, audit persistence disabled")
		return nil, func() {}, nil
	}

	gormLogger := logger.New(
		&gormLogAdapter{helper: helper},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(mysql.Open(c.Database.Source), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		helper.Warnf("failed to connect to MySQL: %v (audit persistence disabled)", err)
		return nil, func() {}, nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		helper.Warnf("failed to get sql.DB: %v (audit persistence disabled)", err)
		return nil, func() {}, nil
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		helper.Warnf("failed to ping MySQL: %v (audit persistence disabled)", err)
		_ = sqlDB.Close()
		return nil, func() {}, nil
	}

	helper.Info("MySQL connection established successfully")

	cleanup := func() {
		helper.Info("closing MySQL connection")
		if err := sqlDB.Close(); err != nil {
			helper.Errorf("failed to close MySQL: %v", err)
		}
	}

	return db, cleanup, nil
}

// gormLogAdapter adapts Kratos log.Helper to the GORM logger interface.
type gormLogAdapter struct {
	helper *log.Helper
}

func (g *gormLogAdapter) Printf(format string, v ...interface{}) {
	g.helper.Infof(format, v...)
}
