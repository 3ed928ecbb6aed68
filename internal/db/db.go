package db

import (
	"fmt"
	"path/filepath"
	"strings"

	glebarez "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Handle struct {
	DB     *gorm.DB
	Path   string
	Driver string
}

// OpenAt opens the default pure-Go sqlite database inside dir.
func OpenAt(dir string) (*Handle, error) {
	return Open("sqlite", filepath.Join(dir, "pcmcatalog.db"))
}

// Open opens a database for one of the supported drivers:
// sqlite (pure Go), sqlite3 (cgo), mysql, postgres.
func Open(driver, dsn string) (*Handle, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		dialector = glebarez.Open(sqliteDSN(dsn))
	case "sqlite3":
		dialector = sqlite.Open(sqliteDSN(dsn))
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		driver = "postgres"
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent), // logger.Info for verbose SQL
	})
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" || driver == "sqlite3" {
		// sqlite has a single writer; one connection avoids SQLITE_BUSY between our own goroutines
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return &Handle{DB: gdb, Path: dsn, Driver: driver}, nil
}

func (h *Handle) Close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
