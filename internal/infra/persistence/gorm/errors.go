package gormpersistence

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"planning-poker/internal/repository"
)

const (
	mysqlDuplicateEntry    = 1062
	postgresUniqueViolated = "23505"
)

// isDuplicateEntryError 识别 MySQL 与 PostgreSQL 的唯一约束冲突
func isDuplicateEntryError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolated
}

// translate 将驱动错误映射为仓库错误，其余错误附带操作描述后返回
func translate(err error, op string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	if isDuplicateEntryError(err) {
		return repository.ErrDuplicateEntry
	}
	return fmt.Errorf("gorm: %s: %w", fmt.Sprintf(op, args...), err)
}
