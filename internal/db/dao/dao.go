package dao

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

/*
DAO 统一 GORM 数据访问对象
功能：提供所有数据库操作的 GORM 实现。
所有 handler 和 service 通过 DAO 访问权威存储。
*/
type DAO struct {
	DB     *gorm.DB
	logger *zap.Logger
}

/*
New 创建 DAO 实例
*/
func New(db *gorm.DB) *DAO {
	return &DAO{
		DB:     db,
		logger: zap.L().Named("dao"),
	}
}

/*
Transaction 在事务中执行多个数据库操作
功能：自动提交成功的事务，自动回滚失败的事务。
fn 内通过 txDAO 执行的所有操作共享同一事务。
*/
func (d *DAO) Transaction(fn func(txDAO *DAO) error) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		txDAO := &DAO{DB: tx, logger: d.logger}
		return fn(txDAO)
	})
}
