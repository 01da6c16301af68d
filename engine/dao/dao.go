package dao

import (
	"github.com/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
	"xorm.io/xorm"

	"github.com/chenyingqiao/pipeline-engine/engine/config"
)

// DAO 构建数据访问层，所有运行时记录都从这里读写
type DAO struct {
	DB *xorm.Engine
}

// New 初始化数据库连接并同步表结构
func New(cfg config.Database) (*DAO, error) {
	db, err := xorm.NewEngine(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "数据库连接失败")
	}
	db.ShowSQL(cfg.ShowSQL)
	err = db.Sync2(
		new(BuildRecord),
		new(StageRecord),
		new(ContainerRecord),
		new(TaskRecord),
		new(SummaryRecord),
		new(VariableRecord),
		new(DetailRecord),
	)
	if err != nil {
		return nil, errors.Wrap(err, "同步表结构失败")
	}
	return &DAO{DB: db}, nil
}

// Close 关闭底层连接
func (d *DAO) Close() error {
	return d.DB.Close()
}

// DeleteBuild 级联删除一次构建的全部记录
func (d *DAO) DeleteBuild(buildID string) error {
	_, err := d.DB.Transaction(func(session *xorm.Session) (interface{}, error) {
		for _, bean := range []interface{}{
			new(TaskRecord),
			new(ContainerRecord),
			new(StageRecord),
			new(VariableRecord),
			new(DetailRecord),
			new(BuildRecord),
		} {
			if _, err := session.Where("build_id = ?", buildID).Delete(bean); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return errors.Wrapf(err, "删除构建记录失败 %s", buildID)
}
