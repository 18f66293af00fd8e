package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Scenario is the scenarios table as created by the initial migration.
// Pipelines declares the pipelines.scenario_id foreign key; gorm would read a
// Pipeline.Scenario field as has-one because both tables carry scenario_id.
type Scenario struct {
	ScenarioID           int64  `gorm:"column:scenario_id;primaryKey;autoIncrement:false"`
	Name                 string `gorm:"type:text;not null"`
	TerminalAfterSeconds *int64
	TerminalStatus       string     `gorm:"type:text;not null"`
	NeverComplete        bool       `gorm:"not null"`
	Pipelines            []Pipeline `gorm:"foreignKey:ScenarioID;references:ScenarioID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// Pipeline is the pipelines table as created by the initial migration.
type Pipeline struct {
	ID                   int64          `gorm:"primaryKey;autoIncrement"`
	ProjectID            int64          `gorm:"not null;index"`
	Ref                  string         `gorm:"type:text;not null"`
	SHA                  string         `gorm:"column:sha;type:text;not null"`
	Status               string         `gorm:"type:text;not null"`
	VariablesJSON        datatypes.JSON `gorm:"column:variables_json;type:text"`
	ScenarioID           *int64         `gorm:"index"`
	TerminalAfterSeconds *int64
	TerminalStatus       *string   `gorm:"type:text"`
	CreatedAt            time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt            time.Time `gorm:"not null;autoUpdateTime:false"`
}

// All returns the ordered migrations for the given gorm dialect name.
func All(dialect string) []*goose.Migration {
	return []*goose.Migration{
		goose.NewGoMigration(1,
			&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error { return upInit(ctx, tx, dialect) }},
			&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error { return downInit(ctx, tx, dialect) }},
		),
	}
}

func openTx(tx *sql.Tx, dialect string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if dialect == "postgres" {
		dialector = postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true})
	} else {
		dialector = &sqlite.Dialector{Conn: tx}
	}

	return gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx, dialect string) error {
	gormDB, err := openTx(tx, dialect)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Scenario{},
		&Pipeline{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx, dialect string) error {
	gormDB, err := openTx(tx, dialect)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Pipeline{},
		&Scenario{},
	)
}
