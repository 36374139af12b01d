package models

import (
	"gorm.io/gorm"
)

func MigrateDatabase(db *gorm.DB) error {
	return db.AutoMigrate(
		&MoneyAccount{},
		&Category{},
		&FinancialYear{},
		&Transaction{},
		&AccountYearBalance{},
		&YearClosingAudit{},
		&History{},
	)
}
