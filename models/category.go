package models

import (
	"context"
	"errors"
	"time"

	"github.com/okkarsoft/moneybook_backend/config"
	"github.com/okkarsoft/moneybook_backend/utils"
)

// Category classifies income/expense transactions.
// Closing a financial year requires every transaction to be categorized.
type Category struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TenantId        string          `gorm:"index;not null" json:"tenant_id"`
	Name            string          `gorm:"index;size:100;not null" json:"name" binding:"required"`
	TransactionType TransactionType `gorm:"type:enum('income','expense');size:10;not null" json:"transaction_type" binding:"required"`
	Description     string          `gorm:"type:text" json:"description"`
	IsActive        *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCategory struct {
	Name            string          `json:"name" binding:"required"`
	TransactionType TransactionType `json:"transaction_type" binding:"required,transactiontype"`
	Description     string          `json:"description"`
}

func (input *NewCategory) validate(ctx context.Context, tenantId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Category](ctx, tenantId, id); err != nil {
			return err
		}
	}
	if !input.TransactionType.Valid() {
		return errors.New("invalid transaction type")
	}
	if err := utils.ValidateUnique[Category](ctx, tenantId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateCategory(ctx context.Context, input *NewCategory) (*Category, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	if err := input.validate(ctx, tenantId, 0); err != nil {
		return nil, err
	}
	category := Category{
		TenantId:        tenantId,
		Name:            input.Name,
		TransactionType: input.TransactionType,
		Description:     input.Description,
		IsActive:        utils.NewTrue(),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&category).Error
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func UpdateCategory(ctx context.Context, id int, input *NewCategory) (*Category, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	category, err := utils.FetchModel[Category](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&category).Updates(map[string]interface{}{
		"Name":            input.Name,
		"TransactionType": input.TransactionType,
		"Description":     input.Description,
	}).Error
	if err != nil {
		return nil, err
	}
	return category, nil
}

func DeleteCategory(ctx context.Context, id int) (*Category, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}
	result, err := utils.FetchModel[Category](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	// Transactions keep their rows but lose the category; they become
	// blockers for the next year closing, which is intended.
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&Transaction{}).
		Where("tenant_id = ? AND category_id = ?", tenantId, id).
		Update("category_id", nil).Error
	if err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}

	return result, nil
}

func GetCategories(ctx context.Context, transactionType *TransactionType) ([]*Category, error) {

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, errors.New("tenant id is required")
	}

	db := config.GetDB()
	var results []*Category
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if transactionType != nil && *transactionType != "" {
		dbCtx = dbCtx.Where("transaction_type = ?", *transactionType)
	}
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
