package utils

import (
	"context"
	"errors"

	"github.com/okkarsoft/moneybook_backend/config"
)

func ResourceCountWhere[T any](ctx context.Context, tenantId string, cond string, values ...interface{}) (int64, error) {
	db := config.GetDB()
	var model T
	var count int64
	err := db.WithContext(ctx).Model(&model).
		Where("tenant_id = ?", tenantId).
		Where(cond, values...).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// check if id exists, using ctx's tenant_id in WHERE, return RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, tenantId string, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, tenantId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

// check field value is unique within the tenant (id = 0 for create,
// otherwise the row being updated is excluded)
func ValidateUnique[T any](ctx context.Context, tenantId string, fieldName string, value interface{}, id int) error {

	count, err := ResourceCountWhere[T](ctx, tenantId, fieldName+" = ? AND id != ?", value, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New(fieldName + " already exists")
	}
	return nil
}
