package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/okkarsoft/moneybook_backend/utils"
)

func TestRecalculateRequiresAdmin(t *testing.T) {
	ctx := utils.SetTenantIdInContext(context.Background(), "tenant-1")

	if _, err := Recalculate(ctx, 1, nil); !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Fatalf("expected ErrorPermissionDenied for a member session, got %v", err)
	}

	memberCtx := utils.SetIsAdminInContext(ctx, false)
	if _, err := Recalculate(memberCtx, 1, nil); !errors.Is(err, utils.ErrorPermissionDenied) {
		t.Fatalf("expected ErrorPermissionDenied, got %v", err)
	}
}
