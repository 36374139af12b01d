package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/okkarsoft/moneybook_backend/middlewares"
	"github.com/okkarsoft/moneybook_backend/models"
	"github.com/okkarsoft/moneybook_backend/utils"
	"github.com/okkarsoft/moneybook_backend/workflow"
)

// httpStatusOf maps core sentinel errors to HTTP statuses.
func httpStatusOf(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrorPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, utils.ErrorDateRangeOverlap),
		errors.Is(err, utils.ErrorAlreadyClosed),
		errors.Is(err, utils.ErrorSequenceViolation):
		return http.StatusConflict
	case errors.Is(err, utils.ErrorValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, utils.ErrorTenantBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, utils.ErrorCalculationFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(httpStatusOf(err), gin.H{"error": err.Error()})
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func registerRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", middlewares.RequireSession())

	years := api.Group("/financial-years")
	{
		years.GET("", listFinancialYearsHandler)
		years.GET("/current", currentFinancialYearHandler)
		years.GET("/:id", getFinancialYearHandler)
		years.GET("/:id/stats", financialYearStatsHandler)
		years.POST("", createFinancialYearHandler)
		years.PUT("/:id", updateFinancialYearHandler)
		years.DELETE("/:id", deleteFinancialYearHandler)
		years.POST("/:id/set-current", setCurrentFinancialYearHandler)
		years.GET("/:id/validate-closing", validateClosingHandler)
		years.POST("/:id/close", closeFinancialYearHandler)
		years.POST("/:id/recalculate", recalculateHandler)
		years.GET("/:id/balances", yearBalancesHandler)
		years.GET("/:id/audits", yearAuditsHandler)
		years.GET("/:id/histories", yearHistoriesHandler)
	}

	txns := api.Group("/transactions")
	{
		txns.GET("", listTransactionsHandler)
		txns.GET("/:id", getTransactionHandler)
		txns.POST("", createTransactionHandler)
		txns.PUT("/:id", updateTransactionHandler)
		txns.DELETE("/:id", deleteTransactionHandler)
	}

	accounts := api.Group("/accounts")
	{
		accounts.GET("", listAccountsHandler)
		accounts.GET("/:id", getAccountHandler)
		accounts.POST("", createAccountHandler)
		accounts.PUT("/:id", updateAccountHandler)
		accounts.DELETE("/:id", deleteAccountHandler)
		accounts.POST("/:id/toggle-active", toggleAccountHandler)
	}

	categories := api.Group("/categories")
	{
		categories.GET("", listCategoriesHandler)
		categories.POST("", createCategoryHandler)
		categories.PUT("/:id", updateCategoryHandler)
		categories.DELETE("/:id", deleteCategoryHandler)
	}
}

func listFinancialYearsHandler(c *gin.Context) {
	years, err := models.GetFinancialYears(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, years)
}

func currentFinancialYearHandler(c *gin.Context) {
	year, err := models.GetCurrentFinancialYear(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, year)
}

func getFinancialYearHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	year, err := models.GetFinancialYear(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, year)
}

func financialYearStatsHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	stats, err := models.GetFinancialYearStats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func createFinancialYearHandler(c *gin.Context) {
	var input models.NewFinancialYear
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	year, err := models.CreateFinancialYear(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, year)
}

func updateFinancialYearHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.UpdateFinancialYearInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	year, err := models.UpdateFinancialYear(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, year)
}

func deleteFinancialYearHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	year, err := models.DeleteFinancialYear(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, year)
}

func setCurrentFinancialYearHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	year, err := models.SetCurrentFinancialYear(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, year)
}

func validateClosingHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	validation, err := workflow.ValidateYearClosing(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, validation)
}

func closeFinancialYearHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input workflow.CloseYearInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ctx, span := tracer.Start(c.Request.Context(), "closeFinancialYear")
	defer span.End()
	result, err := workflow.CloseFinancialYear(ctx, id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func recalculateHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input struct {
		AccountIds []int `json:"account_ids"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ctx, span := tracer.Start(c.Request.Context(), "recalculateBalances")
	defer span.End()
	result, err := workflow.Recalculate(ctx, id, input.AccountIds)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func yearBalancesHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	balances, err := models.GetYearBalances(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balances)
}

func yearAuditsHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	audits, err := models.GetYearClosingAudits(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, audits)
}

func yearHistoriesHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	histories, err := models.GetHistories(c.Request.Context(), "FinancialYear", id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, histories)
}

func listTransactionsHandler(c *gin.Context) {
	var filter models.TransactionFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	txns, err := models.GetTransactions(c.Request.Context(), &filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

func getTransactionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	txn, err := models.GetTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func createTransactionHandler(c *gin.Context) {
	var input models.NewTransaction
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	txn, err := workflow.CreateTransaction(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

func updateTransactionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.UpdateTransactionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	txn, err := workflow.UpdateTransaction(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func deleteTransactionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	txn, err := workflow.DeleteTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

func listAccountsHandler(c *gin.Context) {
	accountType := c.Query("account_type")
	accountName := c.Query("account_name")
	accounts, err := models.GetMoneyAccounts(c.Request.Context(), &accountType, &accountName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func getAccountHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	account, err := models.GetMoneyAccount(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func createAccountHandler(c *gin.Context) {
	var input models.NewMoneyAccount
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := models.CreateMoneyAccount(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func updateAccountHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewMoneyAccount
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := models.UpdateMoneyAccount(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func deleteAccountHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	account, err := models.DeleteMoneyAccount(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func toggleAccountHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := models.ToggleActiveMoneyAccount(c.Request.Context(), id, body.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func listCategoriesHandler(c *gin.Context) {
	var transactionType *models.TransactionType
	if v := c.Query("transaction_type"); v != "" {
		t, err := models.ParseTransactionType(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		transactionType = &t
	}
	categories, err := models.GetCategories(c.Request.Context(), transactionType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func createCategoryHandler(c *gin.Context) {
	var input models.NewCategory
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	category, err := models.CreateCategory(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func updateCategoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input models.NewCategory
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	category, err := models.UpdateCategory(c.Request.Context(), id, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func deleteCategoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	category, err := models.DeleteCategory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}
