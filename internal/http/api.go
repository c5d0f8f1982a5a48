package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pedrosanto90/finance-tracker-rest-api/internal/auth"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/domain"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/repository"
	"github.com/pedrosanto90/finance-tracker-rest-api/internal/service"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	users    service.UserService
	expenses service.ExpenseService
	tokens   *auth.TokenCodec
	logger   *logrus.Logger
}

func NewHandler(users service.UserService, expenses service.ExpenseService, tokens *auth.TokenCodec, logger *logrus.Logger) *Handler {
	return &Handler{
		users:    users,
		expenses: expenses,
		tokens:   tokens,
		logger:   logger,
	}
}

// RegisterRoutes installs the route table. The guard ordering is explicit:
// RequireAuth always runs before RequireExpenseOwner / RequireSelf.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestLogger(h.logger))
	router.Use(corsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	router.POST("/users", h.register)
	router.POST("/users/auth/login", h.login)

	users := router.Group("/users", RequireAuth(h.tokens, h.logger), RequireSelf())
	{
		users.GET("/:id", h.getUser)
		users.PUT("/:id", h.changePassword)
		users.DELETE("/:id/delete", h.deleteUser)
	}

	expenses := router.Group("/expenses", RequireAuth(h.tokens, h.logger))
	{
		expenses.POST("", h.createExpense)
		expenses.GET("", h.listExpenses)
		expenses.POST("/export", h.exportExpenses)
		expenses.GET("/export", h.listExports)

		owned := expenses.Group("/:id", RequireExpenseOwner(h.expenses))
		{
			owned.GET("", h.getExpense)
			owned.PATCH("", h.updateExpense)
			owned.DELETE("", h.deleteExpense)
		}
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Email    string `json:"email" binding:"required"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

type createExpenseRequest struct {
	Amount      float64 `json:"amount" binding:"required"`
	Description string  `json:"description" binding:"required"`
	Date        string  `json:"date" binding:"required"`
	Category    string  `json:"category" binding:"required"`
}

type updateExpenseRequest struct {
	Amount      *float64 `json:"amount"`
	Description *string  `json:"description"`
	Date        *string  `json:"date"`
	Category    *string  `json:"category"`
}

// UserResponse is the public shape of a user. It structurally cannot carry
// the password hash.
type UserResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	IsActive  bool   `json:"isActive"`
	CreatedAt string `json:"created_at"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	Email       string `json:"email"`
}

type ExpenseResponse struct {
	ID          int64   `json:"id"`
	UserID      int64   `json:"userId"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
	Category    string  `json:"category"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User created", "user": userToResponse(user)})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	result, err := h.users.SignIn(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		AccessToken: result.AccessToken,
		UserID:      result.UserID,
		Username:    result.Username,
		Email:       result.Email,
	})
}

func (h *Handler) getUser(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	user, err := h.users.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(user))
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if err := h.users.ChangePassword(c.Request.Context(), id, req.OldPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated successfully"})
}

func (h *Handler) deleteUser(c *gin.Context) {
	id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

func (h *Handler) createExpense(c *gin.Context) {
	var req createExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input, err := expenseInputFromRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity, _ := IdentityFrom(c)
	expense, err := h.expenses.Create(c.Request.Context(), identity.UserID, input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, expenseToResponse(expense))
}

func (h *Handler) listExpenses(c *gin.Context) {
	identity, _ := IdentityFrom(c)
	expenses, err := h.expenses.ListByOwner(c.Request.Context(), identity.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]ExpenseResponse, len(expenses))
	for i := range expenses {
		resp[i] = expenseToResponse(&expenses[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getExpense(c *gin.Context) {
	c.JSON(http.StatusOK, expenseToResponse(expenseFrom(c)))
}

func (h *Handler) updateExpense(c *gin.Context) {
	var req updateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patch, err := expensePatchFromRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	expense, err := h.expenses.Update(c.Request.Context(), expenseFrom(c).ID, patch)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, expenseToResponse(expense))
}

func (h *Handler) deleteExpense(c *gin.Context) {
	expense := expenseFrom(c)
	if err := h.expenses.Delete(c.Request.Context(), expense.ID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": expense.ID})
}

func (h *Handler) exportExpenses(c *gin.Context) {
	identity, _ := IdentityFrom(c)
	location, err := h.expenses.ExportByOwner(c.Request.Context(), identity.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": location})
}

func (h *Handler) listExports(c *gin.Context) {
	identity, _ := IdentityFrom(c)
	objects, err := h.expenses.ListExports(c.Request.Context(), identity.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]gin.H, len(objects))
	for i, obj := range objects {
		entry := gin.H{"key": obj.Key, "size": obj.Size}
		if obj.LastModified != nil && !obj.LastModified.IsZero() {
			entry["last_modified"] = obj.LastModified.Format(time.RFC3339)
		}
		resp[i] = entry
	}
	c.JSON(http.StatusOK, resp)
}

// writeError maps service and repository errors onto the protocol
// taxonomy. Unexpected storage errors surface as 500, never 404.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": "username or email already taken"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrExportUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export storage not configured"})
	default:
		h.logger.WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func expenseInputFromRequest(req createExpenseRequest) (service.ExpenseInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return service.ExpenseInput{}, err
	}
	category := domain.ExpenseCategory(req.Category)
	if !category.Valid() {
		return service.ExpenseInput{}, errors.New("unknown expense category")
	}
	return service.ExpenseInput{
		Amount:      req.Amount,
		Description: req.Description,
		Date:        date,
		Category:    category,
	}, nil
}

func expensePatchFromRequest(req updateExpenseRequest) (service.ExpensePatch, error) {
	patch := service.ExpensePatch{
		Amount:      req.Amount,
		Description: req.Description,
	}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			return service.ExpensePatch{}, err
		}
		patch.Date = &date
	}
	if req.Category != nil {
		category := domain.ExpenseCategory(*req.Category)
		if !category.Valid() {
			return service.ExpensePatch{}, errors.New("unknown expense category")
		}
		patch.Category = &category
	}
	return patch, nil
}

func parseDate(value string) (time.Time, error) {
	date, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.New("date must be RFC 3339")
	}
	return date, nil
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
	}
}

func expenseToResponse(expense *domain.Expense) ExpenseResponse {
	return ExpenseResponse{
		ID:          expense.ID,
		UserID:      expense.OwnerID,
		Amount:      expense.Amount,
		Description: expense.Description,
		Date:        expense.Date.Format(time.RFC3339),
		Category:    string(expense.Category),
		CreatedAt:   expense.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   expense.UpdatedAt.Format(time.RFC3339),
	}
}
