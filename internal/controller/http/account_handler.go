package http

import (
	"net/http"

	"tootplan/internal/usecase"
	"tootplan/pkg/logger"

	"github.com/gin-gonic/gin"
)

type AccountHandler struct {
	accountUseCase usecase.AccountUseCase
	frontendURL    string
	logger         *logger.Logger
}

func NewAccountHandler(accountUseCase usecase.AccountUseCase, frontendURL string, logger *logger.Logger) *AccountHandler {
	return &AccountHandler{
		accountUseCase: accountUseCase,
		frontendURL:    frontendURL,
		logger:         logger,
	}
}

type ConnectMastodonRequest struct {
	InstanceURL string `json:"instance_url" binding:"required"`
}

type ConnectBlueskyRequest struct {
	Handle      string `json:"handle" binding:"required"`
	AppPassword string `json:"app_password" binding:"required"`
}

// ConnectMastodon godoc
// @Summary      Start connecting a Mastodon account
// @Description  Registers the app on the instance and returns the authorization URL to visit
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request body ConnectMastodonRequest true "Instance to connect"
// @Success      200  {object}  map[string]string
// @Router       /accounts/mastodon/connect [post]
func (h *AccountHandler) ConnectMastodon(c *gin.Context) {
	userID := c.GetString("user_id")

	var req ConnectMastodonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	authURL, err := h.accountUseCase.BeginMastodonAuth(c.Request.Context(), userID, req.InstanceURL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"auth_url": authURL})
}

// MastodonCallback completes the OAuth flow. Mastodon redirects the browser
// here, so the result is a redirect back to the frontend rather than JSON.
func (h *AccountHandler) MastodonCallback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.Redirect(http.StatusFound, h.frontendURL+"/accounts?error=missing_parameters")
		return
	}

	account, err := h.accountUseCase.CompleteMastodonAuth(c.Request.Context(), state, code)
	if err != nil {
		h.logger.Warn("Mastodon callback failed: %v", err)
		c.Redirect(http.StatusFound, h.frontendURL+"/accounts?error=authorization_failed")
		return
	}

	c.Redirect(http.StatusFound, h.frontendURL+"/accounts?connected="+account.ID)
}

// ConnectBluesky godoc
// @Summary      Connect a Bluesky account
// @Description  Verifies a handle and app password and stores the account
// @Tags         accounts
// @Accept       json
// @Produce      json
// @Param        request body ConnectBlueskyRequest true "Bluesky credentials"
// @Success      201  {object}  entity.Account
// @Failure      401  {object}  map[string]string
// @Router       /accounts/bluesky/connect [post]
func (h *AccountHandler) ConnectBluesky(c *gin.Context) {
	userID := c.GetString("user_id")

	var req ConnectBlueskyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	account, err := h.accountUseCase.ConnectBluesky(c.Request.Context(), userID, req.Handle, req.AppPassword)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, account)
}

func (h *AccountHandler) ListAccounts(c *gin.Context) {
	userID := c.GetString("user_id")

	accounts, err := h.accountUseCase.ListAccounts(userID)
	if err != nil {
		h.logger.Error("Failed to list accounts for user %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list accounts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// CheckStatus godoc
// @Summary      Check an account's credential
// @Description  Verifies the stored credential against the live platform and updates the active flag
// @Tags         accounts
// @Produce      json
// @Param        id path string true "Account ID"
// @Success      200  {object}  usecase.AccountStatus
// @Router       /accounts/{id}/status [get]
func (h *AccountHandler) CheckStatus(c *gin.Context) {
	userID := c.GetString("user_id")
	accountID := c.Param("id")

	status, err := h.accountUseCase.CheckStatus(c.Request.Context(), accountID, userID)
	if err != nil {
		if err.Error() == "account not found" {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	userID := c.GetString("user_id")
	accountID := c.Param("id")

	if err := h.accountUseCase.DeleteAccount(accountID, userID); err != nil {
		if err.Error() == "account not found" {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}
