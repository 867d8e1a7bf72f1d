package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dagornc/DagBot/internal/models"
	"github.com/dagornc/DagBot/internal/services"
)

type ProviderHandler struct {
	providers services.ProviderService
	settings  services.SettingsService
}

func NewProviderHandler(providers services.ProviderService, settings services.SettingsService) *ProviderHandler {
	return &ProviderHandler{providers: providers, settings: settings}
}

// List returns every configured provider with masked credentials. Keys are
// never echoed back in full.
func (h *ProviderHandler) List(c *gin.Context) {
	rows, err := h.providers.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	for i := range rows {
		rows[i].APIKey = services.MaskKey(rows[i].APIKey)
	}
	c.JSON(http.StatusOK, rows)
}

func (h *ProviderHandler) Add(c *gin.Context) {
	var body models.Provider
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Code: "INVALID_ARGUMENT", Message: "invalid request body"})
		return
	}

	saved, err := h.providers.Add(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}

	out := *saved
	out.APIKey = services.MaskKey(out.APIKey)
	c.JSON(http.StatusCreated, out)
}

func (h *ProviderHandler) Update(c *gin.Context) {
	var patch services.ProviderPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Code: "INVALID_ARGUMENT", Message: "invalid request body"})
		return
	}

	if err := h.providers.Update(c.Request.Context(), c.Param("name"), patch); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *ProviderHandler) Delete(c *gin.Context) {
	if err := h.providers.Remove(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Test probes connectivity. A failed probe is a 200 with success=false.
func (h *ProviderHandler) Test(c *gin.Context) {
	res, err := h.providers.TestConnectivity(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Models returns the effective catalog: last refreshed if available, else the
// static configuration list.
func (h *ProviderHandler) Models(c *gin.Context) {
	ids, err := h.providers.Models(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, ids)
}

// RefreshModels queries the provider's listing endpoint and replaces the
// cached catalog.
func (h *ProviderHandler) RefreshModels(c *gin.Context) {
	ids, err := h.providers.RefreshModels(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ids)
}

func (h *ProviderHandler) GetSettings(c *gin.Context) {
	row, err := h.settings.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

type settingsBody struct {
	FreeOnly   bool `json:"free_only"`
	AutoChoose bool `json:"auto_choose"`
}

func (h *ProviderHandler) PutSettings(c *gin.Context) {
	var body settingsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Code: "INVALID_ARGUMENT", Message: "invalid request body"})
		return
	}

	if err := h.settings.Set(c.Request.Context(), c.Param("name"), body.FreeOnly, body.AutoChoose); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
