package metadatamodule

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/medley-tv/medley/internal/database"
)

// RegisterRoutes mounts the item graph endpoints: browse by section,
// single item with its external ids, children, and refresh.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	items := router.Group("/api/v1/items")
	items.GET("", m.handleListItems)
	items.GET("/:id", m.handleGetItem)
	items.GET("/:id/children", m.handleListChildren)
	items.POST("/:id/refresh", m.handleRefreshItem)
}

func (m *Module) handleListItems(c *gin.Context) {
	sectionID := c.Query("section")
	if sectionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "section query parameter required"})
		return
	}

	var kinds []database.ItemKind
	for _, raw := range strings.Split(c.Query("kinds"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			kinds = append(kinds, database.ItemKind(raw))
		}
	}

	items, err := m.service.ListItemsBySection(c.Request.Context(), sectionID, kinds)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// handleGetItem returns one item with its external ids attached.
func (m *Module) handleGetItem(c *gin.Context) {
	ctx := c.Request.Context()
	item, err := m.service.GetItem(ctx, c.Param("id"))
	if err != nil {
		respondItemError(c, err)
		return
	}

	ids, err := database.NewStore(m.db).ListExternalIDs(ctx, item.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item, "external_ids": ids})
}

func (m *Module) handleListChildren(c *gin.Context) {
	// The parent must exist; an empty child list on a bogus id would
	// read as success.
	ctx := c.Request.Context()
	if _, err := m.service.GetItem(ctx, c.Param("id")); err != nil {
		respondItemError(c, err)
		return
	}

	children, err := m.service.ListChildren(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": children, "count": len(children)})
}

// refreshRequest optionally names locked fields this refresh may
// overwrite anyway.
type refreshRequest struct {
	Unlock []string `json:"unlock"`
}

func (m *Module) handleRefreshItem(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid refresh request: " + err.Error()})
			return
		}
	}

	if err := m.service.Refresh(c.Request.Context(), c.Param("id"), req.Unlock); err != nil {
		respondItemError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

func respondItemError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
