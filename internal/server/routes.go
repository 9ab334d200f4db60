package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/trellis/internal/hierarchy"
	"github.com/zulandar/trellis/internal/models"
	"github.com/zulandar/trellis/internal/registry"
	"github.com/zulandar/trellis/internal/relationship"
	"github.com/zulandar/trellis/internal/transition"
	"github.com/zulandar/trellis/internal/watch"
	"github.com/zulandar/trellis/internal/workitem"
	"gorm.io/gorm"
)

// registerRoutes sets up all API routes on the gin router. The acting
// user is taken from the X-User header on mutations.
func registerRoutes(router *gin.Engine, db *gorm.DB, svc *workitem.Service, reg *registry.Registry) {
	api := router.Group("/api")

	api.POST("/items", handleCreateItem(svc))
	api.GET("/items", handleListItems(svc))
	api.GET("/items/:id", handleGetItem(svc))
	api.DELETE("/items/:id", handleDeleteItem(svc))
	api.POST("/items/:id/move", handleMoveItem(svc))
	api.POST("/items/:id/status", handleUpdateStatus(svc))
	api.GET("/items/:id/children", handleChildren(db))
	api.GET("/items/:id/ancestors", handleAncestors(db))
	api.GET("/items/:id/descendants", handleDescendants(db))
	api.GET("/items/:id/watchers", handleListWatchers(db))
	api.POST("/items/:id/watchers", handleAddWatcher(db))
	api.DELETE("/items/:id/watchers/:user", handleRemoveWatcher(db))
	api.POST("/relationships", handleDefineRelationship(db, reg))
	api.POST("/transitions", handleDefineTransition(db, reg))
	api.GET("/types/:id/statuses", handleTypeStatuses(reg))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

type createItemRequest struct {
	TypeID         uint              `json:"type_id" binding:"required"`
	OrganizationID string            `json:"organization_id"`
	ParentID       *string           `json:"parent_id"`
	Subject        string            `json:"subject" binding:"required"`
	Priority       int               `json:"priority"`
	Assignee       string            `json:"assignee"`
	DueDate        *time.Time        `json:"due_date"`
	Fields         map[string]string `json:"fields"`
}

func handleCreateItem(svc *workitem.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.Create(c.Request.Context(), workitem.CreateOpts{
			TypeID:         req.TypeID,
			OrganizationID: req.OrganizationID,
			ParentID:       req.ParentID,
			Subject:        req.Subject,
			Priority:       req.Priority,
			Assignee:       req.Assignee,
			Creator:        c.GetHeader("X-User"),
			DueDate:        req.DueDate,
			Fields:         req.Fields,
		})
		if err != nil {
			apiError(c, err)
			return
		}
		autoCreated := make([]gin.H, 0, len(res.AutoCreated))
		for _, a := range res.AutoCreated {
			entry := gin.H{"relationship": a.Relationship.Name}
			if a.Err != nil {
				entry["error"] = a.Err.Error()
			} else {
				entry["child_id"] = a.Child.ID
			}
			autoCreated = append(autoCreated, entry)
		}
		c.JSON(http.StatusCreated, gin.H{"item": res.Item, "auto_created": autoCreated})
	}
}

func handleListItems(svc *workitem.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := workitem.ListOpts{
			OrganizationID: c.Query("organization_id"),
			Assignee:       c.Query("assignee"),
			ParentID:       c.Query("parent_id"),
			RootID:         c.Query("root_id"),
			Overdue:        c.Query("overdue") == "true",
		}
		opts.TypeID = queryUint(c, "type_id")
		opts.StatusID = queryUint(c, "status_id")

		items, err := svc.List(opts)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func handleGetItem(svc *workitem.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := svc.Get(c.Param("id"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"item": item})
	}
}

func handleDeleteItem(svc *workitem.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c.GetHeader("X-User"), c.Param("id")); err != nil {
			apiError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleMoveItem(svc *workitem.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			NewParentID string `json:"new_parent_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := svc.Move(c.Request.Context(), c.GetHeader("X-User"), c.Param("id"), req.NewParentID); err != nil {
			apiError(c, err)
			return
		}
		item, err := svc.Get(c.Param("id"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"item": item})
	}
}

func handleUpdateStatus(svc *workitem.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			StatusID uint `json:"status_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.UpdateStatus(c.Request.Context(), c.GetHeader("X-User"), c.Param("id"), req.StatusID)
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"item": res.Item, "actions": res.Actions})
	}
}

func handleChildren(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		children, err := hierarchy.GetChildren(db, c.Param("id"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": children})
	}
}

func handleAncestors(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ancestors, err := hierarchy.GetAncestors(db, c.Param("id"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": ancestors})
	}
}

func handleDescendants(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		descendants, err := hierarchy.GetDescendants(db, c.Param("id"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": descendants})
	}
}

func handleListWatchers(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		watchers, err := watch.List(db, c.Param("id"))
		if err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"watchers": watchers})
	}
}

func handleAddWatcher(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := watch.Add(db, c.Param("id"), req.UserID); err != nil {
			apiError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleRemoveWatcher(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := watch.Remove(db, c.Param("id"), c.Param("user")); err != nil {
			apiError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type defineRelationshipRequest struct {
	ParentTypeID     uint                          `json:"parent_type_id" binding:"required"`
	ChildTypeID      uint                          `json:"child_type_id" binding:"required"`
	Name             string                        `json:"name" binding:"required"`
	IsRequired       bool                          `json:"is_required"`
	MinCount         int                           `json:"min_count"`
	MaxCount         *int                          `json:"max_count"`
	AutoCreate       bool                          `json:"auto_create"`
	AutoCreateConfig relationship.AutoCreateConfig `json:"auto_create_config"`
	DisplayOrder     int                           `json:"display_order"`
}

func handleDefineRelationship(db *gorm.DB, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req defineRelationshipRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rel, err := relationship.Define(db, relationship.DefineOpts{
			ParentTypeID:     req.ParentTypeID,
			ChildTypeID:      req.ChildTypeID,
			Name:             req.Name,
			IsRequired:       req.IsRequired,
			MinCount:         req.MinCount,
			MaxCount:         req.MaxCount,
			AutoCreate:       req.AutoCreate,
			AutoCreateConfig: req.AutoCreateConfig,
			DisplayOrder:     req.DisplayOrder,
		})
		if err != nil {
			apiError(c, err)
			return
		}
		if err := reg.Reload(db); err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"relationship": rel})
	}
}

type defineTransitionRequest struct {
	TypeID       uint                        `json:"type_id" binding:"required"`
	FromStatusID uint                        `json:"from_status_id" binding:"required"`
	ToStatusID   uint                        `json:"to_status_id" binding:"required"`
	IsAllowed    *bool                       `json:"is_allowed"`
	Validation   transition.ValidationConfig `json:"validation"`
	Actions      transition.ActionConfig     `json:"actions"`
}

func handleDefineTransition(db *gorm.DB, reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req defineTransitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		allowed := true
		if req.IsAllowed != nil {
			allowed = *req.IsAllowed
		}
		tr, err := transition.Define(db, transition.DefineOpts{
			TypeID:       req.TypeID,
			FromStatusID: req.FromStatusID,
			ToStatusID:   req.ToStatusID,
			IsAllowed:    allowed,
			Validation:   req.Validation,
			Actions:      req.Actions,
		})
		if err != nil {
			apiError(c, err)
			return
		}
		if err := reg.Reload(db); err != nil {
			apiError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"transition": tr})
	}
}

func handleTypeStatuses(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		typeID := uint(0)
		if v, err := strconv.ParseUint(c.Param("id"), 10, 32); err == nil {
			typeID = uint(v)
		}
		statuses := reg.Current().Statuses(typeID)
		if statuses == nil {
			statuses = []models.Status{}
		}
		c.JSON(http.StatusOK, gin.H{"statuses": statuses})
	}
}

func queryUint(c *gin.Context, key string) uint {
	v, err := strconv.ParseUint(c.Query(key), 10, 32)
	if err != nil {
		return 0
	}
	return uint(v)
}

// apiError maps engine sentinel errors onto HTTP status codes.
func apiError(c *gin.Context, err error) {
	var verr *transition.ValidationError
	switch {
	case errors.Is(err, hierarchy.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, workitem.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "messages": verr.Messages})
	case errors.Is(err, hierarchy.ErrCircularMove),
		errors.Is(err, hierarchy.ErrDepthLimit),
		errors.Is(err, hierarchy.ErrHasChildren),
		errors.Is(err, relationship.ErrCountConstraint),
		errors.Is(err, relationship.ErrChildTypeNotAllowed),
		errors.Is(err, relationship.ErrDuplicateRelationship),
		errors.Is(err, relationship.ErrCircularRelationship),
		errors.Is(err, transition.ErrDuplicateTransition),
		errors.Is(err, transition.ErrNotAllowed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workitem.ErrUnknownStatus),
		errors.Is(err, workitem.ErrUnknownField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
