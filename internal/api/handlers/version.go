package handlers

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
)

// VersionInfo contains build information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

// VersionHandler serves build information.
type VersionHandler struct {
	info VersionInfo
}

// NewVersionHandler creates a new VersionHandler. GoVersion is filled in
// from the running binary when left empty.
func NewVersionHandler(info VersionInfo) *VersionHandler {
	if info.GoVersion == "" {
		info.GoVersion = runtime.Version()
	}
	return &VersionHandler{info: info}
}

// RegisterPublicRoutes registers version routes that don't require authentication.
func (h *VersionHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/version", h.Get)
}

// Get returns the build information.
// GET /version
func (h *VersionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.info)
}
