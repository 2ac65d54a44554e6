package server

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/krau/agridoctor/service"
	"github.com/krau/agridoctor/session"
)

//go:embed templates/*.html
var templates embed.FS

const sessionCookie = "agridoctor_session"

type Options struct {
	Provider    string
	MaxUploadMB int
}

type Handler struct {
	doctor    *service.Doctor
	store     *session.Store
	provider  string
	maxUpload int64
}

func NewHandler(doctor *service.Doctor, store *session.Store, opts Options) *Handler {
	maxMB := opts.MaxUploadMB
	if maxMB <= 0 {
		maxMB = 10
	}
	return &Handler{
		doctor:    doctor,
		store:     store,
		provider:  opts.Provider,
		maxUpload: int64(maxMB) << 20,
	}
}

var funcs = template.FuncMap{
	"percent": func(v float32) string { return fmt.Sprintf("%.1f%%", v) },
	// only ever fed previews the server encoded itself
	"dataURI": func(s string) template.URL {
		if strings.HasPrefix(s, "data:image/") {
			return template.URL(s)
		}
		return ""
	},
}

func NewRouter(h *Handler) (*gin.Engine, error) {
	tmpl, err := template.New("").Funcs(funcs).ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = h.maxUpload
	r.SetHTMLTemplate(tmpl)

	r.GET("/", h.Index)
	r.POST("/analyze", h.Analyze)
	r.POST("/chat", h.Chat)
	r.POST("/reset", h.Reset)

	api := r.Group("/api")
	api.POST("/analyze", h.APIAnalyze)
	api.POST("/chat", h.APIChat)
	api.GET("/history", h.APIHistory)

	r.GET("/health", h.Health)
	return r, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}
