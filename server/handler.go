package server

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/krau/agridoctor/classifier"
	"github.com/krau/agridoctor/diagnosis"
	"github.com/krau/agridoctor/service"
	"github.com/krau/agridoctor/session"
)

const previewSize = 512

// uploadError messages are shown to the user as is.
type uploadError string

func (e uploadError) Error() string { return string(e) }

const (
	errNoImage  uploadError = "Please choose an image."
	errTooLarge uploadError = "Image is too large."
	errBadImage uploadError = "Could not read the image. Supported formats: JPEG, PNG, WebP, AVIF."
)

type pageData struct {
	Crops       []string
	Crop        string
	Provider    string
	ModelLoaded bool
	Last        *session.Outcome
	Messages    []session.Message
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

// session returns the caller's session, issuing a cookie for new ones.
func (h *Handler) session(c *gin.Context) *session.Session {
	id, _ := c.Cookie(sessionCookie)
	sess, created := h.store.Get(id)
	if created {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookie, sess.ID, 0, "/", "", false, true)
	}
	return sess
}

func (h *Handler) Index(c *gin.Context) {
	sess := h.session(c)

	sess.Lock()
	data := pageData{
		Crops:       diagnosis.Crops,
		Provider:    h.provider,
		ModelLoaded: h.doctor.ModelLoaded(),
		Messages:    sess.History(),
		Crop:        sess.Crop,
	}
	if sess.Last != nil {
		last := *sess.Last
		data.Last = &last
	}
	sess.Unlock()

	if crop, ok := diagnosis.NormalizeCrop(c.Query("crop")); ok {
		data.Crop = crop
	} else if data.Crop == "" {
		data.Crop = diagnosis.Crops[0]
	}
	c.HTML(http.StatusOK, "index.html", data)
}

// readUpload decodes the "image" form file and builds its preview.
func (h *Handler) readUpload(c *gin.Context) (image.Image, string, error) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return nil, "", errNoImage
	}
	if fileHeader.Size > h.maxUpload {
		return nil, "", errTooLarge
	}
	file, err := fileHeader.Open()
	if err != nil {
		return nil, "", errBadImage
	}
	defer file.Close()

	img, err := classifier.Decode(file)
	if err != nil {
		slog.Warn("Failed to decode upload", slog.String("file", fileHeader.Filename), slog.String("error", err.Error()))
		return nil, "", errBadImage
	}
	slog.Info("Received image",
		slog.String("file", fileHeader.Filename),
		slog.Int64("size", fileHeader.Size),
		slog.Int("width", img.Bounds().Dx()),
		slog.Int("height", img.Bounds().Dy()))
	return img, preview(img), nil
}

func preview(img image.Image) string {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, classifier.Thumbnail(img, previewSize), &jpeg.Options{Quality: 80}); err != nil {
		return ""
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func (h *Handler) Analyze(c *gin.Context) {
	sess := h.session(c)
	crop := c.PostForm("crop")
	redirect := "/?crop=" + url.QueryEscape(crop)

	img, prev, err := h.readUpload(c)
	if err != nil {
		sess.Lock()
		sess.Last = &session.Outcome{Crop: crop, Error: err.Error()}
		sess.Unlock()
		c.Redirect(http.StatusSeeOther, redirect)
		return
	}

	_, err = h.doctor.Analyze(c.Request.Context(), sess, service.AnalyzeRequest{Image: img, Crop: crop, Preview: prev})
	if err != nil && !errors.Is(err, service.ErrRejected) {
		slog.Error("Analysis failed", slog.String("session", sess.ID), slog.String("error", err.Error()))
	}
	c.Redirect(http.StatusSeeOther, redirect)
}

func (h *Handler) Chat(c *gin.Context) {
	sess := h.session(c)
	if _, err := h.doctor.Ask(c.Request.Context(), sess, c.PostForm("message")); err != nil && !errors.Is(err, service.ErrEmptyMessage) {
		slog.Error("Follow-up failed", slog.String("session", sess.ID), slog.String("error", err.Error()))
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) Reset(c *gin.Context) {
	if id, err := c.Cookie(sessionCookie); err == nil {
		h.store.Delete(id)
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) APIAnalyze(c *gin.Context) {
	sess := h.session(c)

	img, _, err := h.readUpload(c)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	out, err := h.doctor.Analyze(c.Request.Context(), sess, service.AnalyzeRequest{
		Image:      img,
		Crop:       c.PostForm("crop"),
		SkipAdvice: c.DefaultPostForm("advice", "true") == "false",
	})
	status := http.StatusOK
	switch {
	case err == nil, errors.Is(err, service.ErrRejected):
	case errors.Is(err, service.ErrUnknownCrop):
		status = http.StatusBadRequest
	case errors.Is(err, classifier.ErrModelUnavailable):
		status = http.StatusServiceUnavailable
	default:
		slog.Error("Analysis failed", slog.String("session", sess.ID), slog.String("error", err.Error()))
		status = http.StatusInternalServerError
	}
	c.JSON(status, out)
}

func (h *Handler) APIChat(c *gin.Context) {
	sess := h.session(c)

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	reply, err := h.doctor.Ask(c.Request.Context(), sess, req.Message)
	if errors.Is(err, service.ErrEmptyMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	resp := gin.H{"reply": reply}
	if err != nil {
		resp["error"] = err.Error()
	}
	sess.Lock()
	resp["history_len"] = len(sess.Messages)
	sess.Unlock()
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) APIHistory(c *gin.Context) {
	sess := h.session(c)

	sess.Lock()
	defer sess.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"id":        sess.ID,
		"messages":  sess.History(),
		"diagnosis": sess.Diagnosis,
		"crop":      sess.Crop,
	})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "model_loaded": h.doctor.ModelLoaded()})
}
