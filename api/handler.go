package api

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"ttsapi/config"
	"ttsapi/task"
	"ttsapi/tts"
)

type Handler struct {
	manager *task.Manager
	engine  tts.Engine
	cfg     *config.Config
}

func NewHandler(m *task.Manager, engine tts.Engine, cfg *config.Config) *Handler {
	return &Handler{
		manager: m,
		engine:  engine,
		cfg:     cfg,
	}
}

// TTSRequest is the POST body for task creation. Bounds live in the binding
// tags; numeric defaults are pre-filled before binding since JSON decoding
// only overwrites fields the client actually sent.
type TTSRequest struct {
	Text                    string    `json:"text" binding:"required"`
	PromptAudio             string    `json:"prompt_audio" binding:"required"`
	EmoAudioPrompt          string    `json:"emo_audio_prompt"`
	EmoWeight               float64   `json:"emo_weight" binding:"gte=0,lte=1"`
	EmoVector               []float64 `json:"emo_vector" binding:"omitempty,len=8"`
	MaxTextTokensPerSegment int       `json:"max_text_tokens_per_segment" binding:"gte=20,lte=500"`
	Sync                    bool      `json:"sync"`
	DoSample                bool      `json:"do_sample"`
	Temperature             float64   `json:"temperature" binding:"gte=0.1,lte=2"`
	TopP                    float64   `json:"top_p" binding:"gte=0,lte=1"`
	TopK                    int       `json:"top_k" binding:"gte=0,lte=100"`
	RepetitionPenalty       float64   `json:"repetition_penalty" binding:"gte=0.1,lte=20"`
}

func defaultTTSRequest() TTSRequest {
	return TTSRequest{
		EmoWeight:               0.65,
		MaxTextTokensPerSegment: 120,
		DoSample:                true,
		Temperature:             0.8,
		TopP:                    0.8,
		TopK:                    30,
		RepetitionPenalty:       10.0,
	}
}

func (r *TTSRequest) params() tts.Params {
	return tts.Params{
		Text:                    r.Text,
		PromptAudio:             r.PromptAudio,
		EmoAudioPrompt:          r.EmoAudioPrompt,
		EmoWeight:               r.EmoWeight,
		EmoVector:               r.EmoVector,
		MaxTextTokensPerSegment: r.MaxTextTokensPerSegment,
		DoSample:                r.DoSample,
		Temperature:             r.Temperature,
		TopP:                    r.TopP,
		TopK:                    r.TopK,
		RepetitionPenalty:       r.RepetitionPenalty,
	}
}

// checkAudioRefs verifies reference audio files before any record is created.
func checkAudioRefs(promptAudio, emoAudioPrompt string) error {
	if _, err := os.Stat(promptAudio); err != nil {
		return fmt.Errorf("Prompt audio file not found: %s", promptAudio)
	}
	if emoAudioPrompt != "" {
		if _, err := os.Stat(emoAudioPrompt); err != nil {
			return fmt.Errorf("Emotion audio file not found: %s", emoAudioPrompt)
		}
	}
	return nil
}

// serveAudio streams a completed task's artifact.
func serveAudio(c *gin.Context, path, taskID string) {
	c.Header("Content-Type", "audio/wav")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.wav"`, taskID))
	c.File(path)
}

// handleHealth reports liveness and the engine's model version.
func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"model_version": tts.Version(h.engine, h.cfg.ModelVersionFallback),
	})
}

// handleCreateTask accepts a synthesis request. With sync=false (default) it
// queues the task and returns the pending record for polling; with sync=true
// it blocks until terminal and returns audio or the recorded error.
func (h *Handler) handleCreateTask(c *gin.Context) {
	req := defaultTTSRequest()
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := checkAudioRefs(req.PromptAudio, req.EmoAudioPrompt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Sync {
		rec := h.manager.RunSync(req.params())
		if rec.Status != task.StatusCompleted {
			c.JSON(http.StatusInternalServerError, gin.H{"error": rec.Error})
			return
		}
		serveAudio(c, rec.OutputPath, rec.ID)
		return
	}

	rec := h.manager.Submit(req.params())
	c.JSON(http.StatusAccepted, gin.H{
		"task_id":    rec.ID,
		"status":     rec.Status,
		"message":    "Task queued for processing",
		"created_at": rec.CreatedAt,
	})
}

// SyncQuery is the flat query-parameter form of a synchronous request. The
// advanced sampling parameters are deliberately not exposed here.
type SyncQuery struct {
	Text                    string  `form:"text" binding:"required"`
	PromptAudio             string  `form:"prompt_audio" binding:"required"`
	EmoAudioPrompt          string  `form:"emo_audio_prompt"`
	EmoWeight               float64 `form:"emo_weight,default=0.65" binding:"gte=0,lte=1"`
	MaxTextTokensPerSegment int     `form:"max_text_tokens_per_segment,default=120" binding:"gte=20,lte=500"`
}

// handleSyncTTS is the single-call convenience path: synthesize from query
// parameters and return audio directly.
func (h *Handler) handleSyncTTS(c *gin.Context) {
	var q SyncQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := checkAudioRefs(q.PromptAudio, q.EmoAudioPrompt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := defaultTTSRequest()
	req.Text = q.Text
	req.PromptAudio = q.PromptAudio
	req.EmoAudioPrompt = q.EmoAudioPrompt
	req.EmoWeight = q.EmoWeight
	req.MaxTextTokensPerSegment = q.MaxTextTokensPerSegment

	rec := h.manager.RunSync(req.params())
	if rec.Status != task.StatusCompleted {
		c.JSON(http.StatusInternalServerError, gin.H{"error": rec.Error})
		return
	}
	serveAudio(c, rec.OutputPath, rec.ID)
}

// handleGetTaskStatus retrieves the status of a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	rec, found := h.manager.Get(taskID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Task not found: %s", taskID)})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleGetTaskResult serves the audio of a completed task.
func (h *Handler) handleGetTaskResult(c *gin.Context) {
	taskID := c.Param("taskId")
	rec, found := h.manager.Get(taskID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Task not found: %s", taskID)})
		return
	}

	if rec.Status != task.StatusCompleted {
		msg := fmt.Sprintf("Task not completed. Current status: %s", rec.Status)
		if rec.Status == task.StatusFailed {
			msg = fmt.Sprintf("Task failed and will not produce a result: %s", rec.Error)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if rec.OutputPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Audio file not found"})
		return
	}
	if _, err := os.Stat(rec.OutputPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Audio file not found"})
		return
	}
	serveAudio(c, rec.OutputPath, rec.ID)
}
