package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"

	"github.com/nstepura/bridge/internal/adapters/rtc"
	"github.com/nstepura/bridge/internal/app"
	"github.com/nstepura/bridge/internal/app/orch"
	"github.com/nstepura/bridge/internal/core"
	"github.com/nstepura/bridge/internal/domain"
)

// Controller exposes the engine's commands and queries over REST. Signaling
// follow-ups (answer, candidates) go to the session provider directly.
type Controller struct {
	Engine   *orch.Engine
	Provider *rtc.Provider
}

func NewController(engine *orch.Engine, provider *rtc.Provider) *Controller {
	return &Controller{Engine: engine, Provider: provider}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownCall), errors.Is(err, app.ErrUnknownRoom):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{"error": err.Error()})
}

func callID(c *gin.Context) domain.CallID {
	return domain.CallID(c.Param("id"))
}

func (ctl *Controller) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"calls":      ctl.Engine.Calls(),
		"callAdding": ctl.Engine.CallAdding(),
	})
}

func (ctl *Controller) GetCall(c *gin.Context) {
	v, err := ctl.Engine.Call(callID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (ctl *Controller) PlaceCall(c *gin.Context) {
	var req struct {
		Target           string `json:"target" binding:"required"`
		AddToCurrentRoom bool   `json:"addToCurrentRoom"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	id, err := ctl.Engine.PlaceCall(c.Request.Context(), req.Target, req.AddToCurrentRoom)
	if err != nil {
		fail(c, err)
		return
	}
	resp := gin.H{"callId": id}
	if s, ok := ctl.Provider.Session(id); ok {
		resp["offer"] = s.Offer()
	}
	c.JSON(http.StatusCreated, resp)
}

func (ctl *Controller) TerminateCall(c *gin.Context) {
	if err := ctl.Engine.Terminate(callID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) HoldCall(c *gin.Context) {
	if err := ctl.Engine.Hold(callID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) ResumeCall(c *gin.Context) {
	if err := ctl.Engine.Resume(callID(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) MoveCall(c *gin.Context) {
	var req struct {
		RoomID int `json:"roomId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	if err := ctl.Engine.MoveCall(callID(c), domain.RoomID(req.RoomID)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) SetCallFlags(c *gin.Context) {
	var req domain.CallFlags
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	if err := ctl.Engine.SetCallFlags(callID(c), req); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) CallElapsed(c *gin.Context) {
	el, err := ctl.Engine.Elapsed(callID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, el)
}

func (ctl *Controller) CallQuality(c *gin.Context) {
	q, err := ctl.Engine.Quality(callID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// AnswerCall applies the remote answer of an outgoing call.
func (ctl *Controller) AnswerCall(c *gin.Context) {
	var sdp webrtc.SessionDescription
	if err := c.ShouldBindJSON(&sdp); err != nil {
		fail(c, err)
		return
	}
	s, ok := ctl.Provider.Session(callID(c))
	if !ok {
		fail(c, core.ErrUnknownCall)
		return
	}
	if err := s.ApplyAnswer(sdp); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) AddCandidate(c *gin.Context) {
	var cand webrtc.ICECandidateInit
	if err := c.ShouldBindJSON(&cand); err != nil {
		fail(c, err)
		return
	}
	s, ok := ctl.Provider.Session(callID(c))
	if !ok {
		fail(c, core.ErrUnknownCall)
		return
	}
	if err := s.AddICECandidate(cand); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleOffer accepts an inbound call offer and returns the local answer.
func (ctl *Controller) HandleOffer(c *gin.Context) {
	var req struct {
		From string                    `json:"from"`
		SDP  webrtc.SessionDescription `json:"sdp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	if req.From == "" {
		req.From = "anonymous"
	}
	answer, s, err := ctl.Provider.HandleOffer(req.From, req.SDP)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"callId": s.ID(), "answer": answer})
}

func (ctl *Controller) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rooms":      ctl.Engine.Rooms(),
		"activeRoom": ctl.Engine.ActiveRoom(),
	})
}

func (ctl *Controller) GetRoom(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	r, err := ctl.Engine.Room(domain.RoomID(id))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (ctl *Controller) GetActiveRoom(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"roomId": ctl.Engine.ActiveRoom()})
}

// SetActiveRoom selects the foreground room; roomId 0 deselects.
func (ctl *Controller) SetActiveRoom(c *gin.Context) {
	var req struct {
		RoomID int `json:"roomId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	if err := ctl.Engine.SetActiveRoom(domain.RoomID(req.RoomID)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"muted":           ctl.Engine.Muted(),
		"dnd":             ctl.Engine.DND(),
		"muteWhenJoin":    ctl.Engine.MuteWhenJoin(),
		"microphoneLevel": ctl.Engine.MicrophoneLevel(),
		"speakerVolume":   ctl.Engine.SpeakerVolume(),
		"microphone":      ctl.Engine.Microphone(),
		"speaker":         ctl.Engine.Speaker(),
	})
}

type enabledReq struct {
	Enabled bool `json:"enabled"`
}

func (ctl *Controller) SetMute(c *gin.Context) {
	var req enabledReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	ctl.Engine.SetMuted(req.Enabled)
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) SetDND(c *gin.Context) {
	var req enabledReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	ctl.Engine.SetDND(req.Enabled)
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) SetMuteWhenJoin(c *gin.Context) {
	var req enabledReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	ctl.Engine.SetMuteWhenJoin(req.Enabled)
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) SetMicrophoneLevel(c *gin.Context) {
	var req struct {
		Level float64 `json:"level"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	if err := ctl.Engine.SetMicrophoneLevel(req.Level); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) SetSpeakerVolume(c *gin.Context) {
	var req struct {
		Volume float64 `json:"volume"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	if err := ctl.Engine.SetSpeakerVolume(req.Volume); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) ListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"inputs":  ctl.Engine.InputDevices(),
		"outputs": ctl.Engine.OutputDevices(),
	})
}

type deviceReq struct {
	DeviceID string `json:"deviceId" binding:"required"`
}

func (ctl *Controller) SetMicrophone(c *gin.Context) {
	var req deviceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	if err := ctl.Engine.SetMicrophone(req.DeviceID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ctl *Controller) SetSpeaker(c *gin.Context) {
	var req deviceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, err)
		return
	}
	if err := ctl.Engine.SetSpeaker(req.DeviceID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
