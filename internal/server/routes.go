package server

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/danmuck/edgelink/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type StatusResponse struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Remote            string          `json:"remote"`
	State             string          `json:"state"`
	Connected         bool            `json:"connected"`
	ConnectTimeout    string          `json:"connect_timeout"`
	Exception         string          `json:"exception,omitempty"`
	DisconnectMessage string          `json:"disconnect_message,omitempty"`
	Stats             transport.Stats `json:"stats"`
	Uptime            string          `json:"uptime"`
}

type sendRequest struct {
	Ticket     uint8  `json:"ticket"`
	MessageID  uint8  `json:"message_id"`
	Payload    string `json:"payload"`
	PayloadHex string `json:"payload_hex"`
}

func (s *Status) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.name,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.link.Connected()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   ready,
			"state":   s.link.State().String(),
			"service": s.name,
			"version": version,
		})
	})

	s.router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.snapshot())
	})

	s.router.GET("/frames", s.feed.handle)

	s.router.POST("/send", func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		payload := []byte(req.Payload)
		if req.PayloadHex != "" {
			decoded, err := hex.DecodeString(req.PayloadHex)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "payload_hex: " + err.Error()})
				return
			}
			payload = decoded
		}
		f, err := frame.Encode(req.Ticket, req.MessageID, payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.link.BeginSend(f)
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "bytes": len(f)})
	})
}

func (s *Status) snapshot() StatusResponse {
	out := StatusResponse{
		ID:                s.link.ID(),
		Name:              s.name,
		State:             s.link.State().String(),
		Connected:         s.link.Connected(),
		ConnectTimeout:    session.FormatConnectTimeout(s.link.ConnectTimeout()),
		DisconnectMessage: s.link.DisconnectMessage(),
		Stats:             s.link.Stats(),
		Uptime:            time.Since(s.appeared).String(),
	}
	if remote := s.link.RemoteAddr(); remote != nil {
		out.Remote = remote.String()
	}
	if err := s.link.Exception(); err != nil {
		out.Exception = err.Error()
	}
	return out
}
