package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/assembler"
	"github.com/MarcoPoloResearchLab/journeys/internal/auth"
	"github.com/MarcoPoloResearchLab/journeys/internal/identity"
	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	producerClaimsContextKey = "journeys_producer_claims"
	accessTokenQueryParam    = "access_token"
	defaultJourneyLimit      = 100
	maxJourneyLimit          = 1000
	heartbeatInterval        = 25 * time.Second
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingService        = errors.New("assembler service dependency required")
	errMissingRealtime       = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// ProducerTokenValidator validates bearer tokens presented by producers.
type ProducerTokenValidator interface {
	ValidateToken(token string) (auth.ProducerClaims, error)
}

type touchpointRegistrar interface {
	ProcessingEnabled() bool
	ResolveAndRegister(ctx context.Context, tp touchpoint.Touchpoint) (identity.Match, error)
}

type Dependencies struct {
	TokenValidator ProducerTokenValidator
	Service        *assembler.Service
	Realtime       *RealtimeDispatcher
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Service == nil {
		return nil, errMissingService
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:    deps.TokenValidator,
		service:   deps.Service,
		registrar: deps.Service,
		realtime:  deps.Realtime,
		logger:    logger,
	}

	router.GET("/health", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/ingest/:channel", handler.handleIngest)
	protected.POST("/process-batch", handler.handleProcessBatch)
	protected.POST("/webhooks/batch-trigger", handler.handleBatchTrigger)
	protected.GET("/journeys", handler.handleListJourneys)
	protected.GET("/identity-graph", handler.handleIdentityGraph)
	protected.POST("/control/enable", handler.handleControl(true))
	protected.POST("/control/disable", handler.handleControl(false))
	protected.GET("/control/status", handler.handleStatus)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens    ProducerTokenValidator
	service   *assembler.Service
	registrar touchpointRegistrar
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "processing_enabled": h.service.ProcessingEnabled()})
}

type ingestRequestPayload struct {
	Touchpoints []touchpoint.Touchpoint `json:"touchpoints"`
}

type ingestResultPayload struct {
	TouchpointID    string                   `json:"touchpoint_id"`
	CustomerID      string                   `json:"customer_id"`
	ConfidenceScore float64                  `json:"confidence_score"`
	ConfidenceLevel identity.ConfidenceLevel `json:"confidence_level"`
	MatchMethod     string                   `json:"match_method"`
}

func (h *httpHandler) handleIngest(c *gin.Context) {
	channel, err := touchpoint.ParseChannel(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_channel"})
		return
	}
	if claims, ok := c.Get(producerClaimsContextKey); ok {
		if producer, isProducer := claims.(auth.ProducerClaims); isProducer && !producer.AllowsChannel(channel) {
			c.JSON(http.StatusForbidden, gin.H{"error": "channel_not_allowed"})
			return
		}
	}

	var request ingestRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Touchpoints) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	for index := range request.Touchpoints {
		request.Touchpoints[index].Channel = channel
		candidate := request.Touchpoints[index]
		if err := candidate.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_touchpoint", "index": index, "detail": err.Error()})
			return
		}
	}

	if !h.registrar.ProcessingEnabled() {
		h.writeServiceError(c, assembler.ErrProcessingDisabled, gin.H{"processed": 0})
		return
	}

	results := make([]ingestResultPayload, 0, len(request.Touchpoints))
	for _, tp := range request.Touchpoints {
		match, err := h.registrar.ResolveAndRegister(c.Request.Context(), tp)
		if err != nil {
			h.writeServiceError(c, err, gin.H{"processed": len(results), "results": results})
			return
		}
		results = append(results, ingestResultPayload{
			TouchpointID:    tp.TouchpointID,
			CustomerID:      match.CustomerID,
			ConfidenceScore: match.ConfidenceScore,
			ConfidenceLevel: match.ConfidenceLevel,
			MatchMethod:     match.MatchMethod,
		})
	}
	c.JSON(http.StatusOK, gin.H{"channel": channel, "processed": len(results), "results": results})
}

func (h *httpHandler) handleProcessBatch(c *gin.Context) {
	assembled, err := h.service.AssembleBatch(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"journeys": len(assembled), "journey_ids": journeyIDs(assembled)})
}

func (h *httpHandler) handleBatchTrigger(c *gin.Context) {
	if !h.service.ProcessingEnabled() {
		c.JSON(http.StatusOK, gin.H{"status": "disabled"})
		return
	}
	assembled, err := h.service.AssembleBatch(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed", "journeys": len(assembled)})
}

func (h *httpHandler) handleListJourneys(c *gin.Context) {
	filter, err := parseJourneyFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_query", "detail": err.Error()})
		return
	}
	listed, err := h.service.ListJourneys(c.Request.Context(), filter)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(listed), "journeys": listed})
}

type identityGraphPayload struct {
	TotalCustomers                int                                `json:"total_customers"`
	ResolutionsByLevel            map[identity.ConfidenceLevel]int64 `json:"resolutions_by_level"`
	ResolutionsByMethod           map[identity.Method]int64          `json:"resolutions_by_method"`
	AverageIdentifiersPerCustomer float64                            `json:"average_identifiers_per_customer"`
	EmailCoverage                 float64                            `json:"email_coverage"`
	DeviceFingerprintCoverage     float64                            `json:"device_fingerprint_coverage"`
	TrackingIDCoverage            float64                            `json:"tracking_id_coverage"`
}

func (h *httpHandler) handleIdentityGraph(c *gin.Context) {
	stats := h.service.GraphStats()
	c.JSON(http.StatusOK, identityGraphPayload{
		TotalCustomers:                stats.TotalCustomers,
		ResolutionsByLevel:            stats.ResolutionsByLevel,
		ResolutionsByMethod:           stats.ResolutionsByMethod,
		AverageIdentifiersPerCustomer: stats.AverageIdentifiersPerCustomer,
		EmailCoverage:                 stats.EmailCoverage,
		DeviceFingerprintCoverage:     stats.DeviceFingerprintCoverage,
		TrackingIDCoverage:            stats.TrackingIDCoverage,
	})
}

func (h *httpHandler) handleControl(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.service.SetProcessingEnabled(enabled)
		c.JSON(http.StatusOK, gin.H{"processing_enabled": enabled})
	}
}

type statusPayload struct {
	ProcessingEnabled   bool   `json:"processing_enabled"`
	TotalCustomers      int    `json:"total_customers"`
	TotalTouchpoints    int64  `json:"total_touchpoints"`
	TotalJourneys       int64  `json:"total_journeys"`
	BufferedTouchpoints int    `json:"buffered_touchpoints"`
	LastProcessingTime  string `json:"last_processing_time,omitempty"`
	LastBackupTime      string `json:"last_backup_time,omitempty"`
	EventSubscribers    int    `json:"event_subscribers"`
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusPayload{
		ProcessingEnabled:   status.ProcessingEnabled,
		TotalCustomers:      status.TotalCustomers,
		TotalTouchpoints:    status.TotalTouchpoints,
		TotalJourneys:       status.TotalJourneys,
		BufferedTouchpoints: status.BufferedTouchpoints,
		LastProcessingTime:  formatOptionalTime(status.LastProcessingTime),
		LastBackupTime:      formatOptionalTime(status.LastBackupTime),
		EventSubscribers:    h.realtime.SubscriberCount(),
	})
}

type batchEventPayload struct {
	Source      string   `json:"source"`
	JourneyIDs  []string `json:"journey_ids,omitempty"`
	CustomerIDs []string `json:"customer_ids,omitempty"`
	Touchpoints int      `json:"touchpoints,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventHeartbeat, batchEventPayload{Source: realtimeSourceBackend, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(RealtimeEventBatchAssembled, batchEventPayload{
				Source:      realtimeSourceBackend,
				JourneyIDs:  event.JourneyIDs,
				CustomerIDs: event.CustomerIDs,
				Touchpoints: event.Touchpoints,
				Timestamp:   event.AssembledAt.UTC().Format(time.RFC3339),
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, batchEventPayload{Source: realtimeSourceBackend, Timestamp: tick.UTC().Format(time.RFC3339)})
			return true
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if c.Request.Method == http.MethodGet {
		token = strings.TrimSpace(c.Query(accessTokenQueryParam))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredProducerToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(producerClaimsContextKey, claims)
	c.Next()
}

// writeServiceError maps service failures to status codes; extra carries partial results.
func (h *httpHandler) writeServiceError(c *gin.Context, err error, extra ...gin.H) {
	code := "internal_error"
	var serviceErr *assembler.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	status := http.StatusInternalServerError
	body := gin.H{"error": "internal_error", "code": code}
	switch {
	case errors.Is(err, touchpoint.ErrInvalidTouchpoint):
		status = http.StatusBadRequest
		body["error"] = "invalid_touchpoint"
	case errors.Is(err, assembler.ErrProcessingDisabled):
		status = http.StatusServiceUnavailable
		body["error"] = "processing_disabled"
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	for _, fields := range extra {
		for key, value := range fields {
			body[key] = value
		}
	}
	c.JSON(status, body)
}

func parseJourneyFilter(c *gin.Context) (assembler.JourneyFilter, error) {
	filter := assembler.JourneyFilter{Limit: defaultJourneyLimit}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return assembler.JourneyFilter{}, errors.New("limit must be a positive integer")
		}
		filter.Limit = min(limit, maxJourneyLimit)
	}
	if raw := c.Query("customer_type"); raw != "" {
		customerType, err := touchpoint.ParseCustomerType(raw)
		if err != nil {
			return assembler.JourneyFilter{}, err
		}
		filter.CustomerType = customerType
	}
	if raw := c.Query("min_confidence"); raw != "" {
		minConfidence, err := strconv.ParseFloat(raw, 64)
		if err != nil || minConfidence < 0 || minConfidence > 1 {
			return assembler.JourneyFilter{}, errors.New("min_confidence must be within [0,1]")
		}
		filter.MinConfidence = minConfidence
	}
	return filter, nil
}

func journeyIDs(assembled []journeys.Journey) []string {
	ids := make([]string, 0, len(assembled))
	for _, journey := range assembled {
		ids = append(ids, journey.JourneyID)
	}
	return ids
}

func formatOptionalTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
