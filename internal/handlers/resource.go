package handlers

import (
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-authgate/idgate/internal/token"
	"github.com/go-authgate/idgate/internal/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IdentityClaim is one claim of the caller's access token.
type IdentityClaim struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// DataItem is a record kept by the sample API.
type DataItem struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// WeatherForecast is one day of the sample forecast.
type WeatherForecast struct {
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

var forecastSummaries = []string{
	"Freezing", "Bracing", "Chilly", "Cool", "Mild", "Warm", "Balmy", "Hot", "Sweltering", "Scorching",
}

const maxDataItems = 100

// ResourceHandler serves the sample protected API. Routes must run behind
// validator.RequireScope.
type ResourceHandler struct {
	mu    sync.RWMutex
	items []DataItem
	now   func() time.Time
}

func NewResourceHandler() *ResourceHandler {
	return &ResourceHandler{now: time.Now}
}

// Identity echoes the validated claims of the caller.
func (h *ResourceHandler) Identity(c *gin.Context) {
	claims, ok := validator.ClaimsFromContext(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.JSON(http.StatusOK, identityClaims(claims))
}

func identityClaims(claims *token.Claims) []IdentityClaim {
	out := []IdentityClaim{
		{Type: "iss", Value: claims.Issuer},
		{Type: "sub", Value: claims.Subject},
		{Type: "aud", Value: []string(claims.Audience)},
		{Type: "scope", Value: claims.Scope},
	}
	if claims.ClientID != "" {
		out = append(out, IdentityClaim{Type: "client_id", Value: claims.ClientID})
	}
	if claims.ExpiresAt != nil {
		out = append(out, IdentityClaim{Type: "exp", Value: claims.ExpiresAt.Unix()})
	}
	names := make([]string, 0, len(claims.Extra))
	for name := range claims.Extra {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		out = append(out, IdentityClaim{Type: name, Value: claims.Extra[name]})
	}
	return out
}

// ListData returns the stored items.
func (h *ResourceHandler) ListData(c *gin.Context) {
	claims, _ := validator.ClaimsFromContext(c)

	h.mu.RLock()
	items := slices.Clone(h.items)
	h.mu.RUnlock()
	if items == nil {
		items = []DataItem{}
	}

	c.JSON(http.StatusOK, gin.H{
		"subject": claims.Subject,
		"items":   items,
	})
}

type createDataRequest struct {
	Value string `json:"value" binding:"required,max=256"`
}

// CreateData stores a new item. The oldest item is dropped past maxDataItems.
func (h *ResourceHandler) CreateData(c *gin.Context) {
	claims, _ := validator.ClaimsFromContext(c)

	var req createDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "value is required and at most 256 characters",
		})
		return
	}

	item := DataItem{
		ID:        uuid.NewString(),
		Value:     req.Value,
		CreatedBy: claims.Subject,
		CreatedAt: h.now().UTC(),
	}
	h.mu.Lock()
	h.items = append(h.items, item)
	if len(h.items) > maxDataItems {
		h.items = h.items[len(h.items)-maxDataItems:]
	}
	h.mu.Unlock()

	zerolog.Ctx(c.Request.Context()).Info().
		Str("id", item.ID).
		Str("subject", claims.Subject).
		Msg("Data item created")
	c.JSON(http.StatusCreated, item)
}

// WeatherForecast returns five days of random weather.
func (h *ResourceHandler) WeatherForecast(c *gin.Context) {
	today := h.now()
	forecast := make([]WeatherForecast, 5)
	for i := range forecast {
		tempC := rand.IntN(75) - 20 // #nosec G404 -- sample data
		forecast[i] = WeatherForecast{
			Date:         today.AddDate(0, 0, i+1).Format(time.DateOnly),
			TemperatureC: tempC,
			TemperatureF: 32 + tempC*9/5,
			Summary:      forecastSummaries[rand.IntN(len(forecastSummaries))], // #nosec G404
		}
	}
	c.JSON(http.StatusOK, forecast)
}
