package product

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// API HTTP обработчики каталога
type API struct {
	service *Service
}

// NewAPI создает API
func NewAPI(service *Service) *API {
	return &API{service: service}
}

// Register регистрирует маршруты
func (a *API) Register(r gin.IRouter) {
	r.POST("/api/products", a.create)
	r.GET("/api/products/:id", a.get)
}

func (a *API) create(c *gin.Context) {
	var cmd CreateProductCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := a.service.Create(c.Request.Context(), cmd)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrAlreadyExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toDetails(p))
}

func (a *API) get(c *gin.Context) {
	p, err := a.service.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, toDetails(p))
	}
}
