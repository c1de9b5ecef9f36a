package middleware

import (
	"net/http"

	"car-marketplace/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const accessLogFormat = `{"time":"${time_rfc3339}","id":"${id}","remote_ip":"${remote_ip}","host":"${host}","method":"${method}","uri":"${uri}","user_agent":"${user_agent}","status":${status},"error":"${error}","latency":${latency},"latency_human":"${latency_human}","bytes_in":${bytes_in},"bytes_out":${bytes_out}}` + "\n"

var allowedHeaders = []string{
	echo.HeaderOrigin,
	echo.HeaderContentType,
	echo.HeaderAccept,
	echo.HeaderAuthorization,
	echo.HeaderXRequestedWith,
	echo.HeaderAccessControlRequestMethod,
	echo.HeaderAccessControlRequestHeaders,
}

var allowedMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch,
	http.MethodPost, http.MethodDelete, http.MethodOptions,
}

// Setup installs the standard middleware chain on e.
func Setup(e *echo.Echo, log logger.Logger) {
	e.Use(echomw.RequestID())
	e.Use(echomw.LoggerWithConfig(echomw.LoggerConfig{
		Format: accessLogFormat,
	}))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     allowedMethods,
		AllowHeaders:     allowedHeaders,
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	e.Use(RequestLogger(log))
}

func RequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			log.Debug("Request received",
				"method", req.Method,
				"path", req.URL.Path,
				"remote_addr", c.RealIP(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID))
			return next(c)
		}
	}
}

// CORS is the same policy for plain net/http routers.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
