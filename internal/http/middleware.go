package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	initDataKey
)

const (
	UserIDHeader = "X-Telegram-User-Id"
	tmaScheme    = "tma "
)

// TelegramUserMiddleware resolves the Telegram user from the request headers.
// Requests without a valid user id pass through unauthenticated; handlers reject them.
// The initData is forwarded untouched; the shop backend checks its signature on
// every call that places an order or reads the user.
func TelegramUserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if userID, err := strconv.ParseInt(r.Header.Get(UserIDHeader), 10, 64); err == nil && userID > 0 {
			ctx = context.WithValue(ctx, userIDKey, userID)
		}
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, tmaScheme) {
			ctx = context.WithValue(ctx, initDataKey, strings.TrimPrefix(auth, tmaScheme))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs every request through logrus.
func RequestLogger(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("request handled")
		})
	}
}

func getUserIDFromContext(ctx context.Context) int64 {
	if userID, ok := ctx.Value(userIDKey).(int64); ok {
		return userID
	}
	return 0
}

func getInitDataFromContext(ctx context.Context) string {
	if initData, ok := ctx.Value(initDataKey).(string); ok {
		return initData
	}
	return ""
}
