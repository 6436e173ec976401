package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kidspresence/internal/auth"
	"kidspresence/internal/bus"
	"kidspresence/internal/config"
	"kidspresence/internal/feed"
	"kidspresence/internal/httpmiddleware"
	"kidspresence/internal/kid"
	"kidspresence/internal/presence"
	"kidspresence/internal/queue"
	"kidspresence/internal/scan"
	"kidspresence/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var changeFeed feed.Feed
	if cfg.FeedBackend == "memory" {
		changeFeed = feed.NewInMemory()
	} else {
		changeFeed = feed.NewRedisFeed(redisClient.Client, "kidspresence:feed")
	}

	var jobs queue.Queue
	if cfg.QueueBackend == "memory" {
		jobs = queue.NewInMemory(64)
	} else {
		jobs = queue.NewRedisQueue(redisClient.Client, "kidspresence:jobs")
	}

	var (
		recStore presence.Store
		kids     kid.Registry
		db       *store.DB
	)
	if cfg.StoreBackend == "memory" {
		recStore = presence.NewMemStore(changeFeed)
		kids = kid.NewMemRegistry()
		log.Println("using in-memory store backend")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		recStore = presence.NewPGStore(db.Client, changeFeed)
		kids = kid.NewRepository(db.Client)
	}

	signals := bus.New()
	defer signals.Close()

	sessions := presence.NewSessionManager(recStore)
	guardianGW := presence.NewGuardianGateway(recStore, sessions, signals, jobs)
	staffGW := presence.NewStaffGateway(recStore, signals, jobs, cfg.ReconcileDelay)
	defer staffGW.Close()
	kidSvc := kid.NewService(kids, signals)
	scanner := scan.NewValidator(cfg.ScanMarker)

	bridge := presence.NewBridge(recStore, changeFeed)
	go func() {
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sync bridge stopped: %v", err)
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := cfg.FeedBackend == "memory" || redisClient.Healthy(c.Request.Context())
		dbHealthy := cfg.StoreBackend == "memory" || db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	if cfg.Env != "production" && cfg.Env != "prod" {
		// Token issuance belongs to the external auth service; this endpoint
		// exists for local development and smoke tests only.
		r.POST("/v1/auth/dev-token", func(c *gin.Context) {
			var req struct {
				Subject string `json:"subject" binding:"required"`
				Role    string `json:"role" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if req.Role != auth.RoleGuardian && req.Role != auth.RoleStaff {
				c.JSON(http.StatusBadRequest, gin.H{"error": "role must be guardian or staff"})
				return
			}
			tokens, err := auth.Issue(req.Subject, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{
				"access_token": tokens.AccessToken,
				"expires_at":   tokens.AccessExp.Unix(),
			})
		})
	}

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware()

	guardian := r.Group("/v1",
		auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleGuardian),
		limiter,
	)
	staff := r.Group("/v1/presence",
		auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStaff),
		limiter,
	)

	guardian.POST("/kids", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		var req struct {
			Name     string `json:"name" binding:"required"`
			PhotoURL string `json:"photo_url"`
			Notes    string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, err := kidSvc.Create(c.Request.Context(), kid.Kid{
			GuardianID: claims.Subject,
			Name:       req.Name,
			PhotoURL:   req.PhotoURL,
			Notes:      req.Notes,
		})
		if err != nil {
			respondKidError(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	})

	guardian.GET("/kids", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		roster, err := kidSvc.ListByGuardian(c.Request.Context(), claims.Subject)
		if err != nil {
			respondKidError(c, err)
			return
		}
		type entry struct {
			Kid     kid.Kid          `json:"kid"`
			Current *presence.Record `json:"current_checkin,omitempty"`
		}
		out := make([]entry, 0, len(roster))
		for _, k := range roster {
			e := entry{Kid: k}
			if rec, ok := bridge.RecordFor(k.ID); ok {
				e.Current = &rec
			}
			out = append(out, e)
		}
		c.JSON(http.StatusOK, gin.H{"kids": out})
	})

	guardian.PUT("/kids/:id", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		var req struct {
			Name     string `json:"name" binding:"required"`
			PhotoURL string `json:"photo_url"`
			Notes    string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updated, err := kidSvc.Update(c.Request.Context(), kid.Kid{
			ID:         c.Param("id"),
			GuardianID: claims.Subject,
			Name:       req.Name,
			PhotoURL:   req.PhotoURL,
			Notes:      req.Notes,
		})
		if err != nil {
			respondKidError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	})

	guardian.DELETE("/kids/:id", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		if err := kidSvc.Delete(c.Request.Context(), c.Param("id"), claims.Subject); err != nil {
			respondKidError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	type presenceReq struct {
		KidID       string `json:"kid_id" binding:"required"`
		ScanPayload string `json:"scan_payload" binding:"required"`
	}

	guardedKid := func(c *gin.Context, req presenceReq) (string, bool) {
		claims, _ := auth.ClaimsFrom(c)
		if err := scanner.Validate(req.ScanPayload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return "", false
		}
		k, err := kidSvc.Get(c.Request.Context(), req.KidID)
		if err != nil {
			respondKidError(c, err)
			return "", false
		}
		if k.GuardianID != claims.Subject {
			c.JSON(http.StatusForbidden, gin.H{"error": "not the kid's guardian"})
			return "", false
		}
		return claims.Subject, true
	}

	guardian.POST("/presence/checkin", func(c *gin.Context) {
		var req presenceReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		guardianID, ok := guardedKid(c, req)
		if !ok {
			return
		}
		rec, err := guardianGW.RequestCheckin(c.Request.Context(), req.KidID, guardianID)
		if err != nil {
			respondPresenceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, rec)
	})

	guardian.POST("/presence/checkout", func(c *gin.Context) {
		var req presenceReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		guardianID, ok := guardedKid(c, req)
		if !ok {
			return
		}
		rec, err := guardianGW.RequestCheckout(c.Request.Context(), req.KidID, guardianID)
		if err != nil {
			respondPresenceError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	guardian.DELETE("/presence/requests/:id", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		if err := guardianGW.CancelRequest(c.Request.Context(), c.Param("id"), claims.Subject); err != nil {
			respondPresenceError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	staff.GET("/pending", func(c *gin.Context) {
		pending, err := staffGW.ListPending(c.Request.Context())
		if err != nil {
			respondPresenceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": pending})
	})

	staff.POST("/requests/:id/approve", func(c *gin.Context) {
		claims, _ := auth.ClaimsFrom(c)
		rec, err := staffGW.Approve(c.Request.Context(), c.Param("id"), claims.Subject)
		if err != nil {
			respondPresenceError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// respondPresenceError maps the presence error taxonomy onto HTTP statuses.
func respondPresenceError(c *gin.Context, err error) {
	var ve *presence.ValidationError
	var ce *presence.ConflictError
	var te *presence.TransportError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.As(err, &ce):
		c.JSON(http.StatusConflict, gin.H{"error": ce.Error(), "reason": string(ce.Reason)})
	case errors.Is(err, presence.ErrStaleWrite):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "reason": "stale"})
	case errors.Is(err, presence.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	case errors.As(err, &te):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func respondKidError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, kid.ErrNameRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, kid.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, kid.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
