package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"flick_kiosk/internal/handlers"
	"flick_kiosk/internal/middleware"
	"flick_kiosk/internal/models"
	"flick_kiosk/internal/services"
)

func main() {
	// .env is optional on provisioned devices
	_ = godotenv.Load()

	logger := services.NewLogger()
	defer logger.Sync()

	// Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		logger.Fatalw("failed to connect to database", "err", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		logger.Fatalw("failed to run database migrations", "err", err)
	}

	// Redis is optional; without it the kiosk just skips caching
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			logger.Warnw("redis unavailable, caching disabled", "err", err)
			cache = nil
		}
	}

	// Flick Place backend
	apiURL := os.Getenv("FLICK_API_URL")
	if apiURL == "" {
		logger.Fatal("FLICK_API_URL not set")
	}
	wsURL := os.Getenv("FLICK_WS_URL")
	if wsURL == "" {
		wsURL = strings.Replace(apiURL, "http", "ws", 1)
	}

	auth := services.NewAuthClient(apiURL, os.Getenv("BOOTH_CODE"), os.Getenv("BOOTH_PASSCODE"), logger)
	client := services.NewFlickClient(apiURL, auth, logger)

	// Payment session core
	window := services.DefaultPaymentWindow
	if v := os.Getenv("PAYMENT_WINDOW_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			window = parsed
		}
	}
	payments := services.NewPaymentService(services.NewGormSessionStore(db), window, logger)
	if err := payments.Recover(); err != nil {
		logger.Warnw("payment session recovery failed", "err", err)
	}

	// Cart and catalog
	var snapshotCache services.SnapshotCache
	if cache != nil {
		snapshotCache = services.NewRedisSnapshotCache(cache)
	}
	cart := services.NewCartService(services.NewGormCartRepository(db), snapshotCache, logger)
	catalog := services.NewCatalogService(client, cache, logger)

	// Reconcile the backend when the payment expires locally or the server
	// pushes EXPIRED. Best effort: the local session is authoritative for
	// the kiosk's own screen.
	cancelActiveOrder := func() {
		sess := payments.Session()
		if sess.OrderID == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.CancelOrder(ctx, *sess.OrderID); err != nil {
			logger.Warnw("server-side order cancel failed", "order_id", *sess.OrderID, "err", err)
		}
	}

	countdown := services.NewCountdownDriver(payments, cancelActiveOrder, logger)
	channel := services.NewStatusChannel(wsURL, auth, payments, cancelActiveOrder, logger)

	payments.SetTerminalHandler(func(status models.PaymentStatus) {
		logger.Infow("payment session reached terminal status", "status", status)
		countdown.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cart.Clear(ctx); err != nil {
			logger.Warnw("cart clear on terminal status failed", "err", err)
		}
	})

	auth.SetSignOutHandler(func() {
		channel.Close()
		countdown.Stop()
		payments.ResetPayment()
		logger.Warn("signed out by backend, payment flow torn down")
	})

	if os.Getenv("BOOTH_CODE") != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := auth.Login(ctx); err != nil {
			logger.Warnw("initial sign-in failed, will retry on first call", "err", err)
		}
		cancel()
	}

	// Resume the countdown for a recovered session. The status channel is
	// only reopened when the payment screen remounts.
	if sess := payments.Session(); sess.IsActive {
		countdown.Start()
	}

	// Local API for the display shell
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.JSONErrorHandler(logger)
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	catalogHandler := handlers.NewCatalogHandler(catalog)
	cartHandler := handlers.NewCartHandler(cart)
	paymentHandler := handlers.NewPaymentHandler(payments, client, cart, channel, countdown, logger)
	authHandler := handlers.NewAuthHandler(auth)

	api := e.Group("/api", middleware.RequireKioskToken(os.Getenv("KIOSK_UI_TOKEN")))

	api.POST("/auth/register", authHandler.Register)
	api.GET("/auth/status", authHandler.Status)

	api.GET("/products", catalogHandler.ListProducts)
	api.POST("/products/refresh", catalogHandler.RefreshCatalog)

	api.GET("/cart", cartHandler.GetCart)
	api.POST("/cart/items", cartHandler.AddItem)
	api.PATCH("/cart/items/:productId", cartHandler.UpdateItem)
	api.DELETE("/cart/items/:productId", cartHandler.RemoveItem)
	api.DELETE("/cart", cartHandler.ClearCart)

	api.POST("/checkout", paymentHandler.Checkout)
	api.GET("/payment/session", paymentHandler.GetSession)
	api.POST("/payment/qr", paymentHandler.CreateQrRequest)
	api.POST("/payment/student-id", paymentHandler.CreateStudentIDRequest)
	api.POST("/payment/method", paymentHandler.SwitchMethod)
	api.POST("/payment/cancel", paymentHandler.Cancel)
	api.POST("/payment/reset", paymentHandler.Reset)
	api.GET("/payment/qr.png", paymentHandler.QRImage)
	api.POST("/payment/channel/reconnect", paymentHandler.ReconnectChannel)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}

	go func() {
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server stopped", "err", err)
		}
	}()
	logger.Infow("kiosk agent started", "port", port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down kiosk agent")

	countdown.Stop()
	channel.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Warnw("server shutdown failed", "err", err)
	}
	if cache != nil {
		_ = cache.Close()
	}
}
