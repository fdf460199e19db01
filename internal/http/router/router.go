package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonmarket/gifts-backend/internal/config"
	"github.com/tonmarket/gifts-backend/internal/http/handlers"
	"github.com/tonmarket/gifts-backend/internal/http/middleware"
	"github.com/tonmarket/gifts-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	auctionHandler *handlers.AuctionHandler,
	offerHandler *handlers.OfferHandler,
	bundleHandler *handlers.BundleHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))

	// Публичные маршруты: просмотр активных торгов.
	api.GET("/auctions", auctionHandler.ListActive)
	api.GET("/bundles", bundleHandler.ListActive)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.POST("/auctions", auctionHandler.Create)
		protected.GET("/auctions/my", auctionHandler.ListMine)
		protected.POST("/auctions/:id/bids", auctionHandler.PlaceBid)
		protected.POST("/auctions/:id/cancel", auctionHandler.Cancel)
		protected.POST("/auctions/:id/finalize", auctionHandler.Finalize)
		protected.DELETE("/auctions/:id", auctionHandler.Delete)
		protected.GET("/deals", auctionHandler.ListDeals)

		protected.POST("/offers", offerHandler.Create)
		protected.GET("/offers/my", offerHandler.ListMine)
		protected.POST("/offers/:id/counter", offerHandler.SetCounterPrice)
		protected.POST("/offers/:id/refuse", offerHandler.Refuse)
		protected.POST("/offers/:id/accept", offerHandler.Accept)

		protected.POST("/bundles", bundleHandler.Create)
		protected.GET("/bundles/my", bundleHandler.ListMine)
		protected.POST("/bundles/:id/cancel", bundleHandler.Cancel)
		protected.POST("/bundles/:id/buy", bundleHandler.Buy)
		protected.POST("/bundles/:id/offers", bundleHandler.MakeOffer)
		protected.POST("/bundle-offers/:id/accept", bundleHandler.AcceptOffer)
		protected.POST("/bundle-offers/:id/refuse", bundleHandler.RefuseOffer)
	}

	return r
}
