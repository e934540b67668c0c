package main

import (
	"context"
	"log"

	"github.com/ag12x-gth/masteria-x-sub001/internal/api"
	"github.com/ag12x-gth/masteria-x-sub001/internal/automation"
	"github.com/ag12x-gth/masteria-x-sub001/internal/cache"
	"github.com/ag12x-gth/masteria-x-sub001/internal/config"
	"github.com/ag12x-gth/masteria-x-sub001/internal/database"
	"github.com/ag12x-gth/masteria-x-sub001/internal/models"
	"github.com/ag12x-gth/masteria-x-sub001/internal/secrets"
	"github.com/ag12x-gth/masteria-x-sub001/internal/storage"
	"github.com/ag12x-gth/masteria-x-sub001/internal/webhook"
	"github.com/ag12x-gth/masteria-x-sub001/internal/ws"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	cipher, err := secrets.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize secrets cipher: %v", err)
	}

	redisCache := cache.New(cfg.RedisAddr, cfg.RedisPassword)
	store := storage.NewLocalStore(cfg.MediaDir, cfg.PublicBaseURL)

	hub := ws.NewHub()
	go hub.Run()

	engine := automation.NewEngine(db, cipher)

	processor := webhook.NewProcessor(db, cipher, store, redisCache)
	processor.OnMessageStored = func(conv models.Conversation, msg models.Message) {
		hub.NotifyMessage(msg)
		hub.NotifyConversation(conv)
		engine.OnInboundMessage(context.Background(), conv.ID, msg.ID)
	}

	dispatcher := webhook.NewDispatcher(db, processor)
	go dispatcher.Run(context.Background())

	webhookHandler := webhook.NewHandler(db, cipher, redisCache, processor)
	companyHandler := api.NewCompanyHandler(db)
	connectionHandler := api.NewConnectionHandler(db, cipher)
	contactHandler := api.NewContactHandler(db)
	conversationHandler := api.NewConversationHandler(db)
	campaignHandler := api.NewCampaignHandler(db, cipher)
	automationHandler := api.NewAutomationHandler(db)

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Webhook Routes
	r.GET("/webhooks/meta/:slug", webhookHandler.VerifyWebhook)
	r.POST("/webhooks/meta/:slug", webhookHandler.HandleEvents)

	// Stored media
	r.Static("/media", cfg.MediaDir)

	// Inbox realtime stream
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/companies", companyHandler.GetCompanies)
		apiGroup.POST("/companies", companyHandler.CreateCompany)

		apiGroup.GET("/connections", connectionHandler.GetConnections)
		apiGroup.POST("/connections", connectionHandler.CreateConnection)
		apiGroup.DELETE("/connections/:id", connectionHandler.DeleteConnection)

		apiGroup.GET("/contacts", contactHandler.GetContacts)
		apiGroup.POST("/contacts", contactHandler.CreateContact)
		apiGroup.PUT("/contacts/:id", contactHandler.UpdateContact)
		apiGroup.DELETE("/contacts/:id", contactHandler.DeleteContact)

		apiGroup.GET("/conversations", conversationHandler.GetConversations)
		apiGroup.GET("/conversations/:id/messages", conversationHandler.GetMessages)
		apiGroup.POST("/conversations/:id/archive", conversationHandler.ArchiveConversation)
		apiGroup.POST("/conversations/:id/resolve", conversationHandler.ResolveConversation)

		apiGroup.GET("/campaigns", campaignHandler.GetCampaigns)
		apiGroup.POST("/campaigns", campaignHandler.SendCampaign)
		apiGroup.GET("/campaigns/:id/reports", campaignHandler.GetCampaignReports)

		apiGroup.GET("/automation/rules", automationHandler.GetRules)
		apiGroup.POST("/automation/rules", automationHandler.CreateRule)
		apiGroup.PUT("/automation/rules/:id", automationHandler.UpdateRule)
		apiGroup.DELETE("/automation/rules/:id", automationHandler.DeleteRule)
		apiGroup.POST("/automation/rules/:id/toggle", automationHandler.ToggleRule)
		apiGroup.GET("/automation/logs", automationHandler.GetLogs)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
