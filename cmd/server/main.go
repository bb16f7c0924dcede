package main

import (
	"context"
	"net/http"
	"os"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/cluster"
	"github.com/trailmark/backend/internal/config"
	"github.com/trailmark/backend/internal/handlers"
	appMiddleware "github.com/trailmark/backend/internal/middleware"
	"github.com/trailmark/backend/internal/services"
	"github.com/trailmark/backend/internal/storage"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	log := logger.Sugar()

	cfg := config.Load()

	// Firebase Auth (server-side verification of ID tokens). Without a
	// project id the client stays nil and the server falls back to local
	// JWT auth.
	var authClient *fbauth.Client
	if cfg.FirebaseProjectID != "" {
		authClient, err = appMiddleware.NewFirebaseAuthClient(
			context.Background(),
			appMiddleware.FirebaseAuthConfig{
				ProjectID:       cfg.FirebaseProjectID,
				CredentialsJSON: cfg.FirebaseCredentialsJSON,
			},
		)
		if err != nil {
			log.Warnf("failed to initialize Firebase Auth client: %v", err)
		}
	}

	// In-memory working set: the map pipeline reads from these, every
	// mutation fans out to open map sessions.
	pinStore, err := storage.NewJSONStore(cfg.DataDir, "pins.json")
	if err != nil {
		log.Warnf("pin persistence unavailable: %v", err)
	}
	pinService := services.NewPinService(pinStore, log)
	storyService := services.NewStoryService(pinService, log)
	profileService := services.NewProfileService(log)
	favoriteService := services.NewFavoriteService(pinService)
	userService := services.NewUserService()
	imageService := services.NewImageService(cfg.UploadDir)

	var relations handlers.RelationSource = profileService
	var favorites handlers.FavoriteStore = favoriteService

	// Durable tier: present when Mongo is configured. The in-memory stores
	// hydrate from it at startup and write through on every mutation.
	var (
		mongoProfiles *services.MongoProfileService
		flagService   *services.MongoUserFlagService
		accounts      *services.MongoAccountService
		moderation    *services.ModerationService
	)
	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

		mongoPins, err := services.NewMongoPinService(ctx, cfg.MongoURI, cfg.MongoDB, log)
		if err != nil {
			log.Fatalf("mongo pin service init failed: %v", err)
		}
		mongoStories, err := services.NewMongoStoryService(ctx, cfg.MongoURI, cfg.MongoDB, mongoPins, log)
		if err != nil {
			log.Fatalf("mongo story service init failed: %v", err)
		}
		mongoProfiles, err = services.NewMongoProfileService(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			log.Fatalf("mongo profile service init failed: %v", err)
		}
		flagService, err = services.NewMongoUserFlagService(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			log.Fatalf("mongo user_flags service init failed: %v", err)
		}
		accounts, err = services.NewMongoAccountService(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			log.Fatalf("mongo account service init failed: %v", err)
		}
		mongoFavorites, err := services.NewMongoFavoriteService(ctx, cfg.MongoURI, cfg.MongoDB, mongoPins)
		if err != nil {
			log.Fatalf("mongo favorite service init failed: %v", err)
		}

		if saved, err := mongoPins.ListAll(ctx); err != nil {
			log.Warnf("pin hydration failed: %v", err)
		} else {
			pinService.Hydrate(saved)
		}
		if saved, err := mongoStories.ListAll(ctx); err != nil {
			log.Warnf("story hydration failed: %v", err)
		} else {
			storyService.Hydrate(saved)
		}
		pinService.SetMirror(mongoPins)
		storyService.SetMirror(mongoStories)

		relations = &services.MongoRelationSource{Profiles: mongoProfiles}
		favorites = mongoFavorites
		cancel()
	}

	if cfg.StorageBucket != "" {
		moderation, err = services.NewModerationService(context.Background(), cfg.StorageBucket, flagService)
		if err != nil {
			log.Warnf("moderation service init failed, photo screening disabled: %v", err)
		}
	}

	clusterOpts := cluster.DefaultOptions()
	if cfg.ClusterRadius > 0 {
		clusterOpts.Radius = cfg.ClusterRadius
	}

	// Handlers.
	authHandler := handlers.NewAuthHandler(userService, cfg.JWTSecret, cfg.JWTExpiration)
	pinHandler := handlers.NewPinHandler(pinService, storyService, relations, moderation)
	storyHandler := handlers.NewStoryHandler(storyService)
	favoriteHandler := handlers.NewFavoriteHandler(favorites)
	imageHandler := handlers.NewImageHandler(imageService, cfg.MaxUploadSizeMB)
	mapHandler := handlers.NewMapHandler(pinService, storyService, relations, clusterOpts)
	mapSocket := handlers.NewMapSocketHandler(pinService, storyService, relations, clusterOpts)
	friendHandler := handlers.NewFriendHandler(profileService)

	// Relation edits reach open map sessions through the socket hub.
	profileService.OnChange(mapSocket.RefreshRelations)

	var profileHandler *handlers.ProfileHandler
	if mongoProfiles != nil {
		profileHandler = handlers.NewProfileHandler(mongoProfiles, authClient)
		profileHandler.OnRelationChange = mapSocket.RefreshRelations
	}
	var reportHandler *handlers.ReportHandler
	if flagService != nil {
		mailer := services.NewSendGridMailer(cfg.SendGridAPIKey, cfg.ReportFromEmail, cfg.ReportToEmail)
		reportHandler = handlers.NewReportHandler(flagService, mailer)
	}
	var accountHandler *handlers.AccountHandler
	if accounts != nil {
		accountHandler = handlers.NewAccountHandler(accounts)
	}

	// Auth middleware: Firebase when configured, local JWT otherwise. A
	// configured-but-broken Firebase client fails closed rather than falling
	// back to local tokens.
	firebaseMode := cfg.FirebaseProjectID != ""
	authMW := appMiddleware.JWTAuth(cfg.JWTSecret)
	if firebaseMode {
		authMW = appMiddleware.FirebaseAuth(authClient)
	}

	var limiter *appMiddleware.RateLimiter
	if cfg.RedisURI != "" {
		opts, err := redis.ParseURL(cfg.RedisURI)
		if err != nil {
			log.Warnf("invalid REDIS_URI, rate limiting disabled: %v", err)
		} else {
			limiter = appMiddleware.NewRateLimiter(redis.NewClient(opts), cfg.RateLimitPerMinute, time.Minute)
		}
	}

	// Expiry sweep for the in-memory set; the worker handles the durable
	// tier and storage cleanup.
	go func() {
		interval := cfg.PinExpiryInterval
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			pinService.PurgeExpired()
		}
	}()

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		// Local accounts, used when Firebase is not configured.
		if !firebaseMode {
			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/login", authHandler.Login)
		}

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMW)
			if limiter != nil {
				r.Use(limiter.Limit)
			}

			if !firebaseMode {
				r.Get("/auth/me", authHandler.GetMe)
			}

			// Pin routes
			r.Route("/pins", func(r chi.Router) {
				r.Post("/", pinHandler.CreatePin)
				r.Get("/mine", pinHandler.ListMyPins)
				r.Get("/bounds", pinHandler.ListPinsByBounds)

				r.Route("/{pinId}", func(r chi.Router) {
					r.Get("/", pinHandler.GetPin)
					r.Put("/", pinHandler.UpdatePin)
					r.Delete("/", pinHandler.DeletePin)

					// Photos
					r.Post("/photos", pinHandler.AddPhoto)
					r.Delete("/photos", pinHandler.RemovePhoto)

					// Favorites
					r.Post("/favorite", favoriteHandler.AddFavorite)
					r.Delete("/favorite", favoriteHandler.RemoveFavorite)
				})
			})

			r.Get("/favorites", favoriteHandler.ListFavorites)

			// Story routes
			r.Route("/stories", func(r chi.Router) {
				r.Post("/", storyHandler.CreateStory)
				r.Get("/mine", storyHandler.ListMyStories)

				r.Route("/{storyId}", func(r chi.Router) {
					r.Get("/", storyHandler.GetStory)
					r.Put("/", storyHandler.UpdateStory)
					r.Delete("/", storyHandler.DeleteStory)
				})
			})

			// Map routes: one-shot view over HTTP, live feed over the socket.
			r.Route("/map", func(r chi.Router) {
				r.Get("/view", mapHandler.GetView)
				r.Get("/clusters/{clusterId}/leaves", mapHandler.GetClusterLeaves)
				r.Get("/ws", mapSocket.Serve)
			})

			// Profile routes
			r.Route("/profile", func(r chi.Router) {
				if profileHandler != nil {
					r.Get("/", profileHandler.GetProfile)
					r.Put("/", profileHandler.UpsertProfile)
					r.Get("/search", profileHandler.SearchProfiles)
					r.Get("/{userId}", profileHandler.GetPublicProfileByUserID)
					r.Post("/friends/{userId}", profileHandler.AddFriend)
					r.Delete("/friends/{userId}", profileHandler.RemoveFriend)
					r.Post("/hide/friend", profileHandler.SetFriendHidden)
					r.Post("/hide/pins-from", profileHandler.SetHidePinsFrom)
					r.Post("/hide/pin", profileHandler.SetPinHidden)
				} else {
					r.Get("/", friendHandler.GetProfile)
					r.Put("/", friendHandler.UpsertProfile)
					r.Post("/friends/{userId}", friendHandler.AddFriend)
					r.Delete("/friends/{userId}", friendHandler.RemoveFriend)
					r.Post("/hide/friend", friendHandler.SetFriendHidden)
					r.Post("/hide/pins-from", friendHandler.SetHidePinsFrom)
					r.Post("/hide/pin", friendHandler.SetPinHidden)
				}
			})

			if reportHandler != nil {
				r.Post("/reports", reportHandler.SubmitReport)
			}
			if accountHandler != nil {
				r.Delete("/account", accountHandler.DeleteAccount)
			}

			// Image upload
			r.Post("/upload", imageHandler.Upload)
			r.Delete("/upload/{imageId}", imageHandler.Delete)
		})
	})

	// Serve uploaded files
	workDir, _ := os.Getwd()
	filesDir := http.Dir(workDir + "/" + cfg.UploadDir)
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(filesDir)))

	log.Infof("Trailmark API server starting on %s", cfg.ServerAddress)
	if err := http.ListenAndServe(cfg.ServerAddress, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
