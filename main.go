package main

import (
	"log"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"harmonia_back/anamnese"
	"harmonia_back/authorization"
	"harmonia_back/database"
	"harmonia_back/exercises"
	"harmonia_back/knowledge"
	"harmonia_back/personas"
	"harmonia_back/products"
	"harmonia_back/retrieval"
	"harmonia_back/storage"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func main() {
	mustLoadEnv()

	db, err := database.OpenFromEnv()
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	guard, err := authorization.NewGuardFromEnv()
	if err != nil {
		log.Fatalf("init auth guard: %v", err)
	}

	archive, err := storage.NewDocumentStorageFromEnv()
	if err != nil {
		log.Fatalf("init document storage: %v", err)
	}
	if archive == nil {
		log.Printf("document archive disabled: MinIO not configured")
	}

	var knowledgeOpts []knowledge.Option
	if archive != nil {
		knowledgeOpts = append(knowledgeOpts, knowledge.WithArchive(archive))
	}
	knowledgeService, err := knowledge.NewServiceFromEnv(db, knowledgeOpts...)
	if err != nil {
		log.Fatalf("init knowledge service: %v", err)
	}

	personaService, err := personas.NewService(db)
	if err != nil {
		log.Fatalf("init persona service: %v", err)
	}
	anamneseService, err := anamnese.NewService(db)
	if err != nil {
		log.Fatalf("init anamnese service: %v", err)
	}
	exerciseService, err := exercises.NewService(db, knowledgeService.Embedder())
	if err != nil {
		log.Fatalf("init exercise service: %v", err)
	}
	productService, err := products.NewService(db)
	if err != nil {
		log.Fatalf("init product service: %v", err)
	}

	matcher := exercises.NewMatcher(db, knowledgeService.Embedder(), retrieval.MatcherConfigFromEnv())
	retrievalService, err := retrieval.NewService(db, knowledgeService, matcher, productService)
	if err != nil {
		log.Fatalf("init retrieval service: %v", err)
	}

	migrations := []func() error{
		personaService.AutoMigrate,
		knowledgeService.AutoMigrate,
		anamneseService.AutoMigrate,
		exerciseService.AutoMigrate,
		productService.AutoMigrate,
		retrievalService.AutoMigrate,
	}
	for _, migrate := range migrations {
		if err := migrate(); err != nil {
			log.Fatalf("run migrations: %v", err)
		}
	}

	r := gin.Default()
	r.Use(cors.New(corsConfig()))

	if _, err := personas.RegisterRoutes(r, personaService, guard); err != nil {
		log.Fatalf("register persona routes: %v", err)
	}
	if _, err := knowledge.RegisterRoutes(r, knowledgeService, guard); err != nil {
		log.Fatalf("register knowledge routes: %v", err)
	}
	if _, err := anamnese.RegisterRoutes(r, anamneseService, guard); err != nil {
		log.Fatalf("register anamnese routes: %v", err)
	}
	if _, err := exercises.RegisterRoutes(r, exerciseService, guard); err != nil {
		log.Fatalf("register exercise routes: %v", err)
	}
	if _, err := retrieval.RegisterRoutes(r, retrievalService, anamneseService, guard); err != nil {
		log.Fatalf("register retrieval routes: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}

func corsConfig() cors.Config {
	config := cors.DefaultConfig()
	config.AllowHeaders = append(config.AllowHeaders, "Authorization")
	raw := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
	if raw == "" {
		config.AllowAllOrigins = true
		return config
	}
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	config.AllowOrigins = origins
	return config
}
