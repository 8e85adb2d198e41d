package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aiwuxian/chronica/internal/api"
	"github.com/aiwuxian/chronica/internal/logger"
	"github.com/aiwuxian/chronica/internal/models"
	"github.com/aiwuxian/chronica/internal/services"
	"github.com/aiwuxian/chronica/internal/storage"
)

func main() {
	// .env仅本地开发用，不存在不算错
	_ = godotenv.Load()

	config, err := loadConfig(configPath())
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	zlog, err := logger.Init(config.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zlog.Sync()

	store, err := storage.New(config.Database.Path)
	if err != nil {
		zlog.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer store.Close()

	llmService := services.NewLLMService(config.LLM)
	defer llmService.Close()

	generator := services.NewContentGenerator(llmService, zlog)
	scheduler := services.NewTurnScheduler()
	deltas := services.NewDeltaEngine()
	sessionService := services.NewSessionService(store, generator, scheduler, deltas, config.Game, zlog)

	handler := api.NewHandler(sessionService, zlog)

	r := gin.Default()

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/sessions", handler.CreateSession)
		apiGroup.GET("/sessions", handler.ListSessions)
		apiGroup.GET("/sessions/:id", handler.GetSession)
		apiGroup.DELETE("/sessions/:id", handler.DeleteSession)
		apiGroup.PUT("/sessions/:id/plot", handler.UpdatePlot)

		apiGroup.POST("/sessions/:id/turn", handler.TakeTurn)
		apiGroup.POST("/sessions/:id/riddle", handler.AnswerRiddle)
		apiGroup.POST("/sessions/:id/end", handler.EndSession)
		apiGroup.GET("/sessions/:id/events", handler.ListEvents)
	}

	addr := fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	zlog.Info("🕯️ Chronica 启动成功",
		zap.String("addr", addr),
		zap.String("provider", config.LLM.Provider))

	if err := r.Run(addr); err != nil {
		zlog.Fatal("启动服务器失败", zap.Error(err))
	}
}

func configPath() string {
	if p := os.Getenv("CHRONICA_CONFIG"); p != "" {
		return p
	}
	return "config.yml"
}

func loadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	// 密钥优先走环境变量
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}

	config.Normalize()

	return &config, nil
}
