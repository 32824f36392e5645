package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/phuslu/log"

	"github.com/vnkhanh/timesheet-server/config"
	"github.com/vnkhanh/timesheet-server/controllers"
	"github.com/vnkhanh/timesheet-server/routes"
	"github.com/vnkhanh/timesheet-server/services/extraction"
	"github.com/vnkhanh/timesheet-server/services/worker"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, using environment")
	}

	cfg := config.Load()

	log.DefaultLogger = log.Logger{
		Level:  log.ParseLevel(cfg.LogLevel),
		Writer: &log.ConsoleWriter{ColorOutput: true, EndWithMessage: true},
	}

	config.ConnectDB()

	runner := worker.NewScriptRunner(cfg.WorkerPython, cfg.WorkerScript, cfg.WorkerTimeout)
	svc := extraction.NewService(config.DB, runner)
	ec := controllers.NewExtractionController(svc)

	// A processing row at boot belongs to a pipeline that died with the old
	// process; fail it now so clients are not stuck polling forever.
	if err := svc.RecoverInterrupted(); err != nil {
		log.Fatal().Err(err).Msg("failed to recover interrupted jobs")
	}
	watchdog := svc.StartWatchdog(cfg.WorkerTimeout + 2*time.Minute)
	defer watchdog.Stop()

	r := gin.Default()

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = true
	}
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return allowed[origin]
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/", func(c *gin.Context) {
		c.String(200, "Timesheet server is running")
	})

	if err := r.SetTrustedProxies(nil); err != nil {
		panic(err)
	}

	routes.SetupRoutes(r, ec)

	log.Info().Str("port", cfg.Port).Msg("server listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
