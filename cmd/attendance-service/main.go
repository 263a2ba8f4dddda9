package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/luizmoretti/erp-backend/internal/attendance/consumers"
	"github.com/luizmoretti/erp-backend/internal/attendance/events"
	"github.com/luizmoretti/erp-backend/internal/attendance/handler"
	"github.com/luizmoretti/erp-backend/internal/attendance/repository"
	"github.com/luizmoretti/erp-backend/internal/attendance/service"
	"github.com/luizmoretti/erp-backend/pkg/config"
	"github.com/luizmoretti/erp-backend/pkg/database"
	"github.com/luizmoretti/erp-backend/pkg/httputil"
	"github.com/luizmoretti/erp-backend/pkg/logger"
	"github.com/luizmoretti/erp-backend/pkg/messaging"
	"github.com/luizmoretti/erp-backend/pkg/token"
)

func main() {
	// Fails fast in production when required config is missing
	cfg, err := config.LoadWithValidation(config.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(config.ServiceName, cfg.Server.Environment)
	log.Info().Msg("starting Attendance Service")

	loc, err := cfg.Attendance.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid attendance timezone")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, repository.Schema); err != nil {
			log.Fatal().Err(err).Msg("failed to apply schema")
		}
	}

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	if err := rmq.DeclareDeadLetterQueue(config.ServiceName); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}
	go rmq.WatchConnection(ctx)

	publisher, err := events.NewRabbitMQPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	attendanceRepo := repository.NewAttendanceRepository(db)
	payrollRepo := repository.NewPayrollRepository(db)
	employeeRepo := repository.NewEmployeeRepository(db)

	stores := service.Stores{
		Tx:         db,
		Attendance: attendanceRepo,
		Payrolls:   payrollRepo,
		Employees:  employeeRepo,
	}

	accrual := service.NewAccrualEngine(stores, publisher, loc, log)
	attendanceService := service.NewAttendanceService(stores, accrual, publisher, service.AttendanceServiceConfig{
		Location:           loc,
		AccessCodeAttempts: cfg.Attendance.AccessCodeAttempts,
	}, log)
	payrollService := service.NewPayrollService(stores, publisher, service.PayrollServiceConfig{
		Location:     loc,
		MaxBatchSize: cfg.Attendance.MaxBatchSize,
	}, log)

	attendanceHandler := handler.NewAttendanceHandler(attendanceService, log)
	payrollHandler := handler.NewPayrollHandler(payrollService, log)

	// Keep the employee read model in sync with the staff service
	employeeConsumer, err := consumers.NewEmployeeEventConsumer(rmq, db, employeeRepo, payrollRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create employee event consumer")
	}
	if err := employeeConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start employee event consumer")
	}

	tokens := token.NewManager(&cfg.JWT)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return cfg.Server.OriginAllowed(origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  config.ServiceName,
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	handler.Register(r, attendanceHandler, payrollHandler,
		httputil.Authenticate(tokens, cfg.Server.TrustGatewayHeaders))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stops the consumer and the connection watcher
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
