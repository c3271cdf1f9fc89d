package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/config"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/export"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/handlers"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/instrument"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/logger"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/repository"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/repository/db"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/server"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/service"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/session"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/sweep"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/transport"
)

const (
	defaultPort    = "8080"
	defaultDBPath  = "rig.db"
	defaultCSVPath = "measurements.csv"
	pollTick       = 1 * time.Second
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	log := logger.Get(cfg.LogLevel)

	// open DB
	sqlDB, err := openDB(cfg, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// connect instruments, falling back to simulation per device
	temp, meter, matrix := connectInstruments(cfg, log)

	// wire dependencies
	repos := repository.NewRepository(sqlDB)
	bench := sweep.NewBench(matrix, meter, log)
	sess := session.New(temp, bench, cfg, log)

	bus := session.NewBus()
	recorder := export.NewRecorder(csvPath(cfg), cfg.ChannelNames(), log)
	sess.AddSink(bus)
	sess.AddSink(service.NewHistorySink(repos.Events, repos.Samples, log))
	sess.AddSink(recorder)

	services := service.NewService(repos, sess, cfg)
	apiHandler := handlers.NewHandler(services, bus, log)

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// live temperature monitor
	go sess.Poll(ctx, pollTick)

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, sess, recorder, log)
}

// openDB initializes the SQLite database using configuration.
func openDB(cfg *config.Store, log *logger.Logger) (*sql.DB, error) {
	path := cfg.DBPath
	if path == "" {
		log.Infow("db.path not set in config; using default file", "default", defaultDBPath)
		path = defaultDBPath
	}
	return db.InitDB(path)
}

func csvPath(cfg *config.Store) string {
	if cfg.CSVPath == "" {
		return defaultCSVPath
	}
	return cfg.CSVPath
}

// connectInstruments dials each configured device. A device that cannot be
// reached is replaced by its simulated variant so the service still comes up;
// the substitution is logged loudly.
func connectInstruments(cfg *config.Store, log *logger.Logger) (instrument.TemperatureController, instrument.SourceMeter, instrument.Matrix) {
	var (
		temp   instrument.TemperatureController
		meter  instrument.SourceMeter
		matrix instrument.Matrix
	)

	if tr, err := transport.Dial(cfg.Devs.Kelvinion); err != nil {
		log.Warnw("temperature controller unreachable; running simulated", "addr", cfg.Devs.Kelvinion, "err", err)
		temp = instrument.NewSimTempController()
	} else {
		temp = instrument.NewKelvinion(tr, cfg.PidRamp)
	}

	if tr, err := transport.Dial(cfg.Devs.SourceMeter); err != nil {
		log.Warnw("source meter unreachable; running simulated", "addr", cfg.Devs.SourceMeter, "err", err)
		meter = instrument.SimSourceMeter{}
	} else {
		m, err := instrument.NewKeithley6221(tr)
		if err != nil {
			log.Warnw("source meter reset failed; running simulated", "addr", cfg.Devs.SourceMeter, "err", err)
			_ = tr.Close()
			meter = instrument.SimSourceMeter{}
		} else {
			meter = m
		}
	}

	if tr, err := transport.Dial(cfg.Devs.Matrix); err != nil {
		log.Warnw("switch matrix unreachable; running simulated", "addr", cfg.Devs.Matrix, "err", err)
		matrix = &instrument.SimMatrix{}
	} else {
		m, err := instrument.NewSwitchMatrix3706(tr)
		if err != nil {
			log.Warnw("switch matrix reset failed; running simulated", "addr", cfg.Devs.Matrix, "err", err)
			_ = tr.Close()
			matrix = &instrument.SimMatrix{}
		} else {
			matrix = m
		}
	}

	return temp, meter, matrix
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = defaultPort
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, sess *session.Session, recorder *export.Recorder, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines and the active run, then drain the worker
	cancel()
	_ = sess.Stop()
	sess.Close()
	if err := recorder.Close(); err != nil {
		log.Errorw("failed to close csv recorder", "err", err)
	}

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
