package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"furitingoasis/wiredin/mqtt"
	"furitingoasis/wiredin/website/internal/models"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/go-playground/form/v4"
	_ "github.com/mattn/go-sqlite3"
)

// publisher sends a control message to the hub through the broker.
type publisher interface {
	Publish(topic string, payload []byte) error
}

type application struct {
	logger         *slog.Logger
	users          models.UserModelInterface
	templateCache  map[string]*template.Template
	formDecoder    *form.Decoder
	sessionManager *scs.SessionManager
	broker         publisher
	controlTopic   string
	latest         *latestSnapshot
}

type AdminConfig struct {
	AdminUser struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	} `json:"adminUser"`
}

func main() {
	addr := flag.String("addr", ":4000", "HTTP network address")
	dsn := flag.String("dsn", "instance/console.db", "SQLite database file path")
	adminPath := flag.String("admin", "config.json", "JSON file with the admin account to seed")
	brokerURL := flag.String("broker", "tcp://broker.hivemq.com:1883", "MQTT broker URL")
	clientID := flag.String("client-id", "wiredin-console", "MQTT client ID")
	dataTopic := flag.String("data-topic", "environment/wiredin/data", "topic the hub publishes snapshots on")
	controlTopic := flag.String("control-topic", "environment/wiredin/control", "topic the hub reads control messages from")
	secureCookie := flag.Bool("secure-cookie", true, "mark the session cookie Secure")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	instanceDir := filepath.Dir(*dsn)
	if _, err := os.Stat(instanceDir); os.IsNotExist(err) {
		if err := os.MkdirAll(instanceDir, 0755); err != nil {
			logger.Error("failed to create instance directory", "error", err)
			os.Exit(1)
		}
	}

	db, err := openDB(*dsn)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	defer db.Close()

	createSessionTable(db, logger)
	createUserTable(db, logger)

	users := &models.UserModel{DB: db}
	if err := seedAdminUser(users, *adminPath, logger); err != nil {
		logger.Error("error seeding admin user", "error", err)
	}

	templateCache, err := newTemplateCache()
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	sessionManager := scs.New()
	sessionManager.Store = sqlite3store.New(db)
	sessionManager.Lifetime = 12 * time.Hour
	sessionManager.Cookie.Secure = *secureCookie

	client := mqtt.NewClient(mqtt.MQTTConfig{
		BrokerURL:     *brokerURL,
		ClientID:      *clientID,
		AutoReconnect: true,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}, logger)
	defer client.Close()

	latest := &latestSnapshot{}
	if err := client.Subscribe(*dataTopic, latest.update); err != nil {
		logger.Warn("snapshot subscription deferred", "error", err)
	}
	if err := client.ConnectWithRetry(); err != nil {
		logger.Warn("broker not reachable, control messages will fail until it is", "error", err)
	}

	app := &application{
		logger:         logger,
		users:          users,
		templateCache:  templateCache,
		formDecoder:    form.NewDecoder(),
		sessionManager: sessionManager,
		broker:         client,
		controlTopic:   *controlTopic,
		latest:         latest,
	}

	srv := &http.Server{
		Addr:         *addr,
		Handler:      app.routes(),
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("starting server", "addr", *addr)
	err = srv.ListenAndServe()
	logger.Error(err.Error())
	os.Exit(1)
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func seedAdminUser(users *models.UserModel, configPath string, logger *slog.Logger) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var config AdminConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return err
	}

	created, err := users.InsertAdmin(config.AdminUser.Username, config.AdminUser.Email, config.AdminUser.Password)
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin user created")
	} else {
		logger.Info("admin user already exists, skipping seeding")
	}
	return nil
}

func createSessionTable(db *sql.DB, logger *slog.Logger) {
	stmt := `
			CREATE TABLE IF NOT EXISTS sessions (
					token CHAR(43) PRIMARY KEY,
					data BLOB NOT NULL,
					expiry TIMESTAMP(6) NOT NULL
			);
			CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions (expiry);
	`
	_, err := db.Exec(stmt)
	if err != nil {
		logger.Error("failed to create sessions table", "error", err)
		return
	}
	logger.Info("Sessions table created or already existed")
}

func createUserTable(db *sql.DB, logger *slog.Logger) {
	stmt := `
			CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL UNIQUE,
				password CHAR(60) NOT NULL,
				authorised INTEGER DEFAULT 0,
				admin INTEGER DEFAULT 0,
				created DATETIME NOT NULL
			);
	`
	_, err := db.Exec(stmt)
	if err != nil {
		logger.Error("failed to create user table", "error", err)
		return
	}
	logger.Info("User table created or already existed")
}
