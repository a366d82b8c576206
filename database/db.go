package database

import (
	"context"
	"database/sql"
	"log"

	_ "github.com/lib/pq"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var (
	// Container is the wire library's device credential store.
	Container *sqlstore.Container
	// AppDB holds the gateway's own tables (session options).
	AppDB *sql.DB
)

// InitWhatsmeow opens (and migrates) the device store.
func InitWhatsmeow(dbURL string) {
	dbLog := waLog.Stdout("Database", "INFO", true)
	container, err := sqlstore.New(context.Background(), "postgres", dbURL, dbLog)
	if err != nil {
		log.Fatal("Failed to init device store:", err)
	}
	Container = container
}

// InitAppDB opens the gateway's own database connection.
func InitAppDB(dbURL string) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatal("Failed to connect app DB:", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping app DB:", err)
	}
	AppDB = db
	log.Println("App DB connected successfully")
}
