package db

import (
	"database/sql"
	"log"

	_ "github.com/go-sql-driver/mysql"
)

func InitDB(dbURL string) *sql.DB {
	db, err := sql.Open("mysql", dbURL+"?parseTime=true")
	if err != nil {
		log.Fatal("failed to open database:", err)
	}

	err = db.Ping()
	if err != nil {
		log.Fatal("database is not responding:", err)
	}

	log.Println("connected to database")
	return db
}

func RunMigrations(db *sql.DB) {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			username VARCHAR(100),
			email VARCHAR(100),
			password_hash VARCHAR(255),
			role VARCHAR(50),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_email (email)
		);`,
		`CREATE TABLE IF NOT EXISTS crypto_balances (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			currency VARCHAR(10) NOT NULL,
			total_minor BIGINT NOT NULL DEFAULT 0,
			locked_minor BIGINT NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_user_currency (user_id, currency),
			INDEX idx_currency (currency)
		);`,
		`CREATE TABLE IF NOT EXISTS crypto_transactions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			uuid CHAR(36) NOT NULL,
			user_id BIGINT NOT NULL,
			balance_id BIGINT NOT NULL,
			currency VARCHAR(10) NOT NULL,
			kind VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			amount_minor BIGINT NOT NULL,
			fee_minor BIGINT NOT NULL DEFAULT 0,
			balance_before_minor BIGINT NOT NULL,
			balance_after_minor BIGINT NOT NULL,
			locked_before_minor BIGINT NOT NULL,
			locked_after_minor BIGINT NOT NULL,
			blockchain_tx_hash VARCHAR(255),
			from_address VARCHAR(255),
			to_address VARCHAR(255),
			description TEXT,
			confirmations BIGINT NOT NULL DEFAULT 0,
			fail_reason TEXT,
			confirmed_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_uuid (uuid),
			INDEX idx_status (status),
			INDEX idx_kind (kind),
			INDEX idx_tx_hash (blockchain_tx_hash),
			INDEX idx_user_id (user_id)
		);`,
	}

	for _, q := range queries {
		_, err := db.Exec(q)
		if err != nil {
			log.Fatal("migration failed:", err)
		}
	}
	log.Println("migrations complete")
}
