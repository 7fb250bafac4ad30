package main

import (
	"finance_system/internal/config" // Custom import path (Config)
	"finance_system/internal/db"     // Custom import path (Database)
)

// Main entry point for migration
func main() {
	cfg := config.LoadConfig() // Load configuration
	db.Migrate(cfg)            // Create or update the ledger tables
}
