package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"tabletop-signup/internal/config"
	"tabletop-signup/internal/db"
)

// Columns: name, default_min, default_max, default_duration_minutes,
// opens_at, closes_at. Times are RFC 3339; empty cells keep the zero value.
func main() {
	filePath := flag.String("file", "tables.csv", "path to tables csv")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	conn, err := db.Open(cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: 1})
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	file, err := os.Open(*filePath)
	if err != nil {
		log.Fatalf("failed to open tables: %v", err)
	}
	defer file.Close()

	tables, err := readTables(file)
	if err != nil {
		log.Fatalf("failed to read tables: %v", err)
	}

	loaded := 0
	for _, table := range tables {
		row := db.Table{Name: table.Name}
		if err := conn.Where(db.Table{Name: table.Name}).Assign(table).FirstOrCreate(&row).Error; err != nil {
			log.Fatalf("failed to upsert table %q: %v", table.Name, err)
		}
		loaded++
	}

	log.Printf("loaded %d tables", loaded)
}

func readTables(r io.Reader) ([]db.Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	var tables []db.Table
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		name := strings.TrimSpace(row[0])
		if name == "" {
			continue
		}
		table := db.Table{Name: name}
		ints := []*int{&table.DefaultMinParticipants, &table.DefaultMaxParticipants, &table.DefaultDurationMinutes}
		for j, dst := range ints {
			if *dst, err = intCell(row, j+1); err != nil {
				return nil, fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		if table.OpensAt, err = timeCell(row, 4); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if table.ClosesAt, err = timeCell(row, 5); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if table.DefaultMinParticipants > 0 && table.DefaultMaxParticipants > 0 && table.DefaultMinParticipants > table.DefaultMaxParticipants {
			return nil, fmt.Errorf("row %d: default_min exceeds default_max", i+1)
		}
		if table.OpensAt != nil && table.ClosesAt != nil && !table.ClosesAt.After(*table.OpensAt) {
			return nil, fmt.Errorf("row %d: closes_at must be after opens_at", i+1)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func intCell(row []string, idx int) (int, error) {
	value := cell(row, idx)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("column %d: %q is not a non-negative integer", idx+1, value)
	}
	return n, nil
}

func timeCell(row []string, idx int) (*time.Time, error) {
	value := cell(row, idx)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("column %d: %w", idx+1, err)
	}
	parsed = parsed.UTC()
	return &parsed, nil
}
