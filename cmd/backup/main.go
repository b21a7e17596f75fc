package main

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BackupConfig struct {
	DBPath      string `envconfig:"DB_PATH" default:"paper-tutor.db"`
	BackupDir   string `envconfig:"BACKUP_DIR" default:"backups"`
	KeepBackups int    `envconfig:"KEEP_BACKUPS" default:"4"`
}

func main() {
	log.Println("Starte Backup-Prozess...")

	var cfg BackupConfig
	err := envconfig.Process("", &cfg)
	if err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}

	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		log.Fatalf("Fehler beim Anlegen des Backup-Verzeichnisses: %v", err)
	}

	// 1. Datenbankdatei komprimiert wegschreiben
	fileName := fmt.Sprintf("backup-%s.db.gz", time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	target := filepath.Join(cfg.BackupDir, fileName)
	if err := writeBackup(cfg.DBPath, target); err != nil {
		log.Fatalf("Fehler beim Erstellen des Backups: %v", err)
	}
	log.Printf("Backup erfolgreich nach %s geschrieben", target)

	// 2. Alte Backups rotieren
	if err := rotateBackups(cfg); err != nil {
		log.Fatalf("Fehler bei der Rotation alter Backups: %v", err)
	}

	log.Println("Backup-Prozess erfolgreich abgeschlossen.")
}

func writeBackup(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	gzipWriter := gzip.NewWriter(out)
	if _, err := io.Copy(gzipWriter, in); err != nil {
		return err
	}
	return gzipWriter.Close()
}

func rotateBackups(cfg BackupConfig) error {
	entries, err := filepath.Glob(filepath.Join(cfg.BackupDir, "backup-*.db.gz"))
	if err != nil {
		return err
	}

	if len(entries) <= cfg.KeepBackups {
		log.Printf("Weniger als %d Backups vorhanden, keine Rotation nötig.", cfg.KeepBackups)
		return nil
	}

	// Die Zeitstempel im Namen sortieren lexikographisch chronologisch.
	sort.Sort(sort.Reverse(sort.StringSlice(entries)))

	for _, name := range entries[cfg.KeepBackups:] {
		log.Printf("Lösche altes Backup: %s", name)
		if err := os.Remove(name); err != nil {
			log.Printf("Fehler beim Löschen von %s: %v", name, err)
		}
	}

	return nil
}
