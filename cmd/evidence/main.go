// Command evidence manages the embedded evidence store: importing and
// exporting curated release bundles and inspecting store contents.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dgkenn/MeridianV2-sub001/internal/config"
	"github.com/dgkenn/MeridianV2-sub001/internal/repository"
)

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(1)
	}

	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := configManager.GetConfig()

	store, err := repository.NewEvidenceStore(cfg.Store.Path)
	if err != nil {
		log.Fatalf("Failed to open evidence store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	switch os.Args[1] {
	case "import":
		if len(os.Args) < 3 {
			log.Fatal("Usage: evidence import <bundle.json>")
		}
		runImport(ctx, store, os.Args[2])
	case "export":
		runExport(ctx, store, cfg.EvidenceVersion)
	case "count":
		runCount(ctx, store)
	case "help", "--help", "-h":
		showHelp()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		showHelp()
		os.Exit(1)
	}
}

func runImport(ctx context.Context, store *repository.EvidenceStore, path string) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("Failed to open bundle: %v", err)
	}
	defer f.Close()

	imported, err := store.ImportJSON(ctx, f)
	if err != nil {
		log.Fatalf("Import failed after %d records: %v", imported, err)
	}
	fmt.Printf("Imported %d records\n", imported)
}

func runExport(ctx context.Context, store *repository.EvidenceStore, version string) {
	if err := store.ExportJSON(ctx, version, os.Stdout); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
}

func runCount(ctx context.Context, store *repository.EvidenceStore) {
	count, err := store.StudyCount(ctx)
	if err != nil {
		log.Fatalf("Count failed: %v", err)
	}
	fmt.Printf("%d studies\n", count)
}

func showHelp() {
	fmt.Print(`Evidence store management

Usage:
  evidence <command> [options]

Commands:
  import <bundle.json>  Load a curated evidence bundle into the store
  export                Write the store contents as a bundle to stdout
  count                 Report the number of studies held
  help                  Show this help

The store location comes from the standard configuration (store.path).
`)
}
