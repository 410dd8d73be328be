// Command taxclass-backfill proposes a tax class for every category that has
// none, guessing from the category name. It only prints the proposals unless
// -apply is given.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/vatledger/engine/internal/config"
	"github.com/vatledger/engine/internal/database"
	"github.com/vatledger/engine/internal/logger"
	"github.com/vatledger/engine/internal/repository"
	"github.com/vatledger/engine/internal/service"
)

func main() {
	apply := flag.Bool("apply", false, "store the suggested classes (default is a dry run)")
	actor := flag.String("actor", "taxclass-backfill", "actor recorded in the audit log")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"})
	defer func() { _ = log.Sync() }()

	db, err := database.NewConnection(cfg.Database, log)
	if err != nil {
		log.Fatal("Database connection failed", zap.Error(err))
	}

	categories := service.NewCategoryService(
		repository.NewTransactionManager(db),
		repository.NewCategoryRepository(db),
		repository.NewAuditRepository(db),
		service.WithLogger(log),
	)

	suggestions, err := categories.BackfillTaxClasses(context.Background(), *apply, *actor)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tTAX CLASS\tKEYWORD\tAPPLIED")
	for _, s := range suggestions {
		keyword := s.Keyword
		if keyword == "" {
			keyword = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", s.CategoryName, s.TaxClass, keyword, s.Applied)
	}
	_ = w.Flush()

	if err != nil {
		log.Fatal("Backfill stopped", zap.Error(err))
	}
	if !*apply && len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "%d categories unclassified; rerun with -apply to store these classes\n", len(suggestions))
	}
}
