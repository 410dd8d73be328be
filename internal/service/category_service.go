package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vatledger/engine/internal/model"
	"github.com/vatledger/engine/internal/repository"
	"github.com/vatledger/engine/internal/vat"
)

// --- DTOs ---

// TaxClassSuggestion is the backfill's proposal for one unclassified category.
type TaxClassSuggestion struct {
	CategoryID   uuid.UUID    `json:"category_id"`
	CategoryName string       `json:"category_name"`
	TaxClass     vat.TaxClass `json:"tax_class"`
	Keyword      string       `json:"keyword,omitempty"` // empty when nothing matched and STANDARD was assumed
	Applied      bool         `json:"applied"`
}

// --- Interface ---

type CategoryService interface {
	AssignTaxClass(ctx context.Context, categoryID uuid.UUID, class vat.TaxClass, actor string) error
	// BackfillTaxClasses proposes a class for every category without one and,
	// when apply is set, stores it.
	BackfillTaxClasses(ctx context.Context, apply bool, actor string) ([]TaxClassSuggestion, error)
}

type categoryService struct {
	txManager    repository.TransactionManager
	categoryRepo repository.CategoryRepository
	audit        auditWriter

	options
}

func NewCategoryService(
	txManager repository.TransactionManager,
	categoryRepo repository.CategoryRepository,
	auditRepo repository.AuditRepository,
	opts ...Option,
) CategoryService {
	return &categoryService{
		txManager:    txManager,
		categoryRepo: categoryRepo,
		audit:        auditWriter{repo: auditRepo},
		options:      buildOptions(opts),
	}
}

// Keywords are checked in order; the first hit wins.
var taxClassKeywords = []struct {
	keyword string
	class   vat.TaxClass
}{
	{"insurance", vat.ClassExempt},
	{"education", vat.ClassExempt},
	{"course", vat.ClassExempt},
	{"medical service", vat.ClassExempt},
	{"newspaper", vat.ClassSecondReduced},
	{"magazine", vat.ClassSecondReduced},
	{"periodical", vat.ClassSecondReduced},
	{"fuel", vat.ClassReduced},
	{"heating", vat.ClassReduced},
	{"energy", vat.ClassReduced},
	{"repair", vat.ClassReduced},
	{"cleaning", vat.ClassReduced},
	{"book", vat.ClassZero},
	{"food", vat.ClassZero},
	{"grocer", vat.ClassZero},
	{"children", vat.ClassZero},
	{"baby", vat.ClassZero},
	{"medicine", vat.ClassZero},
	{"pharma", vat.ClassZero},
}

// SuggestTaxClass guesses a class from a category name. It returns the
// matched keyword, or STANDARD and "" when nothing matched.
func SuggestTaxClass(name string) (vat.TaxClass, string) {
	lower := strings.ToLower(name)
	for _, k := range taxClassKeywords {
		if strings.Contains(lower, k.keyword) {
			return k.class, k.keyword
		}
	}
	return vat.ClassStandard, ""
}

func (s *categoryService) AssignTaxClass(ctx context.Context, categoryID uuid.UUID, class vat.TaxClass, actor string) error {
	const op = "category.assign_tax_class"

	class, err := vat.ParseTaxClass(string(class))
	if err != nil {
		return err
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		cat, err := s.categoryRepo.FindByID(txCtx, categoryID)
		if err != nil {
			return lookupErr(err, op, "category "+categoryID.String())
		}
		return s.assign(txCtx, cat, class, actor, "")
	})
}

func (s *categoryService) assign(ctx context.Context, cat *model.Category, class vat.TaxClass, actor, keyword string) error {
	previous := ""
	if cat.TaxClass != nil {
		previous = *cat.TaxClass
	}
	if err := s.categoryRepo.UpdateTaxClass(ctx, cat.ID, string(class)); err != nil {
		return fmt.Errorf("failed to update tax class: %w", err)
	}
	details := map[string]string{"previous": previous, "tax_class": string(class)}
	if keyword != "" {
		details["matched_keyword"] = keyword
	}
	return s.audit.write(ctx, actor, model.ActionAssignTaxClass, cat.ID.String(), cat.Name, details)
}

func (s *categoryService) BackfillTaxClasses(ctx context.Context, apply bool, actor string) ([]TaxClassSuggestion, error) {
	categories, err := s.categoryRepo.ListUnclassified(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unclassified categories: %w", err)
	}

	suggestions := make([]TaxClassSuggestion, 0, len(categories))
	for i := range categories {
		cat := &categories[i]
		class, keyword := SuggestTaxClass(cat.Name)
		suggestion := TaxClassSuggestion{
			CategoryID:   cat.ID,
			CategoryName: cat.Name,
			TaxClass:     class,
			Keyword:      keyword,
		}

		if apply {
			err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
				return s.assign(txCtx, cat, class, actor, keyword)
			})
			if err != nil {
				return suggestions, fmt.Errorf("category %s: %w", cat.ID, err)
			}
			suggestion.Applied = true
		}

		s.logger.Info("Tax class suggestion",
			zap.String("category", cat.Name),
			zap.String("tax_class", string(class)),
			zap.String("keyword", keyword),
			zap.Bool("applied", suggestion.Applied))
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, nil
}
