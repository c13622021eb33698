package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"billdesk/api/internal/archive"
	"billdesk/api/internal/config"
	"billdesk/api/internal/importer"
	"billdesk/api/internal/matching"
	"billdesk/api/internal/search"
	"billdesk/api/internal/session"
	"billdesk/api/internal/sheet"
	"billdesk/api/internal/store"
	"billdesk/api/internal/util"
)

type dataStore interface {
	ListActiveCustomers(context.Context) ([]store.Customer, error)
	GetCustomer(context.Context, string) (store.Customer, error)
	ExistingContracts(context.Context, []string) (map[string]string, error)
	CreateContract(context.Context, store.ContractDraft) (store.Contract, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	Save(context.Context, importer.ImportSession) error
	Load(context.Context, string) (importer.ImportSession, error)
	Delete(context.Context, string) error
	Lock(context.Context, string) (func(), error)
	Ping(ctx context.Context) error
}

type customerSearch interface {
	SearchCustomers(ctx context.Context, term string, activeOnly bool) []importer.CustomerSearchResult
}

type uploadArchive interface {
	Put(ctx context.Context, sessionID, filename string, data []byte) error
	Delete(ctx context.Context, sessionID string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   customerSearch
	archive  uploadArchive
	now      func() time.Time
}

// New wires the import service. uploads may be nil when no object storage is
// configured.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, searchService *search.Service, uploads *archive.Store) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchService,
		now:      time.Now,
	}
	if uploads != nil {
		s.archive = uploads
	}
	return s
}

// UploadImport parses the file, matches every proposal against the active
// customers and stores the result as a new session. Nothing is stored when
// any step fails.
func (s *Service) UploadImport(ctx context.Context, data []byte, filename string, threshold float64) (importer.ImportSession, error) {
	if threshold == 0 {
		threshold = s.cfg.AutoApproveThreshold
	}
	if threshold <= 0 || threshold > 1 {
		return importer.ImportSession{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "autoApproveThreshold must be in (0, 1]", nil)
	}
	if len(data) == 0 {
		return importer.ImportSession{}, uploadFailed("uploaded file is empty", nil)
	}

	doc, err := sheet.Parse(data, filename)
	if err != nil {
		return importer.ImportSession{}, uploadFailed(err.Error(), doc.Errors)
	}

	customers, err := s.store.ListActiveCustomers(ctx)
	if err != nil {
		return importer.ImportSession{}, fmt.Errorf("load customers: %w", err)
	}
	candidates := make([]matching.Customer, 0, len(customers))
	for _, c := range customers {
		candidates = append(candidates, matching.Customer{
			ID:     c.ID,
			Number: c.Number,
			Name:   c.Name,
			City:   importer.DeriveCity(c.Address),
		})
	}
	matcher := matching.New(candidates)

	proposals := doc.Proposals
	keys := make([]string, 0, len(proposals))
	for i := range proposals {
		p := &proposals[i]
		p.ID = fmt.Sprintf("p%d", i+1)
		p.Match = matcher.Match(p.CustomerNumber, p.CustomerName, threshold)
		p.NeedsReview = p.Match.Status() == importer.StatusReview
		keys = append(keys, p.SourceKey())
	}

	existing, err := s.store.ExistingContracts(ctx, keys)
	if err != nil {
		return importer.ImportSession{}, fmt.Errorf("check previous imports: %w", err)
	}
	for i := range proposals {
		if id, ok := existing[keys[i]]; ok {
			proposals[i].ExistingContractID = id
		}
	}

	item := importer.ImportSession{
		ID:        util.NewID("imp"),
		Filename:  filename,
		Threshold: threshold,
		Proposals: proposals,
		Summary:   importer.Summarize(proposals),
		Errors:    doc.Errors,
		CreatedAt: s.now().UTC(),
	}
	if err := item.Summary.Validate(); err != nil {
		return importer.ImportSession{}, err
	}

	if s.archive != nil {
		if err := s.archive.Put(ctx, item.ID, filename, data); err != nil {
			log.Printf("import: archive upload for %s: %v", item.ID, err)
		}
	}
	if err := s.sessions.Save(ctx, item); err != nil {
		return importer.ImportSession{}, err
	}
	log.Printf("import: session %s created from %s with %d proposals (%d parser errors)",
		item.ID, filename, len(proposals), len(doc.Errors))
	return item, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (importer.ImportSession, error) {
	return s.sessions.Load(ctx, sessionID)
}

// ReviewProposals commits review decisions onto the session. The whole batch
// is rejected, leaving the session untouched, when any review is invalid.
func (s *Service) ReviewProposals(ctx context.Context, sessionID string, reviews []importer.Review) (importer.ImportSession, error) {
	unlock, err := s.sessions.Lock(ctx, sessionID)
	if err != nil {
		return importer.ImportSession{}, err
	}
	defer unlock()

	item, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return importer.ImportSession{}, err
	}

	index := make(map[string]int, len(item.Proposals))
	for i, p := range item.Proposals {
		index[p.ID] = i
	}

	rejected := make(map[string]string)
	for _, review := range reviews {
		i, ok := index[review.ProposalID]
		if !ok {
			rejected[review.ProposalID] = "unknown proposal"
			continue
		}
		p := item.Proposals[i]
		if !review.Approved {
			continue
		}
		if p.AlreadyImported() {
			rejected[p.ID] = "already imported as contract " + p.ExistingContractID
			continue
		}
		customerID := strings.TrimSpace(review.SelectedCustomerID)
		if customerID == "" {
			customerID = p.ResolvedCustomerID()
		}
		if customerID == "" {
			rejected[p.ID] = "approved without a customer"
			continue
		}
		if customerID != p.ResolvedCustomerID() {
			if _, err := s.store.GetCustomer(ctx, customerID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					rejected[p.ID] = "customer " + customerID + " does not exist"
					continue
				}
				return importer.ImportSession{}, fmt.Errorf("verify customer: %w", err)
			}
		}
	}
	if len(rejected) > 0 {
		return importer.ImportSession{}, reviewRejected(rejected)
	}

	for _, review := range reviews {
		p := &item.Proposals[index[review.ProposalID]]
		p.Approved = review.Approved
		p.Rejected = !review.Approved
		p.Error = ""
		if id := strings.TrimSpace(review.SelectedCustomerID); id != "" {
			p.SelectedCustomerID = id
		}
	}
	if err := s.sessions.Save(ctx, item); err != nil {
		return importer.ImportSession{}, err
	}
	return item, nil
}

// ApplyProposals creates one contract per approved proposal. Each proposal
// runs in its own transaction so a failing row never blocks its siblings.
func (s *Service) ApplyProposals(ctx context.Context, sessionID string, autoCreateProducts bool) (importer.ApplyResult, error) {
	unlock, err := s.sessions.Lock(ctx, sessionID)
	if err != nil {
		return importer.ApplyResult{}, err
	}
	defer unlock()

	item, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return importer.ApplyResult{}, err
	}

	result := importer.ApplyResult{
		CreatedContracts: []importer.CreatedContract{},
		ErrorsByProposal: map[string]string{},
	}
	attempted := 0
	for i := range item.Proposals {
		p := &item.Proposals[i]
		if !p.Approved || p.AlreadyImported() {
			continue
		}
		attempted++

		created, err := s.createContract(ctx, item.ID, *p, autoCreateProducts)
		if err != nil {
			p.Error = err.Error()
			result.ErrorsByProposal[p.ID] = p.Error
			continue
		}
		p.Error = ""
		p.ExistingContractID = created.ID
		result.CreatedContracts = append(result.CreatedContracts, importer.CreatedContract{
			ID:           created.ID,
			Name:         created.Name,
			CustomerName: created.CustomerName,
			ProposalID:   p.ID,
		})
	}

	if attempted == 0 {
		return importer.ApplyResult{}, domainError(http.StatusUnprocessableEntity, "NOTHING_APPROVED", "No approved proposals to apply", nil)
	}

	if len(result.CreatedContracts) == 0 {
		result.Error = "no contracts could be created"
		if err := s.sessions.Save(ctx, item); err != nil {
			log.Printf("import: keep session %s after failed apply: %v", item.ID, err)
		}
		return result, nil
	}

	result.Success = true
	if err := s.sessions.Delete(ctx, item.ID); err != nil {
		log.Printf("import: delete applied session %s: %v", item.ID, err)
	}
	s.dropArchive(ctx, item.ID)
	log.Printf("import: session %s applied, %d created, %d failed",
		item.ID, len(result.CreatedContracts), len(result.ErrorsByProposal))
	return result, nil
}

func (s *Service) createContract(ctx context.Context, sessionID string, p importer.Proposal, autoCreateProducts bool) (store.Contract, error) {
	customerID := p.ResolvedCustomerID()
	if customerID == "" {
		return store.Contract{}, errors.New("no customer selected")
	}

	items := make([]store.ContractItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, store.ContractItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ItemName:    item.ItemName,
			MonthlyRate: item.MonthlyRate,
		})
	}

	created, err := s.store.CreateContract(ctx, store.ContractDraft{
		Contract: store.Contract{
			CustomerID:            customerID,
			Name:                  contractName(p),
			ContractNumber:        p.ContractNumber,
			SalesOrderNumber:      p.SalesOrderNumber,
			StartDate:             p.StartDate,
			EndDate:               p.EndDate,
			InvoicingInstructions: p.InvoicingInstructions,
			DiscountAmount:        p.DiscountAmount,
			TotalMonthlyRate:      p.TotalMonthlyRate,
			SourceKey:             p.SourceKey(),
			ImportSessionID:       sessionID,
		},
		Items:              items,
		AutoCreateProducts: autoCreateProducts,
	})
	if err != nil {
		log.Printf("import: create contract for %s/%s: %v", sessionID, p.ID, err)
		switch {
		case errors.Is(err, store.ErrAlreadyImported):
			return store.Contract{}, errors.New("contract was already imported")
		case errors.Is(err, store.ErrCustomerMissing), errors.Is(err, store.ErrProductMissing):
			return store.Contract{}, err
		default:
			return store.Contract{}, errors.New("contract could not be created")
		}
	}
	return created, nil
}

func contractName(p importer.Proposal) string {
	for _, candidate := range []string{p.ContractNumber, p.SalesOrderNumber} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return strings.TrimSpace(p.CustomerName)
}

// CancelSession discards the session and its archived upload. Cancelling a
// session that no longer exists succeeds.
func (s *Service) CancelSession(ctx context.Context, sessionID string) error {
	unlock, err := s.sessions.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.dropArchive(ctx, sessionID)
	return nil
}

func (s *Service) dropArchive(ctx context.Context, sessionID string) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Delete(ctx, sessionID); err != nil {
		log.Printf("import: delete archive for %s: %v", sessionID, err)
	}
}

func (s *Service) SearchCustomers(ctx context.Context, term string, activeOnly bool) []importer.CustomerSearchResult {
	return s.search.SearchCustomers(ctx, term, activeOnly)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}
