package contacts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetContact(ctx context.Context, id uuid.UUID) (Contact, error)
	ListContacts(ctx context.Context, filter Filter) ([]Contact, error)
	ContactStats(ctx context.Context, id uuid.UUID) (Stats, error)
	Summary(ctx context.Context) (Summary, error)
}

// TxRepository exposes contact writes inside a unit of work.
// FindContactByName only considers contacts that are not archived.
type TxRepository interface {
	GetContact(ctx context.Context, id uuid.UUID) (Contact, error)
	FindContactByName(ctx context.Context, name string, typ Type) (Contact, bool, error)
	InsertContact(ctx context.Context, contact Contact) error
	UpdateContact(ctx context.Context, contact Contact) error
	IsReferenced(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteContact(ctx context.Context, id uuid.UUID) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages contacts.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	policy DeletePolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, policy DeletePolicy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = BlockDelete
	}
	return &Service{repo: repo, audit: audit, policy: policy, logger: logger, now: time.Now}
}

// List returns active contacts matching filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Contact, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page = shared.NewPage(filter.Page.Limit, filter.Page.Offset)
	return s.repo.ListContacts(ctx, filter)
}

// Get loads one contact.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Contact, error) {
	return s.repo.GetContact(ctx, id)
}

// Create registers a contact. Names are unique per type after case folding.
func (s *Service) Create(ctx context.Context, input Input) (Contact, error) {
	contact, err := s.newContact(input)
	if err != nil {
		return Contact{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, found, err := tx.FindContactByName(ctx, contact.Name, contact.Type); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%w: %s %q already exists", shared.ErrConflict, strings.ToLower(string(contact.Type)), contact.Name)
		}
		return tx.InsertContact(ctx, contact)
	})
	if err != nil {
		return Contact{}, err
	}
	s.record(ctx, "contact:create", contact.ID, map[string]any{"name": contact.Name, "type": string(contact.Type)})
	return contact, nil
}

// Update changes descriptive fields of a contact.
func (s *Service) Update(ctx context.Context, id uuid.UUID, update Update) (Contact, error) {
	var contact Contact
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetContact(ctx, id)
		if err != nil {
			return err
		}
		if current.Archived {
			return fmt.Errorf("contact %s: %w", id, shared.ErrNotFound)
		}
		if update.Name != nil {
			name := strings.TrimSpace(*update.Name)
			if name == "" {
				return fmt.Errorf("%w: contact name required", shared.ErrValidation)
			}
			if FoldName(name) != FoldName(current.Name) {
				other, found, err := tx.FindContactByName(ctx, name, current.Type)
				if err != nil {
					return err
				}
				if found && other.ID != current.ID {
					return fmt.Errorf("%w: contact %q already exists", shared.ErrConflict, name)
				}
			}
			current.Name = name
		}
		if update.Phone != nil {
			current.Phone = strings.TrimSpace(*update.Phone)
		}
		if update.Address != nil {
			current.Address = strings.TrimSpace(*update.Address)
		}
		if update.Notes != nil {
			current.Notes = strings.TrimSpace(*update.Notes)
		}
		current.UpdatedAt = s.now().UTC()
		contact = current
		return tx.UpdateContact(ctx, current)
	})
	if err != nil {
		return Contact{}, err
	}
	s.record(ctx, "contact:update", contact.ID, nil)
	return contact, nil
}

// Delete removes a contact. Referenced contacts are refused under the block
// policy and archived under the archive policy; archived reports the latter.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (archived bool, err error) {
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		contact, err := tx.GetContact(ctx, id)
		if err != nil {
			return err
		}
		if contact.Archived {
			return fmt.Errorf("contact %s: %w", id, shared.ErrNotFound)
		}
		referenced, err := tx.IsReferenced(ctx, id)
		if err != nil {
			return err
		}
		if !referenced {
			return tx.DeleteContact(ctx, id)
		}
		if s.policy == BlockDelete {
			return fmt.Errorf("%w: contact %s is referenced by transactions", shared.ErrConflict, contact.Name)
		}
		contact.Archived = true
		contact.UpdatedAt = s.now().UTC()
		archived = true
		return tx.UpdateContact(ctx, contact)
	})
	if err != nil {
		return false, err
	}
	action := "contact:delete"
	if archived {
		action = "contact:archive"
	}
	s.record(ctx, action, id, nil)
	return archived, nil
}

// Stats aggregates the transactions of a contact.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (Stats, error) {
	if _, err := s.repo.GetContact(ctx, id); err != nil {
		return Stats{}, err
	}
	return s.repo.ContactStats(ctx, id)
}

// Summary counts customers and suppliers.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	return s.repo.Summary(ctx)
}

// ResolveTx picks the contact of a transaction inside its unit of work. An
// explicit id must name an active contact of typ; inline data is matched by
// folded name and created when unknown. It returns nil when neither is given
// and reports whether a contact was created.
func (s *Service) ResolveTx(ctx context.Context, tx TxRepository, id *uuid.UUID, inline *Inline, typ Type) (*Contact, bool, error) {
	if id != nil {
		contact, err := tx.GetContact(ctx, *id)
		if err != nil {
			return nil, false, err
		}
		if contact.Archived {
			return nil, false, fmt.Errorf("contact %s: %w", *id, shared.ErrNotFound)
		}
		if contact.Type != typ {
			return nil, false, fmt.Errorf("%w: contact %s is a %s", shared.ErrValidation, contact.Name, strings.ToLower(string(contact.Type)))
		}
		return &contact, false, nil
	}
	if inline == nil || strings.TrimSpace(inline.Name) == "" {
		return nil, false, nil
	}
	existing, found, err := tx.FindContactByName(ctx, inline.Name, typ)
	if err != nil {
		return nil, false, err
	}
	if found {
		return &existing, false, nil
	}
	contact, err := s.newContact(Input{Name: inline.Name, Type: typ, Phone: inline.Phone, Address: inline.Address})
	if err != nil {
		return nil, false, err
	}
	if err := tx.InsertContact(ctx, contact); err != nil {
		return nil, false, err
	}
	return &contact, true, nil
}

func (s *Service) newContact(input Input) (Contact, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Contact{}, fmt.Errorf("%w: contact name required", shared.ErrValidation)
	}
	if !input.Type.Valid() {
		return Contact{}, fmt.Errorf("%w: contact type must be CUSTOMER or SUPPLIER", shared.ErrValidation)
	}
	now := s.now().UTC()
	return Contact{
		ID:        uuid.New(),
		Name:      name,
		Type:      input.Type,
		Phone:     strings.TrimSpace(input.Phone),
		Address:   strings.TrimSpace(input.Address),
		Notes:     strings.TrimSpace(input.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Service) record(ctx context.Context, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "contact", EntityID: id.String(), Meta: meta}); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
