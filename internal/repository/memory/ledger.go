package memory

import (
	"context"
	"fmt"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

type clientRepository struct{ st *state }

func (r *clientRepository) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.clients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (r *clientRepository) SavePaymentMethod(ctx context.Context, clientID, methodID, title string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	c, ok := r.st.clients[clientID]
	if !ok {
		return repository.ErrNotFound
	}
	c.PaymentMethodID = &methodID
	c.PaymentMethodTitle = title
	c.AutopayEnabled = true
	c.UpdatedAt = r.st.now()
	return nil
}

func (r *clientRepository) ListIDs(ctx context.Context) ([]string, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	ids := make([]string, 0, len(r.st.clients))
	for id := range r.st.clients {
		ids = append(ids, id)
	}
	return ids, nil
}

type ledgerRepository struct{ st *state }

// post must be called with the mutex held.
func (s *state) post(p *domain.Payment, opts repository.PostOptions) (domain.Money, error) {
	c, ok := s.clients[p.ClientID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if p.EntryKey == "" {
		return 0, fmt.Errorf("payment entry key is required")
	}
	if _, exists := s.entryKeys[p.EntryKey]; exists {
		return c.Balance, repository.ErrDuplicate
	}
	if p.Status == domain.PaymentStatusSucceeded && p.BalanceDelta != 0 {
		if opts.RequireFunds && c.Balance+p.BalanceDelta < 0 {
			return c.Balance, repository.ErrInsufficientBalance
		}
		c.Balance += p.BalanceDelta
		c.UpdatedAt = s.now()
	}
	p.ID = s.id()
	p.CreatedAt = s.now()
	stored := *p
	s.payments = append(s.payments, &stored)
	s.entryKeys[p.EntryKey] = len(s.payments) - 1
	return c.Balance, nil
}

func (r *ledgerRepository) Post(ctx context.Context, p *domain.Payment, opts repository.PostOptions) (domain.Money, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.st.post(p, opts)
}

func (r *ledgerRepository) GetByEntryKey(ctx context.Context, key string) (*domain.Payment, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	idx, ok := r.st.entryKeys[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *r.st.payments[idx]
	return &out, nil
}

func (r *ledgerRepository) FindSucceededByChargeID(ctx context.Context, chargeID string) (*domain.Payment, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	idx, ok := r.st.entryKeys[domain.GatewayEntryKey(chargeID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p := r.st.payments[idx]
	if p.Status != domain.PaymentStatusSucceeded && p.Status != domain.PaymentStatusRefunded {
		return nil, repository.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (r *ledgerRepository) MarkRefunded(ctx context.Context, chargeID string, amount domain.Money) (domain.Money, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	idx, ok := r.st.entryKeys[domain.GatewayEntryKey(chargeID)]
	if !ok {
		return 0, repository.ErrNotFound
	}
	p := r.st.payments[idx]
	if p.Status != domain.PaymentStatusSucceeded {
		return 0, repository.ErrStaleState
	}
	c := r.st.clients[p.ClientID]
	p.Status = domain.PaymentStatusRefunded
	c.Balance -= p.BalanceDelta
	if p.BalanceDelta > 0 && amount < p.BalanceDelta {
		_, err := r.st.post(repository.RefundRemainder(p, p.BalanceDelta-amount), repository.PostOptions{})
		if err != nil {
			return 0, err
		}
	}
	c.UpdatedAt = r.st.now()
	return c.Balance, nil
}

func (r *ledgerRepository) ListByClient(ctx context.Context, clientID string) ([]domain.Payment, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.st.payments {
		if p.ClientID == clientID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *ledgerRepository) SumBalanceDeltas(ctx context.Context, clientID string) (domain.Money, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var sum domain.Money
	for _, p := range r.st.payments {
		if p.ClientID == clientID && p.CountsTowardBalance() {
			sum += p.BalanceDelta
		}
	}
	return sum, nil
}
