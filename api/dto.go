/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. The engine types carry
  decimals, time.Time and typed IDs; the wire carries strings in fixed
  formats so clients never depend on Go field names.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

FORMATS:
  Money and hours:  decimal strings ("23.50", "1.5")
  Instants:         RFC 3339 ("2025-03-10T09:00:00-07:00")
  Dates:            YYYY-MM-DD, interpreted in the configured timezone

SEE ALSO:
  - handlers.go: Uses these types
  - catalog/catalog.go: ResourceJSON request body
*/
package api

import (
	"time"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/booking"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/catalog"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/membership"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// BookingRequest is the body of POST /api/quotes and POST /api/reservations.
type BookingRequest struct {
	ResourceID string    `json:"resource_id"`
	UserID     string    `json:"user_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

func (b BookingRequest) input() booking.BookingInput {
	return booking.BookingInput{
		ResourceID: engine.ResourceID(b.ResourceID),
		UserID:     engine.UserID(b.UserID),
		Start:      b.Start,
		End:        b.End,
	}
}

// CheckInRequest optionally names the resource being entered.
type CheckInRequest struct {
	ResourceID string `json:"resource_id,omitempty"`
}

// CreateMemberRequest is the body of POST /api/members.
type CreateMemberRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	PlanID   string `json:"plan_id,omitempty"`
	Holder   bool   `json:"holder"`
	JoinedAt string `json:"joined_at,omitempty"` // YYYY-MM-DD
}

// AllocationRequest is the body of POST /api/allocations/run.
type AllocationRequest struct {
	At *time.Time `json:"at,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type ResourceDTO struct {
	catalog.ResourceJSON
	Version int `json:"version,omitempty"`
}

type MemberDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	PlanID   string `json:"plan_id,omitempty"`
	Holder   bool   `json:"holder"`
	JoinedAt string `json:"joined_at,omitempty"`
}

type SlotDTO struct {
	ResourceID   string    `json:"resource_id"`
	ResourceName string    `json:"resource_name"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Available    bool      `json:"available"`
}

// PriceDTO is an itemized price.
type PriceDTO struct {
	Regime         string          `json:"regime"`
	Hours          decimal.Decimal `json:"hours"`
	BaseRate       decimal.Decimal `json:"base_rate"`
	HolderDiscount bool            `json:"holder_discount"`
	EffectiveRate  decimal.Decimal `json:"effective_rate"`
	CreditsApplied decimal.Decimal `json:"credits_applied"`
	OverageHours   decimal.Decimal `json:"overage_hours"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	ProcessingFee  decimal.Decimal `json:"processing_fee"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"payment_method"`
}

type QuoteDTO struct {
	ResourceID       string          `json:"resource_id"`
	UserID           string          `json:"user_id"`
	Date             string          `json:"date"`
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	Price            PriceDTO        `json:"price"`
	AvailableCredits decimal.Decimal `json:"available_credits"`
	Available        bool            `json:"available"`
	ConflictID       string          `json:"conflict_id,omitempty"`
}

type SettlementDTO struct {
	Kind                string          `json:"kind"`
	BookedHours         decimal.Decimal `json:"booked_hours"`
	ActualHours         decimal.Decimal `json:"actual_hours"`
	Hours               decimal.Decimal `json:"hours"`
	Rate                decimal.Decimal `json:"rate"`
	Amount              decimal.Decimal `json:"amount"`
	CreditHoursReturned decimal.Decimal `json:"credit_hours_returned"`
}

type ReservationDTO struct {
	ID             string          `json:"id"`
	ResourceID     string          `json:"resource_id"`
	UserID         string          `json:"user_id"`
	Date           string          `json:"date"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	Status         string          `json:"status"`
	HolderDiscount bool            `json:"holder_discount"`
	EffectiveRate  decimal.Decimal `json:"effective_rate"`
	CreditType     string          `json:"credit_type,omitempty"`
	CreditHours    decimal.Decimal `json:"credit_hours"`
	OverageHours   decimal.Decimal `json:"overage_hours"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	ProcessingFee  decimal.Decimal `json:"processing_fee"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  string          `json:"payment_method"`
	CheckedInAt    *time.Time      `json:"checked_in_at,omitempty"`
	CheckedOutAt   *time.Time      `json:"checked_out_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Settlement     *SettlementDTO  `json:"settlement,omitempty"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

type CancellationDTO struct {
	Reservation ReservationDTO  `json:"reservation"`
	FullRefund  bool            `json:"full_refund"`
	Refund      decimal.Decimal `json:"refund"`
	CreditHours decimal.Decimal `json:"credit_hours"`
}

type BalanceDTO struct {
	CreditType string          `json:"credit_type"`
	Unit       string          `json:"unit"`
	CycleStart time.Time       `json:"cycle_start"`
	CycleEnd   time.Time       `json:"cycle_end"`
	Allocated  decimal.Decimal `json:"allocated"`
	Used       decimal.Decimal `json:"used"`
	Remaining  decimal.Decimal `json:"remaining"`
}

type CreditTransactionDTO struct {
	ID            string          `json:"id"`
	CreditType    string          `json:"credit_type"`
	Kind          string          `json:"kind"`
	ReservationID string          `json:"reservation_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

type AllocationRunDTO struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	At          time.Time  `json:"at"`
	Members     int        `json:"members"`
	Created     int        `json:"created"`
	Existing    int        `json:"existing"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toMemberDTO(m membership.Member) MemberDTO {
	dto := MemberDTO{
		ID:     string(m.ID),
		Name:   m.Name,
		Email:  m.Email,
		PlanID: string(m.PlanID),
		Holder: m.Holder,
	}
	if !m.JoinedAt.IsZero() {
		dto.JoinedAt = m.JoinedAt.Format(dateLayout)
	}
	return dto
}

func toSlotDTOs(slots []engine.Slot) []SlotDTO {
	dtos := make([]SlotDTO, len(slots))
	for i, s := range slots {
		dtos[i] = SlotDTO{
			ResourceID:   string(s.ResourceID),
			ResourceName: s.ResourceName,
			Start:        s.Start,
			End:          s.End,
			Available:    s.Available,
		}
	}
	return dtos
}

func toPriceDTO(p engine.PriceBreakdown) PriceDTO {
	return PriceDTO{
		Regime:         string(p.Regime),
		Hours:          p.Hours,
		BaseRate:       p.BaseRate,
		HolderDiscount: p.HolderDiscount,
		EffectiveRate:  p.EffectiveRate,
		CreditsApplied: p.CreditsApplied,
		OverageHours:   p.OverageHours,
		Subtotal:       p.Subtotal,
		Discount:       p.Discount,
		ProcessingFee:  p.ProcessingFee,
		Total:          p.Total,
		PaymentMethod:  string(p.PaymentMethod()),
	}
}

func toQuoteDTO(q *booking.Quote) QuoteDTO {
	return QuoteDTO{
		ResourceID:       string(q.Request.Resource.ID),
		UserID:           string(q.Request.UserID),
		Date:             q.Request.Date().Format(dateLayout),
		Start:            q.Request.Window.Start,
		End:              q.Request.Window.End,
		Price:            toPriceDTO(q.Price),
		AvailableCredits: q.AvailableCredits,
		Available:        q.Available,
		ConflictID:       string(q.ConflictID),
	}
}

func toReservationDTO(r engine.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:             string(r.ID),
		ResourceID:     string(r.ResourceID),
		UserID:         string(r.UserID),
		Date:           r.Date.Format(dateLayout),
		Start:          r.Start,
		End:            r.End,
		Status:         string(r.Status),
		HolderDiscount: r.HolderDiscount,
		EffectiveRate:  r.EffectiveRate,
		CreditType:     string(r.CreditType),
		CreditHours:    r.CreditHours,
		OverageHours:   r.OverageHours,
		Subtotal:       r.Subtotal,
		Discount:       r.Discount,
		ProcessingFee:  r.ProcessingFee,
		Total:          r.Total,
		PaymentMethod:  string(r.PaymentMethod),
		CheckedInAt:    r.CheckedInAt,
		CheckedOutAt:   r.CheckedOutAt,
		CancelledAt:    r.CancelledAt,
		RefundAmount:   r.RefundAmount,
		CreatedAt:      r.CreatedAt,
	}
	if s := r.Settlement; s != nil {
		dto.Settlement = &SettlementDTO{
			Kind:                string(s.Kind),
			BookedHours:         s.BookedHours,
			ActualHours:         s.ActualHours,
			Hours:               s.Hours,
			Rate:                s.Rate,
			Amount:              s.Amount,
			CreditHoursReturned: s.CreditHoursReturned,
		}
	}
	return dto
}

func toReservationDTOs(rs []engine.Reservation) []ReservationDTO {
	dtos := make([]ReservationDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toReservationDTO(r)
	}
	return dtos
}

func toBalanceDTO(s booking.CreditSummary) BalanceDTO {
	return BalanceDTO{
		CreditType: string(s.CreditType),
		Unit:       string(s.Remaining.Unit),
		CycleStart: s.Cycle.Start,
		CycleEnd:   s.Cycle.End,
		Allocated:  s.Allocated,
		Used:       s.Used,
		Remaining:  s.Remaining.Value,
	}
}

func toCreditTransactionDTOs(txs []engine.CreditTransaction) []CreditTransactionDTO {
	dtos := make([]CreditTransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = CreditTransactionDTO{
			ID:            tx.ID,
			CreditType:    string(tx.CreditType),
			Kind:          string(tx.Kind),
			ReservationID: string(tx.ReservationID),
			Amount:        tx.Amount,
			BalanceAfter:  tx.BalanceAfter,
			CreatedAt:     tx.CreatedAt,
		}
	}
	return dtos
}

func toAllocationRunDTO(run membership.AllocationRun) AllocationRunDTO {
	return AllocationRunDTO{
		ID:          run.ID,
		Status:      string(run.Status),
		At:          run.At,
		Members:     run.Members,
		Created:     run.Created,
		Existing:    run.Existing,
		Failed:      run.Failed,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}
}
