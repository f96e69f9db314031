// Package payment holds the provider-agnostic contract implemented by the
// Billplz and BayarCash clients.
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	GatewayBillplz   = "billplz"
	GatewayBayarCash = "bayarcash"
)

type State string

const (
	StatePending State = "pending"
	StatePaid    State = "paid"
	StateFailed  State = "failed"
)

type Request struct {
	OrderNumber string
	Amount      decimal.Decimal
	Description string
	PayerName   string
	PayerEmail  string
	PayerPhone  string
}

type Session struct {
	// Ref is what the gateway will quote back in callbacks (bill id, intent id).
	Ref string
	URL string
}

type Result struct {
	State State
	// Ref identifies the settled payment: the bill id for Billplz, the
	// transaction id for BayarCash.
	Ref    string
	Amount decimal.Decimal
	PaidAt *time.Time
	Reason string
}

// Gateway is implemented by every payment provider. FetchStatus always asks the
// provider; webhook payloads are never trusted on their own.
type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, req Request) (Session, error)
	FetchStatus(ctx context.Context, ref string, orderNumber string) (Result, error)
}

// Registry maps gateway names to implementations.
type Registry map[string]Gateway

func (r Registry) Get(name string) (Gateway, bool) {
	gw, ok := r[name]
	return gw, ok && gw != nil
}
