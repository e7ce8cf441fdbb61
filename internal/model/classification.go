// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"strings"
)

// Intent is the closed set of things an operator can ask for.
type Intent uint8

// Supported intents. IntentCount must stay last.
const (
	IntentClarify Intent = iota
	IntentCreateReceipt
	IntentCreatePayment
	IntentCreateSalesInvoice
	IntentCreatePurchaseInvoice
	IntentCreateEntity
	IntentQueryBalance
	IntentQueryReport
	IntentHelp
	IntentCount
)

var intentNames = [...]string{
	IntentClarify:               "CLARIFY_REQUEST",
	IntentCreateReceipt:         "CREATE_RECEIPT",
	IntentCreatePayment:         "CREATE_PAYMENT",
	IntentCreateSalesInvoice:    "CREATE_SALES_INVOICE",
	IntentCreatePurchaseInvoice: "CREATE_PURCHASE_INVOICE",
	IntentCreateEntity:          "CREATE_ENTITY",
	IntentQueryBalance:          "QUERY_BALANCE",
	IntentQueryReport:           "QUERY_REPORT",
	IntentHelp:                  "HELP",
}

// Fails to compile when an intent is added without a name.
var _ = [1]struct{}{}[len(intentNames)-int(IntentCount)]

func (i Intent) String() string {
	if i >= IntentCount {
		return fmt.Sprintf("Intent(%d)", uint8(i))
	}
	return intentNames[i]
}

// MarshalText implements encoding.TextMarshaler.
func (i Intent) MarshalText() ([]byte, error) {
	if i >= IntentCount {
		return nil, fmt.Errorf("unknown intent %d", uint8(i))
	}
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Intent) UnmarshalText(text []byte) error {
	parsed, err := ParseIntent(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// ParseIntent maps a name such as "CREATE_RECEIPT" back to its Intent.
func ParseIntent(name string) (Intent, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range intentNames {
		if n == normalized {
			return Intent(i), nil
		}
	}
	return IntentClarify, fmt.Errorf("unknown intent %q", name)
}

// AllIntents returns every intent in declaration order.
func AllIntents() []Intent {
	intents := make([]Intent, 0, IntentCount)
	for i := Intent(0); i < IntentCount; i++ {
		intents = append(intents, i)
	}
	return intents
}

// CreatesVoucher reports whether the intent ends in a ledger write.
func (i Intent) CreatesVoucher() bool {
	switch i {
	case IntentCreateReceipt, IntentCreatePayment, IntentCreateSalesInvoice, IntentCreatePurchaseInvoice:
		return true
	default:
		return false
	}
}

// VoucherType is the ledger document type the intent produces.
func (i Intent) VoucherType() VoucherType {
	switch i {
	case IntentCreateReceipt:
		return VoucherReceipt
	case IntentCreatePayment:
		return VoucherPayment
	case IntentCreateSalesInvoice:
		return VoucherSales
	case IntentCreatePurchaseInvoice:
		return VoucherPurchase
	default:
		return ""
	}
}

// ClassificationMethod records which path produced a classification.
type ClassificationMethod string

// Classification methods.
const (
	MethodPattern ClassificationMethod = "pattern"
	MethodLLM     ClassificationMethod = "llm"
)

// Classification is the immutable result of classifying one input.
type Classification struct {
	Method     ClassificationMethod `json:"method"`
	Intent     Intent               `json:"intent"`
	Confidence float64              `json:"confidence"`
}

// Clarify is the classification returned when no path is confident enough.
func Clarify() Classification {
	return Classification{Intent: IntentClarify, Confidence: 0, Method: MethodLLM}
}
