package bayarcash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Checksum is HMAC-SHA256 (hex) over the values ordered by key and joined with "|".
func Checksum(values map[string]string, secret string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, values[k])
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Callback is a transaction or pre-transaction notification.
type Callback struct {
	RecordType              string
	TransactionID           string
	ExchangeReferenceNumber string
	OrderNumber             string
	Amount                  decimal.Decimal
	Status                  int
	StatusDescription       string
	Checksum                string
	Fields                  map[string]string
}

func ParseCallback(form url.Values) Callback {
	fields := make(map[string]string, len(form))
	for k := range form {
		if k == "checksum" {
			continue
		}
		fields[k] = form.Get(k)
	}
	status, _ := strconv.Atoi(strings.TrimSpace(form.Get("status")))
	amount, _ := decimal.NewFromString(strings.TrimSpace(form.Get("amount")))
	return Callback{
		RecordType:              form.Get("record_type"),
		TransactionID:           form.Get("transaction_id"),
		ExchangeReferenceNumber: form.Get("exchange_reference_number"),
		OrderNumber:             form.Get("order_number"),
		Amount:                  amount,
		Status:                  status,
		StatusDescription:       form.Get("status_description"),
		Checksum:                form.Get("checksum"),
		Fields:                  fields,
	}
}

func (c Callback) IsPreTransaction() bool {
	return c.RecordType == "pre_transaction"
}

// VerifyCallbackChecksum recomputes the checksum over every posted field
// except the checksum itself.
func VerifyCallbackChecksum(cb Callback, secret string) bool {
	if secret == "" || cb.Checksum == "" {
		return false
	}
	expected := Checksum(cb.Fields, secret)
	return hmac.Equal([]byte(strings.ToLower(cb.Checksum)), []byte(expected))
}
