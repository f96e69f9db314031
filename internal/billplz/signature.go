package billplz

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Callback is the form body Billplz POSTs to the callback URL.
type Callback struct {
	ID         string
	Paid       bool
	State      string
	Amount     string
	PaidAmount string
	PaidAt     string
	Signature  string
}

func ParseCallback(form url.Values) Callback {
	return Callback{
		ID:         form.Get("id"),
		Paid:       strings.EqualFold(form.Get("paid"), "true"),
		State:      form.Get("state"),
		Amount:     form.Get("amount"),
		PaidAmount: form.Get("paid_amount"),
		PaidAt:     form.Get("paid_at"),
		Signature:  form.Get("x_signature"),
	}
}

// ParseRedirect reads billplz[id], billplz[paid], billplz[paid_at] and
// billplz[x_signature] query parameters.
func ParseRedirect(query url.Values) Callback {
	return Callback{
		ID:        query.Get("billplz[id]"),
		Paid:      strings.EqualFold(query.Get("billplz[paid]"), "true"),
		PaidAt:    query.Get("billplz[paid_at]"),
		Signature: query.Get("billplz[x_signature]"),
	}
}

// SourceString builds the X-Signature source: every key+value pair except
// x_signature, with brackets removed from redirect keys, sorted
// case-insensitively and joined by "|".
func SourceString(params url.Values) string {
	pairs := make([]string, 0, len(params))
	for key, values := range params {
		flat := strings.NewReplacer("[", "", "]", "").Replace(key)
		if flat == "x_signature" || flat == "billplzx_signature" {
			continue
		}
		value := ""
		if len(values) > 0 {
			value = values[0]
		}
		pairs = append(pairs, flat+value)
	}
	sort.Slice(pairs, func(i, j int) bool {
		return strings.ToLower(pairs[i]) < strings.ToLower(pairs[j])
	})
	return strings.Join(pairs, "|")
}

func Sign(params url.Values, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(SourceString(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a callback form or redirect query against the
// collection's X Signature Key.
func VerifySignature(params url.Values, key string) bool {
	if key == "" {
		return false
	}
	provided := params.Get("x_signature")
	if provided == "" {
		provided = params.Get("billplz[x_signature]")
	}
	if provided == "" {
		return false
	}
	expected := Sign(params, key)
	return hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected))
}
