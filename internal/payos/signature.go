package payos

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
)

// sign returns the hex HMAC-SHA256 of data keyed with key.
func sign(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// linkSignatureData is the canonical string signed on payment link creation.
func linkSignatureData(amount int64, cancelURL, description string, orderCode int64, returnURL string) string {
	var b strings.Builder
	b.WriteString("amount=")
	b.WriteString(strconv.FormatInt(amount, 10))
	b.WriteString("&cancelUrl=")
	b.WriteString(cancelURL)
	b.WriteString("&description=")
	b.WriteString(description)
	b.WriteString("&orderCode=")
	b.WriteString(strconv.FormatInt(orderCode, 10))
	b.WriteString("&returnUrl=")
	b.WriteString(returnURL)
	return b.String()
}

// dataSignatureData joins the fields as k=v pairs sorted by key.
func dataSignatureData(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

func equalSignature(expected, got string) bool {
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(got)))
}
