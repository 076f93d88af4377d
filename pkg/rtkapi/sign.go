package rtkapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// calcSign computes the request signature the broadcast OpenAPI expects:
// hex(HMAC-SHA256(secret, "METHOD URI k1=v1&k2=v2...")) where the signed
// headers are sorted by key and keys are lowercased.
func calcSign(secretKey, method, uri string, xHeaders map[string]string) string {
	keys := make([]string, 0, len(xHeaders))
	for k := range xHeaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", strings.ToLower(k), xHeaders[k]))
	}

	builder := fmt.Sprintf("%s %s %s", method, uri, strings.Join(pairs, "&"))
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(builder))
	return hex.EncodeToString(mac.Sum(nil))
}
