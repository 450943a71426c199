package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"time"
)

// integrityHash computes the keyed hash over the canonical, field-ordered
// serialization of an event's immutable identifying fields. The field order
// below is part of the trail's contract: changing it invalidates every stored
// hash.
func integrityHash(key []byte, e Event) string {
	mac := hmac.New(sha256.New, key)
	writeCanonical(mac, e)
	return hex.EncodeToString(mac.Sum(nil))
}

func writeCanonical(w io.Writer, e Event) {
	fields := []string{
		e.ID.String(),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.ActorID,
		e.SessionID,
		e.SubjectHash,
		string(e.Action),
		string(e.Resource),
		e.ResourceID,
		strconv.Itoa(e.OutcomeCode),
		string(e.RiskLevel),
		strings.Join(e.ComplianceFlags, ","),
		e.CorrectionOf.String(),
	}
	for i, f := range fields {
		if i > 0 {
			io.WriteString(w, "\n")
		}
		io.WriteString(w, f)
	}
}

// Verify recomputes an event's integrity hash with the given key and compares
// it against the stored one in constant time.
func Verify(key []byte, e Event) bool {
	return hmac.Equal([]byte(integrityHash(key, e)), []byte(e.IntegrityHash))
}
