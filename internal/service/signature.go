package service

import (
	"crypto/hmac"
	"crypto/sha3"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature checks a Firefly "Signature: t=<unix>,v1=<hex>" header.
// The MAC is HMAC-SHA3-256 over "<t>.<body>".
func VerifySignature(secret, header string, body []byte) error {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return ErrInvalidSignature
	}

	got, err := hex.DecodeString(v1)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, Sign(secret, ts, body)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the raw MAC for timestamp ts and body.
func Sign(secret, ts string, body []byte) []byte {
	mac := hmac.New(func() hash.Hash { return sha3.New256() }, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
