package signer

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
)

var (
	ErrNoActiveSession        = fmt.Errorf("%w: no active session", dexerr.ErrSessionUnavailable)
	ErrSessionExpired         = fmt.Errorf("%w: session expired", dexerr.ErrSessionUnavailable)
	ErrOperationLimitExceeded = fmt.Errorf("%w: operation limit exceeded", dexerr.ErrSessionUnavailable)
	ErrMethodNotAllowed       = fmt.Errorf("%w: method not allowed", dexerr.ErrValidation)
)

// SessionStatus is a read-only snapshot of a session.
type SessionStatus struct {
	Active        bool
	TTLRemaining  time.Duration
	MaxOperations int64
	Used          int64
	Address       string
}

// SessionManager holds a decrypted signing key in locked memory with a TTL
// and a cap on the number of operations signed. The key is encrypted at rest
// via memguard.Enclave and only opened momentarily during Sign.
type SessionManager struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave // encrypted-at-rest key buffer
	address   string            // derived signer address (hex)
	expiresAt time.Time
	maxOps    int64 // 0 means unlimited
	used      int64
	ttl       time.Duration

	nowFunc func() time.Time
}

// NewSessionManager creates a manager with the given default TTL.
// No session is active until Activate is called.
func NewSessionManager(ttl time.Duration) *SessionManager {
	return &SessionManager{
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Activate seals keyBytes into a memguard Enclave, derives the address from
// the private key, sets expiry, and resets counters. maxOps of 0 allows any
// number of operations. memguard wipes keyBytes once sealed.
func (sm *SessionManager) Activate(keyBytes []byte, maxOps int64) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Derive address before sealing the key.
	privKey, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}
	addr := crypto.PubkeyToAddress(privKey.PublicKey)

	sm.enclave = memguard.NewEnclave(keyBytes)
	sm.expiresAt = sm.nowFunc().Add(sm.ttl)
	sm.maxOps = maxOps
	sm.used = 0
	sm.address = addr.Hex()

	return nil
}

// Sign computes the payload digest, signs it with ECDSA, and returns a copy of
// payload with a hex r||s||v signature attached (v in {27, 28}). It enforces
// the method allow-list, session presence, TTL, and the operation cap.
func (sm *SessionManager) Sign(ctx context.Context, method string, payload map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !MethodAllowed(method) {
		return nil, fmt.Errorf("%w: %q", ErrMethodNotAllowed, method)
	}

	digest, err := Digest(payload)
	if err != nil {
		return nil, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.enclave == nil {
		return nil, ErrNoActiveSession
	}
	if sm.isExpired() {
		sm.destroyLocked()
		return nil, ErrSessionExpired
	}
	if sm.maxOps > 0 && sm.used >= sm.maxOps {
		return nil, ErrOperationLimitExceeded
	}

	// Open the enclave into a LockedBuffer for signing.
	buf, err := sm.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("open enclave: %w", err)
	}
	privKey, err := crypto.ToECDSA(buf.Bytes())
	buf.Destroy()
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	sig, err := crypto.Sign(digest[:], privKey)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	// 0/1 -> 27/28.
	sig[64] += 27

	sm.used++

	signed := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		signed[k] = v
	}
	signed[SignatureField] = "0x" + hex.EncodeToString(sig)
	return signed, nil
}

// Status returns a snapshot of the current session state.
func (sm *SessionManager) Status() SessionStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if sm.enclave == nil || sm.isExpired() {
		return SessionStatus{}
	}

	remaining := sm.expiresAt.Sub(sm.nowFunc())
	if remaining < 0 {
		remaining = 0
	}
	return SessionStatus{
		Active:        true,
		TTLRemaining:  remaining,
		MaxOperations: sm.maxOps,
		Used:          sm.used,
		Address:       sm.address,
	}
}

// Destroy drops the enclave, resetting all session state.
func (sm *SessionManager) Destroy() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.destroyLocked()
}

// destroyLocked performs the actual cleanup. Caller must hold sm.mu.
func (sm *SessionManager) destroyLocked() {
	sm.enclave = nil
	sm.address = ""
	sm.used = 0
	sm.maxOps = 0
}

// isExpired checks whether the session TTL has elapsed. Caller must hold sm.mu.
func (sm *SessionManager) isExpired() bool {
	return sm.nowFunc().After(sm.expiresAt)
}
