package signer_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/caesar-terminal/dexlink/internal/dexerr"
	"github.com/caesar-terminal/dexlink/internal/signer"
)

// startDaemon runs a real gRPC server on a temporary Unix domain socket with
// a freshly activated session and returns a connected RemoteSigner.
func startDaemon(t *testing.T, maxOps int64) (*signer.RemoteSigner, string) {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "test-signer.sock")

	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	expectedAddr := crypto.PubkeyToAddress(privKey.PublicKey).Hex()

	sm := signer.NewSessionManager(10 * time.Minute)
	if err := sm.Activate(crypto.FromECDSA(privKey), maxOps); err != nil {
		t.Fatalf("activate: %v", err)
	}

	srv, err := signer.New(socketPath, sm)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	go srv.Serve()
	t.Cleanup(srv.GracefulStop)

	waitForSocket(t, socketPath)

	rs, err := signer.Dial(socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs, expectedAddr
}

// TestIntegration_RemoteSign signs over the socket and verifies the returned
// payload recovers to the daemon's key.
func TestIntegration_RemoteSign(t *testing.T) {
	rs, expectedAddr := startDaemon(t, 0)
	ctx := context.Background()

	st, err := rs.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Active {
		t.Fatal("expected session to be active")
	}
	if st.Address != expectedAddr {
		t.Errorf("address mismatch: got %s, want %s", st.Address, expectedAddr)
	}

	payload := map[string]any{
		"uniqueKey":  "dexlink-operation-abc",
		"token0":     map[string]any{"collection": "GALA", "category": "Unit", "type": "none", "additionalKey": "none"},
		"token1":     map[string]any{"collection": "SILK", "category": "Unit", "type": "none", "additionalKey": "none"},
		"fee":        3000,
		"tickLower":  -600,
		"tickUpper":  600,
		"amount":     "10.25",
		"zeroForOne": true,
	}

	signed, err := rs.Sign(ctx, signer.MethodSwap, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	addr, err := signer.RecoverAddress(signed)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if addr.Hex() != expectedAddr {
		t.Errorf("signer address mismatch: got %s, want %s", addr.Hex(), expectedAddr)
	}

	// The local digest of the original payload matches what the daemon signed.
	local := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		local[k] = v
	}
	local[signer.SignatureField] = signed[signer.SignatureField]
	addr, err = signer.RecoverAddress(local)
	if err != nil {
		t.Fatalf("recover local: %v", err)
	}
	if addr.Hex() != expectedAddr {
		t.Errorf("digest differs across the socket: got %s, want %s", addr.Hex(), expectedAddr)
	}
}

// TestIntegration_OperationLimit verifies the operation cap is enforced
// across calls and surfaces as SessionUnavailable.
func TestIntegration_OperationLimit(t *testing.T) {
	rs, _ := startDaemon(t, 2)
	ctx := context.Background()
	payload := map[string]any{"uniqueKey": "k"}

	for i := 0; i < 2; i++ {
		if _, err := rs.Sign(ctx, signer.MethodCollectPositionFees, payload); err != nil {
			t.Fatalf("sign %d should succeed: %v", i, err)
		}
	}
	_, err := rs.Sign(ctx, signer.MethodCollectPositionFees, payload)
	if !errors.Is(err, dexerr.ErrSessionUnavailable) {
		t.Fatalf("third sign should fail with SessionUnavailable, got %v", err)
	}
}

func TestIntegration_RejectsUnknownMethod(t *testing.T) {
	rs, _ := startDaemon(t, 0)

	_, err := rs.Sign(context.Background(), "burnTokens", map[string]any{"uniqueKey": "k"})
	if !errors.Is(err, dexerr.ErrValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

// waitForSocket polls until the socket file appears or the timeout elapses.
func TestServerReplacesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "nested", "signer.sock")
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(socketPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	srv, err := signer.New(socketPath, signer.NewSessionManager(time.Minute))
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	defer srv.GracefulStop()

	info, err := os.Stat(srv.Path())
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Errorf("expected a socket, got mode %s", info.Mode())
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected 0600, got %o", perm)
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			// Also try connecting to make sure it's listening.
			conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
			if err == nil {
				conn.Close()
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("socket %s did not become available", path)
}
