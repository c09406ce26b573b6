// Package kms unwraps the signer daemon's private key with AWS KMS.
package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// API is the subset of the KMS service the client uses.
type API interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Client wraps the AWS KMS SDK to perform decryption operations.
type Client struct {
	kms   API
	keyID string
}

// New creates a KMS Client. If localStackEndpoint is non-empty, the client
// targets that endpoint with dummy credentials (for local development).
// Otherwise it uses the AWS default credential chain (IAM Roles in production).
// keyID, when set, pins the key Decrypt must use.
func New(ctx context.Context, region, localStackEndpoint, keyID string) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))

	if localStackEndpoint != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config: %w", err)
	}

	var kmsOpts []func(*kms.Options)
	if localStackEndpoint != "" {
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(localStackEndpoint)
		})
	}

	return NewWithAPI(kms.NewFromConfig(cfg, kmsOpts...), keyID), nil
}

// NewWithAPI builds a Client around an existing KMS API implementation.
func NewWithAPI(api API, keyID string) *Client {
	return &Client{kms: api, keyID: keyID}
}

// Decrypt sends the ciphertext blob to KMS and returns the decrypted plaintext bytes.
// The caller is responsible for securing the returned bytes (e.g. sealing
// them into a memguard enclave).
func (c *Client) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	in := &kms.DecryptInput{CiphertextBlob: ciphertext}
	if c.keyID != "" {
		in.KeyId = aws.String(c.keyID)
	}
	out, err := c.kms.Decrypt(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt: %w", err)
	}
	if len(out.Plaintext) == 0 {
		return nil, errors.New("kms: decrypt returned empty plaintext")
	}
	return out.Plaintext, nil
}

// DecryptFile reads a base64 ciphertext blob from path and decrypts it.
func (c *Client) DecryptFile(ctx context.Context, path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kms: read ciphertext: %w", err)
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("kms: decode ciphertext %s: %w", path, err)
	}
	return c.Decrypt(ctx, blob)
}
