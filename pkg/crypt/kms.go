package crypt

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"hash/crc32"
	"time"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nainya/metastream/pkg/envelope"
)

// KMSClient is the subset of the Cloud KMS client used for data key wrapping
type KMSClient interface {
	Encrypt(ctx context.Context, req *kmspb.EncryptRequest, opts ...gax.CallOption) (*kmspb.EncryptResponse, error)
	Decrypt(ctx context.Context, req *kmspb.DecryptRequest, opts ...gax.CallOption) (*kmspb.DecryptResponse, error)
}

var _ KMSClient = (*kms.KeyManagementClient)(nil)

// DefaultKMSTimeout bounds each KMS call
const DefaultKMSTimeout = 30 * time.Second

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func crc32c(b []byte) int64 { return int64(crc32.Checksum(b, crcTable)) }

// KMS encrypts each payload under a random data key and stores the data key
// wrapped by a Cloud KMS key. Output layout is
// len(wrapped) (2 bytes, big endian) | wrapped key | nonce | ciphertext.
type KMS struct {
	ctx     context.Context
	client  KMSClient
	keyName string
	hint    string
	timeout time.Duration
}

var _ envelope.Encryptor = (*KMS)(nil)

// NewKMS creates a KMS encryptor. ctx bounds every later call; the hint
// defaults to the key name.
func NewKMS(ctx context.Context, client KMSClient, keyName, hint string) (*KMS, error) {
	if client == nil || keyName == "" {
		return nil, errors.Wrap(ErrEmptyKey, "kms key name")
	}
	if hint == "" {
		hint = keyName
	}
	return &KMS{ctx: ctx, client: client, keyName: keyName, hint: hint, timeout: DefaultKMSTimeout}, nil
}

// Hint returns the label stored next to encrypted payloads
func (k *KMS) Hint() string { return k.hint }

func retryTransient() gax.CallOption {
	return gax.WithRetry(func() gax.Retryer {
		return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded}, gax.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		})
	})
}

// Encrypt seals data under a fresh data key and wraps the key with KMS
func (k *KMS) Encrypt(data []byte) ([]byte, error) {
	dek := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, errors.Wrap(err, "crypt: data key")
	}

	ctx, cancel := context.WithTimeout(k.ctx, k.timeout)
	defer cancel()
	resp, err := k.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:            k.keyName,
		Plaintext:       dek,
		PlaintextCrc32C: wrapperspb.Int64(crc32c(dek)),
	}, retryTransient())
	if err != nil {
		return nil, errors.Wrapf(err, "kms encrypt with %s", k.keyName)
	}
	if !resp.GetVerifiedPlaintextCrc32C() {
		return nil, errors.Wrap(ErrIntegrity, "kms did not verify the request checksum")
	}
	if resp.GetCiphertextCrc32C() != nil && resp.GetCiphertextCrc32C().GetValue() != crc32c(resp.GetCiphertext()) {
		return nil, errors.Wrap(ErrIntegrity, "kms ciphertext checksum")
	}
	wrapped := resp.GetCiphertext()
	if len(wrapped) > 0xffff {
		return nil, errors.Wrapf(ErrCiphertext, "wrapped key of %d bytes", len(wrapped))
	}

	sealed, err := seal(dek, data)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2, 2+len(wrapped)+len(sealed))
	binary.BigEndian.PutUint16(out, uint16(len(wrapped)))
	out = append(out, wrapped...)
	return append(out, sealed...), nil
}

// Decrypt unwraps the data key with KMS and opens the payload
func (k *KMS) Decrypt(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, errors.Wrapf(ErrCiphertext, "%d bytes", len(data))
	}
	n := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+n {
		return nil, errors.Wrapf(ErrCiphertext, "wrapped key of %d bytes in %d", n, len(data))
	}
	wrapped, body := data[2:2+n], data[2+n:]

	ctx, cancel := context.WithTimeout(k.ctx, k.timeout)
	defer cancel()
	resp, err := k.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:             k.keyName,
		Ciphertext:       wrapped,
		CiphertextCrc32C: wrapperspb.Int64(crc32c(wrapped)),
	}, retryTransient())
	if err != nil {
		return nil, errors.Wrapf(err, "kms decrypt with %s", k.keyName)
	}
	if resp.GetPlaintextCrc32C() != nil && resp.GetPlaintextCrc32C().GetValue() != crc32c(resp.GetPlaintext()) {
		return nil, errors.Wrap(ErrIntegrity, "kms plaintext checksum")
	}
	return open(resp.GetPlaintext(), body)
}
