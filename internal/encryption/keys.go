package encryption

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"admin-auth-service/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSAPI is the subset of the KMS client the key service calls.
type KMSAPI interface {
	GenerateDataKey(ctx context.Context, in *kms.GenerateDataKeyInput, opts ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, opts ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

type KMSKeyService struct {
	client KMSAPI
	keyID  string
}

func NewKMSKeyService(client KMSAPI, keyID string) *KMSKeyService {
	return &KMSKeyService{client: client, keyID: keyID}
}

// NewKMSClient builds a KMS client from the default AWS credential chain.
func NewKMSClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

func (s *KMSKeyService) GenerateDataKey(ctx context.Context) (*DataKey, error) {
	out, err := s.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(s.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return &DataKey{Plaintext: out.Plaintext, Ciphertext: out.CiphertextBlob, KeyID: s.keyID}, nil
}

func (s *KMSKeyService) DecryptDataKey(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
		KeyId:          aws.String(s.keyID),
	})
	if err != nil {
		return nil, err
	}
	return out.Plaintext, nil
}

// LocalKeyService wraps data keys with a master key held in configuration.
// It is meant for development and single-node deployments without KMS.
type LocalKeyService struct {
	master []byte
	keyID  string
}

// NewLocalKeyService derives a 256-bit master key from secret. An empty
// secret yields a random key, so envelopes do not survive a restart.
func NewLocalKeyService(secret string) (*LocalKeyService, error) {
	var master []byte
	if secret == "" {
		master = make([]byte, 32)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("failed to generate master key: %w", err)
		}
	} else {
		sum := sha256.Sum256([]byte(secret))
		master = sum[:]
	}
	id := sha256.Sum256(master)
	return &LocalKeyService{master: master, keyID: "local-" + hex.EncodeToString(id[:4])}, nil
}

func (s *LocalKeyService) GenerateDataKey(_ context.Context) (*DataKey, error) {
	dek := make([]byte, 32)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	wrapped, err := seal(s.master, dek, []byte(s.keyID))
	if err != nil {
		return nil, err
	}
	return &DataKey{Plaintext: dek, Ciphertext: wrapped, KeyID: s.keyID}, nil
}

func (s *LocalKeyService) DecryptDataKey(_ context.Context, ciphertext []byte) ([]byte, error) {
	return open(s.master, ciphertext, []byte(s.keyID))
}
