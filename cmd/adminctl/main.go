package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"admin-auth-service/internal/config"
	"admin-auth-service/internal/encryption"
	"admin-auth-service/internal/hashing"
	"admin-auth-service/internal/permission"
	"admin-auth-service/internal/repository/scylla"
	"admin-auth-service/internal/util"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "adminctl",
		Short:         "Operator tooling for the admin authentication service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(newCreateAdminCommand())
	cmd.AddCommand(newHashEmergencyCodeCommand())
	cmd.AddCommand(newCheckPermissionsCommand())
	return cmd
}

func newCreateAdminCommand() *cobra.Command {
	var (
		email     string
		role      string
		createdBy string
	)

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account and print its TOTP enrollment",
		Long: `Creates or replaces an admin account in Scylla. The password is read
from stdin. The TOTP secret is printed once and is not recoverable later.

Example:
  echo -n 's3cret' | adminctl create-admin --email ops@example.com --role admin --created-by alice`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, ok := permission.ParseRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return createAdmin(cmd.Context(), cmd.OutOrStdout(), util.NormalizeEmail(email), password, parsed, createdBy)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email address (required)")
	cmd.Flags().StringVar(&role, "role", string(permission.RoleAdmin), "Role level")
	cmd.Flags().StringVar(&createdBy, "created-by", os.Getenv("USER"), "Operator recorded as creator")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func createAdmin(ctx context.Context, out io.Writer, email, password string, role permission.Role, createdBy string) error {
	cfg := config.LoadConfig()
	logger := util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, err := scylla.NewScyllaClient(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	var keys encryption.KeyService
	if cfg.KMS.Enabled {
		kmsClient, err := encryption.NewKMSClient(ctx, cfg)
		if err != nil {
			return err
		}
		keys = encryption.NewKMSKeyService(kmsClient, cfg.KMS.KeyID)
	} else {
		if cfg.KMS.MasterKey == "" {
			return errors.New("LOCAL_MASTER_KEY must be set so the server can decrypt the TOTP secret")
		}
		local, err := encryption.NewLocalKeyService(cfg.KMS.MasterKey)
		if err != nil {
			return err
		}
		keys = local
	}

	repo, err := scylla.NewAdminUserRepository(store, hashing.NewHasher(cfg), encryption.NewEncryptionManager(keys), logger.Named("admin_users"))
	if err != nil {
		return err
	}

	enrollment, err := repo.CreateAdmin(ctx, email, password, role, createdBy)
	if err != nil {
		logger.Error("failed to create admin", zap.String("email", email), zap.Error(err))
		return err
	}

	fmt.Fprintf(out, "admin_id:    %s\n", enrollment.AdminID)
	fmt.Fprintf(out, "totp_secret: %s\n", enrollment.MFASecret)
	fmt.Fprintf(out, "totp_url:    %s\n", enrollment.MFAURL)
	return nil
}

func newHashEmergencyCodeCommand() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-emergency-code",
		Short: "Hash a break-glass code for EMERGENCY_CODE_HASH",
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := hashEmergencyCode(code, cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", 12, "bcrypt cost")
	return cmd
}

func hashEmergencyCode(code string, cost int) (string, error) {
	if len(code) < 16 {
		return "", errors.New("emergency code must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash emergency code: %w", err)
	}
	return string(hash), nil
}

func newCheckPermissionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-permissions <file>",
		Short: "Validate a permission matrix file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := permission.LoadMatrix(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}

// readSecret takes the first line of r without its line ending.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", errors.New("empty secret on stdin")
	}
	return secret, nil
}
