package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewKeygenCmd creates the keygen subcommand.
func NewKeygenCmd() *cobra.Command {
	var dir, name string
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 session signing key pair",
		Long: `Generate an Ed25519 key pair as PEM files: <name>.key (PKCS#8) and
<name>.pub (PKIX). Point session.private_key_file and
session.public_key_file at them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			privPath, pubPath, err := writeKeyPair(rand.Reader, dir, name, force)
			if err != nil {
				return err
			}
			cmd.Printf("wrote %s and %s\n", privPath, pubPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "output directory")
	cmd.Flags().StringVar(&name, "name", "session", "file name stem")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func writeKeyPair(random io.Reader, dir, name string, force bool) (string, string, error) {
	pub, priv, err := ed25519.GenerateKey(random)
	if err != nil {
		return "", "", oops.Code("KEY_GENERATION_FAILED").Wrap(err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", oops.Code("KEY_GENERATION_FAILED").Wrap(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", oops.Code("KEY_GENERATION_FAILED").Wrap(err)
	}

	privPath := filepath.Join(dir, name+".key")
	pubPath := filepath.Join(dir, name+".pub")

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	if err := writePEM(privPath, flags, 0o600, "PRIVATE KEY", privDER); err != nil {
		return "", "", err
	}
	if err := writePEM(pubPath, flags, 0o644, "PUBLIC KEY", pubDER); err != nil {
		return "", "", err
	}
	return privPath, pubPath, nil
}

func writePEM(path string, flags int, perm os.FileMode, blockType string, der []byte) error {
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return oops.Code("KEY_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return oops.Code("KEY_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return oops.Code("KEY_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
