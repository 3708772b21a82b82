package keys

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/authkeeper/internal/cryptox"
	"github.com/dmitrijs2005/authkeeper/internal/filex"
)

// FileStore keeps key material as PEM files named <kid>.pem under separate
// private and public directories. Every write goes through a temp file and
// a rename, so a crash never leaves a truncated key behind.
type FileStore struct {
	privateDir string
	publicDir  string
	secret     []byte
}

// NewFileStore returns a store rooted at the two directories. When secret is
// non-empty, private keys are sealed with cryptox.SealPEM.
func NewFileStore(privateDir, publicDir string, secret []byte) *FileStore {
	return &FileStore{privateDir: privateDir, publicDir: publicDir, secret: secret}
}

// Init creates both directories.
func (s *FileStore) Init() error {
	if err := filex.EnsureDir(s.privateDir, 0o700); err != nil {
		return err
	}
	return filex.EnsureDir(s.publicDir, 0o755)
}

func (s *FileStore) PrivatePath(kid string) string {
	return filepath.Join(s.privateDir, kid+".pem")
}

func (s *FileStore) PublicPath(kid string) string {
	return filepath.Join(s.publicDir, kid+".pem")
}

// Write persists both halves of key and returns their paths. The public
// file is written first so a key is never usable for signing before it is
// verifiable.
func (s *FileStore) Write(kid string, key *rsa.PrivateKey) (privatePath, publicPath string, err error) {
	pubPEM, err := EncodePublicKey(&key.PublicKey)
	if err != nil {
		return "", "", err
	}
	privPEM, err := EncodePrivateKey(key)
	if err != nil {
		return "", "", err
	}
	if len(s.secret) > 0 {
		if privPEM, err = cryptox.SealPEM(privPEM, s.secret); err != nil {
			return "", "", fmt.Errorf("seal private key: %w", err)
		}
	}

	publicPath = s.PublicPath(kid)
	if err := filex.WriteFileAtomic(publicPath, pubPEM, 0o644); err != nil {
		return "", "", err
	}
	privatePath = s.PrivatePath(kid)
	if err := filex.WriteFileAtomic(privatePath, privPEM, 0o600); err != nil {
		_ = os.Remove(publicPath)
		return "", "", err
	}
	return privatePath, publicPath, nil
}

// ReadPrivate loads a private key, opening it first if it was sealed.
func (s *FileStore) ReadPrivate(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	if cryptox.IsSealed(data) {
		if len(s.secret) == 0 {
			return nil, errors.New("private key is sealed but no key encryption secret is configured")
		}
		if data, err = cryptox.OpenPEM(data, s.secret); err != nil {
			return nil, err
		}
	}
	return ParsePrivateKey(data)
}

func (s *FileStore) ReadPublic(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return ParsePublicKey(data)
}

// ReadPublicPEM returns the raw public PEM for publishing.
func (s *FileStore) ReadPublicPEM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return data, nil
}

// Remove deletes both files. Missing files are not an error.
func (s *FileStore) Remove(privatePath, publicPath string) error {
	var errs []error
	for _, p := range []string{privatePath, publicPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
