package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/signingkeys"
)

const (
	DefaultKeyBits       = 2048
	defaultRetryInterval = time.Minute
)

// KeyPair is the key currently used for issuance.
type KeyPair struct {
	Meta    models.SigningKey
	Private *rsa.PrivateKey
}

// VerificationKey is a public key that still verifies tokens.
type VerificationKey struct {
	KeyID       string
	Public      *rsa.PublicKey
	PublicPEM   []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
	VerifyUntil time.Time
}

// Publisher receives the full verification key set after every rotation.
type Publisher interface {
	Publish(ctx context.Context, keys []VerificationKey) error
}

type cachedKey struct {
	public      *rsa.PublicKey
	verifyUntil time.Time
}

// Rotator owns the signing key lifecycle: none -> active -> retired ->
// discarded. A single background goroutine rotates the active key when its
// ExpiresAt passes; request handlers only ever read the current key through
// an atomic pointer and never wait on storage I/O held by the rotator.
type Rotator struct {
	repo      signingkeys.Repository
	files     *FileStore
	logger    logging.Logger
	publisher Publisher

	rotationPeriod time.Duration
	accessTTL      time.Duration
	keyBits        int
	retryInterval  time.Duration
	now            func() time.Time

	current atomic.Pointer[KeyPair]

	cacheMu sync.RWMutex
	cache   map[string]cachedKey

	// rotateMu serialises rotations; the read path never takes it.
	rotateMu sync.Mutex

	done chan struct{}
}

// Option customises a Rotator.
type Option func(*Rotator)

func WithPublisher(p Publisher) Option {
	return func(r *Rotator) { r.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(r *Rotator) { r.now = now }
}

func WithKeyBits(bits int) Option {
	return func(r *Rotator) { r.keyBits = bits }
}

func WithRetryInterval(d time.Duration) Option {
	return func(r *Rotator) { r.retryInterval = d }
}

// NewRotator builds a rotator. accessTTL is the maximum access token
// lifetime, which extends every key's verification window past ExpiresAt.
func NewRotator(repo signingkeys.Repository, files *FileStore, l logging.Logger, rotationPeriod, accessTTL time.Duration, opts ...Option) *Rotator {
	r := &Rotator{
		repo:           repo,
		files:          files,
		logger:         l.With("module", "key_rotator"),
		rotationPeriod: rotationPeriod,
		accessTTL:      accessTTL,
		keyBits:        DefaultKeyBits,
		retryInterval:  defaultRetryInterval,
		now:            time.Now,
		cache:          make(map[string]cachedKey),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load makes the latest persisted key current, rotating when there is none
// or it is no longer issuable. It does not start the schedule.
func (r *Rotator) Load(ctx context.Context) error {
	if err := r.files.Init(); err != nil {
		return err
	}

	latest, err := r.repo.Latest(ctx)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		r.logger.Info(ctx, "no signing key found, generating the first one")
		_, err = r.Rotate(ctx)
		return err
	case err != nil:
		return fmt.Errorf("load latest signing key: %w", err)
	}

	if !latest.IssuableAt(r.now()) {
		r.logger.Info(ctx, "latest signing key expired, rotating", "kid", latest.KeyID, "expires_at", latest.ExpiresAt)
		_, err = r.Rotate(ctx)
		return err
	}

	if err := r.adopt(latest); err != nil {
		r.logger.Warn(ctx, "cannot load latest signing key, rotating", "kid", latest.KeyID, "error", err)
		_, err = r.Rotate(ctx)
		return err
	}

	r.logger.Info(ctx, "signing key loaded", "kid", latest.KeyID, "expires_at", latest.ExpiresAt)
	r.afterRotate(ctx)
	return nil
}

// Start loads the current key and then runs the rotation schedule in a
// background goroutine until ctx is done. It returns once a key is current.
func (r *Rotator) Start(ctx context.Context) error {
	if err := r.Load(ctx); err != nil {
		return err
	}
	go func() {
		defer close(r.done)
		r.run(ctx)
	}()
	return nil
}

// Done is closed when the schedule started by Start has stopped.
func (r *Rotator) Done() <-chan struct{} {
	return r.done
}

func (r *Rotator) run(ctx context.Context) {
	var failed bool
	for {
		wait := r.retryInterval
		if !failed {
			wait = r.untilExpiry()
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info(ctx, "key rotation stopped")
			return
		case <-timer.C:
		}

		if err := r.rotateDue(ctx); err != nil {
			failed = true
			r.logger.Error(ctx, "signing key rotation failed", "error", err, "retry_in", r.retryInterval)
			continue
		}
		failed = false
	}
}

// untilExpiry is derived from the persisted ExpiresAt of the current key.
func (r *Rotator) untilExpiry() time.Duration {
	cur := r.current.Load()
	if cur == nil {
		return 0
	}
	d := cur.Meta.ExpiresAt.Sub(r.now())
	if d < 0 {
		return 0
	}
	return d
}

// rotateDue rotates unless another process already did, in which case the
// newer persisted key is adopted.
func (r *Rotator) rotateDue(ctx context.Context) error {
	latest, err := r.repo.Latest(ctx)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("load latest signing key: %w", err)
	}

	cur := r.current.Load()
	if latest != nil && latest.IssuableAt(r.now()) && (cur == nil || latest.KeyID != cur.Meta.KeyID) {
		if err := r.adopt(latest); err == nil {
			r.logger.Info(ctx, "adopted signing key rotated elsewhere", "kid", latest.KeyID)
			return nil
		}
	}
	if cur != nil && cur.Meta.IssuableAt(r.now()) {
		return nil
	}

	_, err = r.Rotate(ctx)
	return err
}

func (r *Rotator) adopt(meta *models.SigningKey) error {
	priv, err := r.files.ReadPrivate(meta.PrivateKeyPath)
	if err != nil {
		return err
	}
	r.cachePublic(meta.KeyID, &priv.PublicKey, meta.VerifyUntil)
	r.current.Store(&KeyPair{Meta: *meta, Private: priv})
	return nil
}

// Rotate generates a new key, persists it and makes it current. The previous
// key becomes retired: it no longer signs but verifies until its VerifyUntil.
func (r *Rotator) Rotate(ctx context.Context) (*models.SigningKey, error) {
	r.rotateMu.Lock()
	defer r.rotateMu.Unlock()

	now := r.now().UTC().Truncate(time.Microsecond)

	priv, err := rsa.GenerateKey(rand.Reader, r.keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	kid := NewKeyID(now)
	privPath, pubPath, err := r.files.Write(kid, priv)
	if err != nil {
		return nil, fmt.Errorf("write key files: %w", err)
	}

	expiresAt := now.Add(r.rotationPeriod)
	meta := models.SigningKey{
		KeyID:          kid,
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		CreatedAt:      now,
		ExpiresAt:      expiresAt,
		VerifyUntil:    expiresAt.Add(r.accessTTL),
	}
	if err := r.repo.Create(ctx, &meta); err != nil {
		_ = r.files.Remove(privPath, pubPath)
		return nil, fmt.Errorf("store signing key: %w", err)
	}

	r.cachePublic(kid, &priv.PublicKey, meta.VerifyUntil)

	prev := r.current.Swap(&KeyPair{Meta: meta, Private: priv})
	args := []any{"kid", kid, "expires_at", meta.ExpiresAt, "verify_until", meta.VerifyUntil}
	if prev != nil {
		args = append(args, "retired_kid", prev.Meta.KeyID)
	}
	r.logger.Info(ctx, "signing key rotated", args...)

	r.afterRotate(ctx)
	return &meta, nil
}

// CurrentSigningKey returns the key id and private key used for issuance.
func (r *Rotator) CurrentSigningKey() (string, *rsa.PrivateKey, error) {
	kp := r.current.Load()
	if kp == nil {
		return "", nil, common.ErrKeyNotInitialized
	}
	return kp.Meta.KeyID, kp.Private, nil
}

// Current returns the current key pair, or nil before Load.
func (r *Rotator) Current() *KeyPair {
	return r.current.Load()
}

// PublicKeyFor resolves the verification key for kid. Unknown and discarded
// keys yield common.ErrUnknownSigningKey; storage failures are wrapped in
// common.ErrStoreUnavailable.
func (r *Rotator) PublicKeyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := r.now()

	r.cacheMu.RLock()
	c, ok := r.cache[kid]
	r.cacheMu.RUnlock()
	if ok {
		if now.Before(c.verifyUntil) {
			return c.public, nil
		}
		return nil, common.ErrUnknownSigningKey
	}

	if !ValidKeyID(kid) {
		return nil, common.ErrUnknownSigningKey
	}

	meta, err := r.repo.Get(ctx, kid)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrUnknownSigningKey
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	if !meta.VerifiableAt(now) {
		return nil, common.ErrUnknownSigningKey
	}

	pub, err := r.files.ReadPublic(meta.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	r.cachePublic(kid, pub, meta.VerifyUntil)
	return pub, nil
}

func (r *Rotator) cachePublic(kid string, pub *rsa.PublicKey, verifyUntil time.Time) {
	r.cacheMu.Lock()
	r.cache[kid] = cachedKey{public: pub, verifyUntil: verifyUntil}
	r.cacheMu.Unlock()
}

// VerificationKeys lists every key that still verifies, newest first.
func (r *Rotator) VerificationKeys(ctx context.Context) ([]VerificationKey, error) {
	metas, err := r.repo.ListVerifiable(ctx, r.now())
	if err != nil {
		return nil, err
	}

	out := make([]VerificationKey, 0, len(metas))
	for _, m := range metas {
		data, err := r.files.ReadPublicPEM(m.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		pub, err := ParsePublicKey(data)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", m.KeyID, err)
		}
		out = append(out, VerificationKey{
			KeyID:       m.KeyID,
			Public:      pub,
			PublicPEM:   data,
			CreatedAt:   m.CreatedAt,
			ExpiresAt:   m.ExpiresAt,
			VerifyUntil: m.VerifyUntil,
		})
	}
	return out, nil
}

// Prune deletes keys past VerifyUntil together with their files.
func (r *Rotator) Prune(ctx context.Context) (int, error) {
	discarded, err := r.repo.DeleteDiscarded(ctx, r.now())
	if err != nil {
		return 0, err
	}

	r.cacheMu.Lock()
	for _, k := range discarded {
		delete(r.cache, k.KeyID)
	}
	r.cacheMu.Unlock()

	var errs []error
	for _, k := range discarded {
		if err := r.files.Remove(k.PrivateKeyPath, k.PublicKeyPath); err != nil {
			errs = append(errs, err)
		}
		r.logger.Info(ctx, "signing key discarded", "kid", k.KeyID)
	}
	return len(discarded), errors.Join(errs...)
}

// afterRotate prunes and publishes. Failures are logged only: a stale JWKS
// or leftover file never blocks issuance.
func (r *Rotator) afterRotate(ctx context.Context) {
	if _, err := r.Prune(ctx); err != nil {
		r.logger.Warn(ctx, "pruning discarded signing keys failed", "error", err)
	}
	if r.publisher == nil {
		return
	}
	keys, err := r.VerificationKeys(ctx)
	if err != nil {
		r.logger.Warn(ctx, "listing verification keys failed", "error", err)
		return
	}
	if err := r.publisher.Publish(ctx, keys); err != nil {
		r.logger.Warn(ctx, "publishing verification keys failed", "error", err)
	}
}
