package authctl

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/jwks"
	"github.com/dmitrijs2005/authkeeper/internal/server/keys"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/signingkeys"
)

func keyStatus(k models.SigningKey, now time.Time) string {
	if k.IssuableAt(now) {
		return "active"
	}
	return "retired"
}

// withRotator opens the key repository and hands a rotator over it to fn.
func (a *App) withRotator(ctx context.Context, fn func(*keys.Rotator, signingkeys.Repository) error) error {
	repo, closer, err := a.openKeys(ctx, a.config)
	if err != nil {
		return err
	}
	defer closer.Close()

	var opts []keys.Option
	if a.config.S3Bucket != "" {
		pub, err := jwks.DialS3Publisher(ctx, server.S3ConfigFrom(a.config), a.logger)
		if err != nil {
			return err
		}
		opts = append(opts, keys.WithPublisher(pub))
	}

	files := keys.NewFileStore(a.config.PrivateKeyDir, a.config.PublicKeyDir, []byte(a.config.KeyEncryptionSecret))
	if err := files.Init(); err != nil {
		return err
	}
	r := keys.NewRotator(repo, files, a.logger, a.config.KeyRotationPeriod, a.config.AccessTokenValidityDuration, opts...)
	return fn(r, repo)
}

func (a *App) keysList(ctx context.Context) error {
	return a.withRotator(ctx, func(_ *keys.Rotator, repo signingkeys.Repository) error {
		now := time.Now()
		list, err := repo.ListVerifiable(ctx, now)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KID\tSTATUS\tCREATED\tEXPIRES\tVERIFY UNTIL")
		for _, k := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.KeyID, keyStatus(k, now),
				k.CreatedAt.Format(time.RFC3339), k.ExpiresAt.Format(time.RFC3339), k.VerifyUntil.Format(time.RFC3339))
		}
		return tw.Flush()
	})
}

func (a *App) keysRotate(ctx context.Context) error {
	return a.withRotator(ctx, func(r *keys.Rotator, _ signingkeys.Repository) error {
		meta, err := r.Rotate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "rotated: %s (expires %s)\n", meta.KeyID, meta.ExpiresAt.Format(time.RFC3339))
		fmt.Fprintln(a.out, "running servers pick the new key up on their next rotation or restart")
		return nil
	})
}

func (a *App) keysPrune(ctx context.Context) error {
	return a.withRotator(ctx, func(r *keys.Rotator, _ signingkeys.Repository) error {
		n, err := r.Prune(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "pruned %d key(s)\n", n)
		return nil
	})
}

func (a *App) verifyToken(ctx context.Context, token string) error {
	return a.withRotator(ctx, func(r *keys.Rotator, _ signingkeys.Repository) error {
		claims, err := auth.NewAccessTokens(r, a.config.AccessTokenValidityDuration).Verify(ctx, token)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "valid\nsub: %s\nkid: %s\nexp: %s\n", claims.Subject, claims.KeyID, claims.ExpiresAt.Format(time.RFC3339))
		return nil
	})
}
