package authctl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	gs "github.com/dmitrijs2005/authkeeper/internal/server/grpc"
	"google.golang.org/grpc/metadata"
)

func (a *App) withClient(fn func(*gs.AuthClient) error) error {
	conn, err := a.dial(a.config.EndpointAddrGRPC)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.config.EndpointAddrGRPC, err)
	}
	defer conn.Close()
	return fn(gs.NewAuthClient(conn))
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *App) jwks(ctx context.Context) error {
	return a.withClient(func(c *gs.AuthClient) error {
		resp, err := c.JWKS(ctx, &gs.JWKSRequest{})
		if err != nil {
			return err
		}
		return a.printJSON(resp.Keys)
	})
}

func (a *App) login(ctx context.Context, login string) error {
	if login == "" {
		var err error
		if login, err = GetSimpleText(a.in, "Login:", a.out); err != nil {
			return err
		}
	}
	pw, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	defer wipe(pw)

	return a.withClient(func(c *gs.AuthClient) error {
		creds, err := c.Login(ctx, &gs.LoginRequest{Login: login, Password: string(pw)})
		if err != nil {
			return err
		}
		return a.printJSON(creds)
	})
}

func (a *App) introspect(ctx context.Context, token string) error {
	ctx = metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, token)
	return a.withClient(func(c *gs.AuthClient) error {
		resp, err := c.Introspect(ctx, &gs.IntrospectRequest{})
		if err != nil {
			return err
		}
		return a.printJSON(resp)
	})
}
