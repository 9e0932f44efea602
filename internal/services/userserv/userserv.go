// Package userserv is the UserServ personality: the IRC-facing
// command surface over internal/account (spec §4.4): REGISTER,
// LOGIN/LOGOUT, and RESETPASS/RESETEMAIL (with their RESETPASS2/
// RESETEMAIL2 second phases). There is no SET command.
package userserv

import (
	"fmt"
	"strings"
	"time"

	"github.com/cycoslave/ratbox-services-sub000/internal/account"
	"github.com/cycoslave/ratbox-services-sub000/internal/service"
)

// Personality wires a *service.Service to an *account.Registry.
type Personality struct {
	svc *service.Service
	reg *account.Registry
	now func() time.Time
}

// New builds the UserServ command table.
func New(svc *service.Service, reg *account.Registry, now func() time.Time) *Personality {
	p := &Personality{svc: svc, reg: reg, now: now}

	svc.Register(service.Command{Name: "REGISTER", MinArgs: 2, Handler: p.cmdRegister})
	svc.Register(service.Command{Name: "LOGIN", MinArgs: 2, Handler: p.cmdLogin})
	svc.Register(service.Command{Name: "LOGOUT", Requires: service.ReqLogin, Handler: p.cmdLogout})
	svc.Register(service.Command{Name: "RESETPASS", MinArgs: 1, Handler: p.cmdResetPass})
	svc.Register(service.Command{Name: "RESETPASS2", MinArgs: 2, Handler: p.cmdResetPass2})
	svc.Register(service.Command{Name: "RESETEMAIL", Requires: service.ReqLogin, MinArgs: 1, Handler: p.cmdResetEmail})
	svc.Register(service.Command{Name: "RESETEMAIL2", Requires: service.ReqLogin, MinArgs: 1, Handler: p.cmdResetEmail2})
	return p
}

func (p *Personality) cmdRegister(ctx service.Context, reply service.Reply) (int, error) {
	username, password := ctx.Args[0], ctx.Args[1]
	email := ""
	if len(ctx.Args) > 2 {
		email = ctx.Args[2]
	}
	_, _, host := splitMask(ctx.Mask)
	_, err := p.reg.Register(username, password, email, host, p.now())
	if err != nil {
		return 0, fmt.Errorf("REGISTER failed: %w", err)
	}
	reply(fmt.Sprintf("%s is now registered; check your email to activate", username))
	return 0, nil
}

func (p *Personality) cmdLogin(ctx service.Context, reply service.Reply) (int, error) {
	username, password := ctx.Args[0], ctx.Args[1]
	_, err := p.reg.Login(username, password, ctx.UID)
	if err != nil {
		return 0, fmt.Errorf("LOGIN failed: %w", err)
	}
	reply("you are now logged in as " + username)
	return 0, nil
}

func (p *Personality) cmdLogout(ctx service.Context, reply service.Reply) (int, error) {
	p.reg.Logout(ctx.AccountName, ctx.UID)
	reply("logged out")
	return 0, nil
}

func (p *Personality) cmdResetPass(ctx service.Context, reply service.Reply) (int, error) {
	if err := p.reg.RequestResetPass(ctx.Args[0], p.now()); err != nil {
		return 0, fmt.Errorf("RESETPASS failed: %w", err)
	}
	reply("check your email for a reset token")
	return 0, nil
}

func (p *Personality) cmdResetPass2(ctx service.Context, reply service.Reply) (int, error) {
	if err := p.reg.ConfirmResetPass(ctx.Args[0], ctx.Args[1], ctx.Args[len(ctx.Args)-1]); err != nil {
		return 0, fmt.Errorf("RESETPASS2 failed: %w", err)
	}
	reply("password reset")
	return 0, nil
}

func (p *Personality) cmdResetEmail(ctx service.Context, reply service.Reply) (int, error) {
	if err := p.reg.RequestResetEmail(ctx.AccountName, ctx.Args[0], p.now()); err != nil {
		return 0, fmt.Errorf("RESETEMAIL failed: %w", err)
	}
	reply("check your new address for a confirmation token")
	return 0, nil
}

func (p *Personality) cmdResetEmail2(ctx service.Context, reply service.Reply) (int, error) {
	if err := p.reg.ConfirmResetEmail(ctx.AccountName, ctx.Args[0]); err != nil {
		return 0, fmt.Errorf("RESETEMAIL2 failed: %w", err)
	}
	reply("email updated")
	return 0, nil
}

func splitMask(mask string) (nick, user, host string) {
	bang := strings.IndexByte(mask, '!')
	at := strings.IndexByte(mask, '@')
	if bang < 0 || at < 0 || at < bang {
		return mask, "", ""
	}
	return mask[:bang], mask[bang+1 : at], mask[at+1:]
}
