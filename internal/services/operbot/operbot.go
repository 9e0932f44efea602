// Package operbot is the OperBot personality grounded on
// original_source/src/s_operbot.c: joins a configured oper-only
// channel at end-of-burst and relays its activity into the watch
// audit stream (OBJOIN/OBPART manage the joined-channel set).
package operbot

import (
	"fmt"

	"github.com/cycoslave/ratbox-services-sub000/internal/service"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
	"github.com/cycoslave/ratbox-services-sub000/internal/watch"
)

// WatchFlagOperBot is the watch category OperBot relays traffic onto.
const WatchFlagOperBot watch.Flag = 1 << 9

// Joiner is how the daemon actually puts the OperBot client into a
// channel; kept as a function so this package never imports link.
type Joiner func(chName string) error
type Parter func(chName string) error

// Engine owns the set of channels OperBot sits in (store.OperBotChan).
type Engine struct {
	db    *store.Store
	join  Joiner
	part  Parter
	watch *watch.Bus
}

// New builds an OperBot engine.
func New(db *store.Store, join Joiner, part Parter, watchBus *watch.Bus) *Engine {
	return &Engine{db: db, join: join, part: part, watch: watchBus}
}

// OJoin adds chName to OperBot's joined-channel set and joins it now.
func (e *Engine) OJoin(chName, oper string, ts int64) error {
	var existing store.OperBotChan
	if err := e.db.DB().Where("ch_name = ?", chName).First(&existing).Error; err == nil {
		return fmt.Errorf("operbot: already in %s", chName)
	}
	if err := e.db.DB().Create(&store.OperBotChan{ChName: chName, TSInfo: ts, Oper: oper}).Error; err != nil {
		return err
	}
	if err := e.join(chName); err != nil {
		return err
	}
	e.watch.Send(WatchFlagOperBot, oper, "", true, "OJOIN %s", chName)
	return nil
}

// OPart removes chName from OperBot's joined-channel set.
func (e *Engine) OPart(chName, oper string) error {
	res := e.db.DB().Where("ch_name = ?", chName).Delete(&store.OperBotChan{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("operbot: not in %s", chName)
	}
	if err := e.part(chName); err != nil {
		return err
	}
	e.watch.Send(WatchFlagOperBot, oper, "", true, "OPART %s", chName)
	return nil
}

// RejoinAll re-joins every configured channel (called at EOB/burst
// completion, mirroring the original's burst-time rejoin of all
// persisted operbot channels).
func (e *Engine) RejoinAll() error {
	var chans []store.OperBotChan
	if err := e.db.DB().Find(&chans).Error; err != nil {
		return err
	}
	for _, c := range chans {
		if err := e.join(c.ChName); err != nil {
			return err
		}
	}
	return nil
}

// Relay forwards a line of channel activity into the watch stream
// (s_operbot_invite/s_operbot_op's audit logging).
func (e *Engine) Relay(chName, actor, line string) {
	e.watch.Send(WatchFlagOperBot, actor, "", false, "%s: %s", chName, line)
}

// RegisterCommands wires OJOIN/OPART onto svc (oper ucommands in the
// original, exposed here as ordinary oper-gated service commands).
func (e *Engine) RegisterCommands(svc *service.Service) {
	svc.Register(service.Command{Name: "OJOIN", Requires: service.ReqOper, MinArgs: 1, Handler: func(ctx service.Context, reply service.Reply) (int, error) {
		if err := e.OJoin(ctx.Args[0], ctx.AccountName, 0); err != nil {
			return 0, fmt.Errorf("OJOIN failed: %w", err)
		}
		reply("joined " + ctx.Args[0])
		return 0, nil
	}})
	svc.Register(service.Command{Name: "OPART", Requires: service.ReqOper, MinArgs: 1, Handler: func(ctx service.Context, reply service.Reply) (int, error) {
		if err := e.OPart(ctx.Args[0], ctx.AccountName); err != nil {
			return 0, fmt.Errorf("OPART failed: %w", err)
		}
		reply("left " + ctx.Args[0])
		return 0, nil
	}})
}
