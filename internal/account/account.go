package account

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cycoslave/ratbox-services-sub000/internal/casemap"
	"github.com/cycoslave/ratbox-services-sub000/internal/hookbus"
	"github.com/cycoslave/ratbox-services-sub000/internal/store"
)

// Flags on a User row (spec §3 "Registered account": "flag bits
// (suspended, private, never-activated, no-access-grants, no-memos,
// needs-writeback)").
const (
	FlagSuspended uint32 = 1 << iota
	FlagPrivate
	FlagNeverActivated
	FlagNoAccessGrants
	FlagNoMemos
	FlagNeedsWriteback
)

// Hook names the channel access engine and memo store attach listeners to.
const (
	HookLogin  = "account:login"
	HookLogout = "account:logout"
)

// Mailer is the only contract the account registry needs from an
// email transport (spec §1 Non-goals: "the core only asks 'send a
// message to address X with body Y'").
type Mailer interface {
	Send(to, subject, body string) error
}

// Config holds the registry's tunables, all sourced from the
// `serverinfo`/`service` config blocks (spec §6).
type Config struct {
	UsernameMaxLen   int
	PasswordMaxLen   int
	RequireEmail     bool
	RegisterWindow   time.Duration
	RegisterMaxGlobal int
	RegisterMaxHost   int
	ResetWindow      time.Duration
	MaxLogins        int

	InactivityWindow time.Duration
	BonusThreshold   time.Duration
	BonusPeriod      time.Duration
	BonusStep        time.Duration
	BonusMax         time.Duration
	SuspendedExpiry  time.Duration
	UnverifiedExpiry time.Duration
}

// Registry is the in-memory account/session fabric backed by store.Store.
type Registry struct {
	db     *store.Store
	hooks  *hookbus.Bus
	mailer Mailer
	cfg    Config

	loginHook  hookbus.Point
	logoutHook hookbus.Point

	globalRegisterTimes []time.Time
	hostRegisterTimes   map[string][]time.Time

	// sessions maps account name (folded) -> set of user UIDs currently
	// bound to it (spec §3 invariant: "An account's login session set
	// is a subset of live user-clients whose account reference points
	// back at that account").
	sessions map[string]map[string]bool
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// New creates a Registry.
func New(db *store.Store, bus *hookbus.Bus, mailer Mailer, cfg Config) *Registry {
	return &Registry{
		db:                db,
		hooks:             bus,
		mailer:            mailer,
		cfg:               cfg,
		loginHook:         bus.Register(HookLogin),
		logoutHook:        bus.Register(HookLogout),
		hostRegisterTimes: make(map[string][]time.Time),
		sessions:          make(map[string]map[string]bool),
	}
}

// RegisterResult reports the outcome of Register.
type RegisterResult struct {
	Token string // non-empty if email verification is pending
}

// Register validates and creates a new account (spec §4.4 "Register").
func (r *Registry) Register(username, password, email, hostKey string, now time.Time) (*RegisterResult, error) {
	if len(username) == 0 || len(username) > r.cfg.UsernameMaxLen {
		return nil, fmt.Errorf("account: username length out of bounds")
	}
	if username[0] >= '0' && username[0] <= '9' || username[0] == '-' {
		return nil, fmt.Errorf("account: username may not start with a digit or '-'")
	}
	if !validUsernameChars(username) {
		return nil, fmt.Errorf("account: username contains invalid characters")
	}
	if len(password) == 0 || len(password) > r.cfg.PasswordMaxLen {
		return nil, fmt.Errorf("account: password length out of bounds")
	}
	if email == "" && r.cfg.RequireEmail {
		return nil, fmt.Errorf("account: email address required")
	}
	if email != "" {
		if !emailRe.MatchString(email) {
			return nil, fmt.Errorf("account: malformed email address")
		}
		domain := email[strings.LastIndex(email, "@")+1:]
		var banned store.EmailBannedDomain
		if err := r.db.DB().Where("domain = ?", strings.ToLower(domain)).First(&banned).Error; err == nil {
			return nil, fmt.Errorf("account: email domain is not accepted")
		}
	}

	if !r.checkRateLimits(hostKey, now) {
		return nil, fmt.Errorf("account: registration rate limit exceeded")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	flags := uint32(0)
	token := ""
	if r.cfg.RequireEmail || email != "" {
		if r.cfg.RequireEmail {
			flags |= FlagNeverActivated
			token = uuid.NewString()
		}
	}

	u := &store.User{
		Username: username,
		Password: hash,
		Email:    email,
		RegTime:  now.Unix(),
		LastTime: now.Unix(),
		Flags:    flags,
		VerifyToken: token,
	}
	if err := r.db.DB().Create(u).Error; err != nil {
		return nil, fmt.Errorf("account: creating user: %w", err)
	}

	if token != "" {
		if err := r.mailer.Send(email, "Account activation",
			fmt.Sprintf("ACTIVATE %s %s", username, token)); err != nil {
			return nil, fmt.Errorf("account: sending activation email: %w", err)
		}
	}

	r.globalRegisterTimes = append(r.globalRegisterTimes, now)
	r.hostRegisterTimes[hostKey] = append(r.hostRegisterTimes[hostKey], now)

	return &RegisterResult{Token: token}, nil
}

func validUsernameChars(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

func (r *Registry) checkRateLimits(hostKey string, now time.Time) bool {
	cutoff := now.Add(-r.cfg.RegisterWindow)
	r.globalRegisterTimes = pruneBefore(r.globalRegisterTimes, cutoff)
	if r.cfg.RegisterMaxGlobal > 0 && len(r.globalRegisterTimes) >= r.cfg.RegisterMaxGlobal {
		return false
	}
	hostTimes := pruneBefore(r.hostRegisterTimes[hostKey], cutoff)
	r.hostRegisterTimes[hostKey] = hostTimes
	if r.cfg.RegisterMaxHost > 0 && len(hostTimes) >= r.cfg.RegisterMaxHost {
		return false
	}
	return true
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// Activate completes phase 1 registration (spec S1 scenario).
func (r *Registry) Activate(username, token string) error {
	var u store.User
	if err := r.db.DB().Where("username = ?", username).First(&u).Error; err != nil {
		return fmt.Errorf("account: no such user")
	}
	if u.VerifyToken == "" || u.VerifyToken != token {
		return fmt.Errorf("account: invalid activation token")
	}
	u.Flags &^= FlagNeverActivated
	u.VerifyToken = ""
	return r.db.DB().Save(&u).Error
}

// Login authenticates username/password, binding the account to
// userUID if it succeeds, subject to the max_logins session cap
// (spec §4.4 "Login").
func (r *Registry) Login(username, password, userUID string) (*store.User, error) {
	var u store.User
	if err := r.db.DB().Where("username = ?", username).First(&u).Error; err != nil {
		return nil, fmt.Errorf("account: no such user")
	}
	if u.Flags&FlagSuspended != 0 {
		return nil, fmt.Errorf("account: account is suspended")
	}
	if u.Flags&FlagNeverActivated != 0 {
		return nil, fmt.Errorf("account: unactivated")
	}
	if !CheckPassword(password, u.Password) {
		return nil, fmt.Errorf("account: incorrect password")
	}

	key := casemap.Fold(username)
	if r.sessions[key] == nil {
		r.sessions[key] = make(map[string]bool)
	}
	if r.cfg.MaxLogins > 0 && len(r.sessions[key]) >= r.cfg.MaxLogins {
		return nil, fmt.Errorf("account: too many concurrent logins")
	}
	r.sessions[key][userUID] = true

	r.hooks.Call(r.loginHook, LoginEvent{Username: username, UserUID: userUID})
	return &u, nil
}

// Logout cuts the session edge from both sides (spec §3 invariant).
func (r *Registry) Logout(username, userUID string) {
	key := casemap.Fold(username)
	if set, ok := r.sessions[key]; ok {
		delete(set, userUID)
		if len(set) == 0 {
			delete(r.sessions, key)
		}
	}
	r.hooks.Call(r.logoutHook, LoginEvent{Username: username, UserUID: userUID})
}

// LoginEvent is the payload delivered on HookLogin/HookLogout.
type LoginEvent struct {
	Username string
	UserUID  string
}

// SessionCount reports how many live user UIDs are bound to username.
func (r *Registry) SessionCount(username string) int {
	return len(r.sessions[casemap.Fold(username)])
}

// RequestResetPass is reset-flow phase 1 for passwords (spec §4.4
// "Reset flows").
func (r *Registry) RequestResetPass(username string, now time.Time) error {
	var u store.User
	if err := r.db.DB().Where("username = ?", username).First(&u).Error; err != nil {
		return fmt.Errorf("account: no such user")
	}
	if u.Email == "" {
		return fmt.Errorf("account: no email on file")
	}
	var existing store.ResetPass
	if err := r.db.DB().Where("username = ?", username).First(&existing).Error; err == nil {
		if now.Sub(time.Unix(existing.Time, 0)) < r.cfg.ResetWindow {
			return fmt.Errorf("account: reset already requested recently")
		}
	}
	token := uuid.NewString()
	entry := store.ResetPass{Username: username, Token: token, Time: now.Unix()}
	if err := r.db.DB().Save(&entry).Error; err != nil {
		return err
	}
	return r.mailer.Send(u.Email, "Password reset", fmt.Sprintf("RESETPASS %s %s", username, token))
}

// ConfirmResetPass is phase 2a: RESETPASS user token newpass.
func (r *Registry) ConfirmResetPass(username, token, newPassword string) error {
	var entry store.ResetPass
	if err := r.db.DB().Where("username = ?", username).First(&entry).Error; err != nil {
		return fmt.Errorf("account: no reset pending")
	}
	if entry.Token != token {
		return fmt.Errorf("account: token mismatch")
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := r.db.DB().Model(&store.User{}).Where("username = ?", username).Update("password", hash).Error; err != nil {
		return err
	}
	return r.db.DB().Delete(&entry).Error
}

// RequestResetEmail is reset-flow phase 1 for a pending new email
// (spec §4.4: phase 2b is CONFIRM then AUTH from a logged-in session).
func (r *Registry) RequestResetEmail(username, newEmail string, now time.Time) error {
	var u store.User
	if err := r.db.DB().Where("username = ?", username).First(&u).Error; err != nil {
		return fmt.Errorf("account: no such user")
	}
	token := uuid.NewString()
	entry := store.ResetEmail{Username: username, Token: token, Time: now.Unix(), Email: newEmail}
	if err := r.db.DB().Save(&entry).Error; err != nil {
		return err
	}
	return r.mailer.Send(newEmail, "Confirm new email", fmt.Sprintf("AUTH %s %s", username, token))
}

// ConfirmResetEmail commits a previously-confirmed email change; the
// caller is responsible for checking the session is logged in as
// username before calling (spec: "an AUTH step from a logged-in
// session commits the change").
func (r *Registry) ConfirmResetEmail(username, token string) error {
	var entry store.ResetEmail
	if err := r.db.DB().Where("username = ?", username).First(&entry).Error; err != nil {
		return fmt.Errorf("account: no email reset pending")
	}
	if entry.Token != token {
		return fmt.Errorf("account: token mismatch")
	}
	if err := r.db.DB().Model(&store.User{}).Where("username = ?", username).Update("email", entry.Email).Error; err != nil {
		return err
	}
	return r.db.DB().Delete(&entry).Error
}

// ExpireResetTokens deletes reset rows older than cfg.ResetWindow (the
// periodic sweep spec §4.4 calls for).
func (r *Registry) ExpireResetTokens(now time.Time) {
	cutoff := now.Add(-r.cfg.ResetWindow).Unix()
	r.db.DB().Where("time < ?", cutoff).Delete(&store.ResetPass{})
	r.db.DB().Where("time < ?", cutoff).Delete(&store.ResetEmail{})
}

// expiryFor computes inactivity_window + bonus(age) per spec §4.4
// "Expiry and bonus".
func (r *Registry) expiryFor(age time.Duration) time.Duration {
	bonus := time.Duration(0)
	if age >= r.cfg.BonusThreshold && r.cfg.BonusPeriod > 0 {
		periods := float64(age) / float64(r.cfg.BonusPeriod)
		bonus = time.Duration(periods * float64(r.cfg.BonusStep))
		if bonus > r.cfg.BonusMax {
			bonus = r.cfg.BonusMax
		}
		if bonus < 0 {
			bonus = 0
		}
	}
	return r.cfg.InactivityWindow + bonus
}

// ExpireAccounts scans every account for inactivity/suspension expiry
// (spec §4.4 "Expiry and bonus"). Accounts with a live session are
// left alone: LastTime is only stale for logged-out accounts.
func (r *Registry) ExpireAccounts(now time.Time) error {
	var users []store.User
	if err := r.db.DB().Find(&users).Error; err != nil {
		return err
	}
	for _, u := range users {
		if r.SessionCount(u.Username) > 0 {
			continue
		}
		age := now.Sub(time.Unix(u.RegTime, 0))
		lastActive := now.Sub(time.Unix(u.LastTime, 0))

		if u.Flags&FlagSuspended != 0 {
			if lastActive >= r.cfg.SuspendedExpiry {
				r.db.DB().Delete(&u)
			}
			continue
		}
		if u.Flags&FlagNeverActivated != 0 {
			if lastActive >= r.cfg.UnverifiedExpiry {
				r.db.DB().Delete(&u)
			}
			continue
		}
		if lastActive >= r.expiryFor(age) {
			r.db.DB().Delete(&u)
		}
	}
	return nil
}

// FlushWriteback is the consolidated DBSYNC hook (spec §4.4 "Hooks"):
// every account with FlagNeedsWriteback flushes last-activity to the
// store inside a single transaction, on a timer and on explicit
// operator request.
func (r *Registry) FlushWriteback(now time.Time) error {
	return r.db.WithTransaction(func(tx *gorm.DB) error {
		var pending []store.User
		if err := tx.Where("flags & ? != 0", FlagNeedsWriteback).Find(&pending).Error; err != nil {
			return err
		}
		for _, u := range pending {
			u.LastTime = now.Unix()
			u.Flags &^= FlagNeedsWriteback
			if err := tx.Save(&u).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
