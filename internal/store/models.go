// Package store is the persistence gateway (spec §4 "Persistence
// gateway" / §6 "Persisted schema"): parameterised query execution via
// GORM, transaction framing for the consistency spec §5 requires
// ("multi-statement work is wrapped in an explicit START
// TRANSACTION/COMMIT pair"), and reconnect/retry bounded to 30s
// (spec §7.2) using internal/retry. The choice of underlying SQL
// engine is explicitly out of scope (spec §1); Open below supports
// sqlite, mysql, and postgres the way the teacher repo's go.mod
// carries all three GORM drivers, and treats the dialect switch
// itself as the named external collaborator boundary.
package store

// User mirrors the `users` table (spec §6).
type User struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	Username      string `gorm:"uniqueIndex;size:64;not null"`
	Password      string `gorm:"size:128;not null"`
	Email         string `gorm:"size:255"`
	Suspender     string `gorm:"size:64"`
	SuspendReason string `gorm:"size:255"`
	SuspendTime   int64
	RegTime       int64
	LastTime      int64
	Flags         uint32
	VerifyToken   string `gorm:"size:64"`
	Language      string `gorm:"size:16"`
}

func (User) TableName() string { return "users" }

// Nick mirrors the `nicks` table.
type Nick struct {
	Nickname string `gorm:"primaryKey;size:64"`
	Username string `gorm:"index;size:64;not null"`
	RegTime  int64
	LastTime int64
	Flags    uint32
}

func (Nick) TableName() string { return "nicks" }

// Channel mirrors the `channels` table.
type Channel struct {
	ChName        string `gorm:"primaryKey;size:200"`
	Topic         string `gorm:"size:390"`
	URL           string `gorm:"size:200"`
	CreateModes   string `gorm:"size:64"`
	EnforceModes  string `gorm:"size:64"`
	TSInfo        int64
	RegTime       int64
	LastTime      int64
	Flags         uint32
	Suspender     string `gorm:"size:64"`
	SuspendReason string `gorm:"size:255"`
	SuspendTime   int64
}

func (Channel) TableName() string { return "channels" }

// Member mirrors the `members` table (channel access records).
type Member struct {
	ChName   string `gorm:"primaryKey;size:200"`
	Username string `gorm:"primaryKey;size:64"`
	LastMod  string `gorm:"size:64"`
	Level    int
	Flags    uint32
	Suspend  int
}

func (Member) TableName() string { return "members" }

// Ban mirrors the `bans` table.
type Ban struct {
	ChName   string `gorm:"primaryKey;size:200"`
	Mask     string `gorm:"primaryKey;size:200"`
	Reason   string `gorm:"size:255"`
	Username string `gorm:"size:64"`
	Level    int
	Hold     int64
}

func (Ban) TableName() string { return "bans" }

// OperBan mirrors the `operbans` table (kline/xline/resv).
type OperBan struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Type        string `gorm:"size:1;index"`
	Mask        string `gorm:"size:255;index"`
	Reason      string `gorm:"size:255"`
	OperReason  string `gorm:"size:255"`
	Oper        string `gorm:"size:64"`
	Hold        int64
	Remove      bool
	Flags       uint32
	CreateTime  int64
}

func (OperBan) TableName() string { return "operbans" }

// OperBanRegexp mirrors `operbans_regexp`.
type OperBanRegexp struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Regex      string `gorm:"size:255"`
	Reason     string `gorm:"size:255"`
	Hold       int64
	CreateTime int64
	Oper       string `gorm:"size:64"`
}

func (OperBanRegexp) TableName() string { return "operbans_regexp" }

// OperBanRegexpNeg mirrors `operbans_regexp_neg`, the negation list
// attached to a positive regex ban.
type OperBanRegexpNeg struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	ParentID uint64 `gorm:"index"`
	Regex    string `gorm:"size:255"`
	Oper     string `gorm:"size:64"`
}

func (OperBanRegexpNeg) TableName() string { return "operbans_regexp_neg" }

// ResetPass mirrors `users_resetpass`.
type ResetPass struct {
	Username string `gorm:"primaryKey;size:64"`
	Token    string `gorm:"size:64"`
	Time     int64
}

func (ResetPass) TableName() string { return "users_resetpass" }

// ResetEmail mirrors `users_resetemail`.
type ResetEmail struct {
	Username string `gorm:"primaryKey;size:64"`
	Token    string `gorm:"size:64"`
	Time     int64
	Email    string `gorm:"size:255"`
}

func (ResetEmail) TableName() string { return "users_resetemail" }

// Jupe mirrors `jupes`.
type Jupe struct {
	ServerName string `gorm:"primaryKey;size:200"`
	Reason     string `gorm:"size:255"`
}

func (Jupe) TableName() string { return "jupes" }

// OperServChan mirrors `operserv` (opersv's own joined channel record).
type OperServChan struct {
	ChName string `gorm:"primaryKey;size:200"`
	TSInfo int64
	Oper   string `gorm:"size:64"`
}

func (OperServChan) TableName() string { return "operserv" }

// OperBotChan mirrors `operbot`.
type OperBotChan struct {
	ChName string `gorm:"primaryKey;size:200"`
	TSInfo int64
	Oper   string `gorm:"size:64"`
}

func (OperBotChan) TableName() string { return "operbot" }

// IgnoreHost mirrors `ignore_hosts`.
type IgnoreHost struct {
	Hostname string `gorm:"primaryKey;size:200"`
	Oper     string `gorm:"size:64"`
	Reason   string `gorm:"size:255"`
}

func (IgnoreHost) TableName() string { return "ignore_hosts" }

// EmailBannedDomain mirrors `email_banned_domain`.
type EmailBannedDomain struct {
	Domain string `gorm:"primaryKey;size:200"`
}

func (EmailBannedDomain) TableName() string { return "email_banned_domain" }

// GlobalWelcome mirrors `global_welcome`.
type GlobalWelcome struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
	Text string `gorm:"size:500"`
}

func (GlobalWelcome) TableName() string { return "global_welcome" }

// Memo mirrors `memos`.
type Memo struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	UserID    uint64 `gorm:"index"`
	Source    string `gorm:"size:64"`
	SourceID  uint64
	Timestamp int64
	Flags     uint32
	Text      string `gorm:"size:500"`
}

func (Memo) TableName() string { return "memos" }

// UsersSync mirrors `users_sync`, the DB-hook mailbox table (spec §4.8).
type UsersSync struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
	Hook string `gorm:"size:64;index"`
	Data string `gorm:"type:text"`
}

func (UsersSync) TableName() string { return "users_sync" }

// AllModels lists every table for AutoMigrate, in the dependency order
// that keeps foreign-key-ish references (enforced at the application
// layer, not via SQL constraints, matching the source daemon) sane.
func AllModels() []any {
	return []any{
		&User{}, &Nick{}, &Channel{}, &Member{}, &Ban{},
		&OperBan{}, &OperBanRegexp{}, &OperBanRegexpNeg{},
		&ResetPass{}, &ResetEmail{},
		&Jupe{}, &OperServChan{}, &OperBotChan{},
		&IgnoreHost{}, &EmailBannedDomain{}, &GlobalWelcome{}, &Memo{},
		&UsersSync{},
	}
}
