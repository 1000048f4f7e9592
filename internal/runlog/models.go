package runlog

type Run struct {
	RunID     string `gorm:"column:run_id;primaryKey"`
	Profile   string `gorm:"column:profile;not null;default:''"`
	Domain    string `gorm:"column:domain;not null;default:''"`
	Transport string `gorm:"column:transport;not null;default:''"`
	Status    string `gorm:"column:status;not null;default:'running'"`
	StartedAt int64  `gorm:"column:started_at;not null;default:0"`
	EndedAt   int64  `gorm:"column:ended_at;not null;default:0"`
	LastError string `gorm:"column:last_error;not null;default:''"`
}

func (Run) TableName() string { return "runs" }

type RunEvent struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string `gorm:"column:run_id;not null"`
	Kind      string `gorm:"column:kind;not null"`
	Rule      string `gorm:"column:rule;not null;default:''"`
	Cursor    int    `gorm:"column:cursor;not null;default:0"`
	Total     int    `gorm:"column:total;not null;default:0"`
	Payload   string `gorm:"column:payload;not null;default:''"`
	Flag      string `gorm:"column:flag;not null;default:''"`
	CreatedAt int64  `gorm:"column:created_at;not null;default:0"`
}

func (RunEvent) TableName() string { return "run_events" }

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)
