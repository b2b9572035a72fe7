package store

import "time"

type User struct {
	ID          int64      `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FullName    string     `json:"full_name"`
	OpenID      string     `json:"openid"`
	Email       string     `json:"email,omitempty"`
	EnableLogin bool       `json:"enable_login"`
	IsSuperuser bool       `json:"is_superuser"`
	LastLogin   *time.Time `json:"last_login"`
}

type Team struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `json:"name"`
}

type Project struct {
	ID                 int64     `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	IsActive           bool      `json:"is_active"`
	RepoURL            string    `json:"repo_url,omitempty"`
	AutocreateBranches bool      `json:"autocreate_branches"`
}

type ProjectGroup struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
}

type Branch struct {
	ID             int64      `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Name           string     `json:"name"`
	ProjectID      int64      `json:"project_id"`
	Expired        bool       `json:"expired"`
	ExpirationDate *time.Time `json:"expiration_date"`
	Autocreated    bool       `json:"autocreated"`
	Restricted     bool       `json:"restricted"`
}

type Milestone struct {
	ID             int64      `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Name           string     `json:"name"`
	BranchID       int64      `json:"branch_id"`
	Expired        bool       `json:"expired"`
	ExpirationDate *time.Time `json:"expiration_date"`
}

type StoryType struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Icon       string `json:"icon,omitempty"`
	Restricted bool   `json:"restricted"`
	Private    bool   `json:"private"`
	Visible    bool   `json:"visible"`
}

type Story struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatorID   int64     `json:"creator_id"`
	StoryTypeID int64     `json:"story_type_id"`
	Private     bool      `json:"private"`
	IsBug       bool      `json:"is_bug"`
	// Derived fields, populated on read.
	Status     string         `json:"status,omitempty"`
	TaskCounts map[string]int `json:"task_statuses,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

type Task struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	StoryID     int64     `json:"story_id"`
	ProjectID   int64     `json:"project_id"`
	BranchID    int64     `json:"branch_id"`
	MilestoneID *int64    `json:"milestone_id"`
	AssigneeID  *int64    `json:"assignee_id"`
	CreatorID   int64     `json:"creator_id"`
	Link        string    `json:"link,omitempty"`
}

type Comment struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Content   string    `json:"content"`
	IsActive  bool      `json:"is_active"`
}

type Event struct {
	ID         int64          `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	EventType  string         `json:"event_type"`
	AuthorID   *int64         `json:"author_id"`
	StoryID    *int64         `json:"story_id,omitempty"`
	WorklistID *int64         `json:"worklist_id,omitempty"`
	BoardID    *int64         `json:"board_id,omitempty"`
	CommentID  *int64         `json:"comment_id,omitempty"`
	EventInfo  map[string]any `json:"event_info"`
}

type Subscription struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	UserID     int64     `json:"user_id"`
	TargetType string    `json:"target_type"`
	TargetID   int64     `json:"target_id"`
}

type SubscriptionEvent struct {
	ID           int64          `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	SubscriberID int64          `json:"subscriber_id"`
	AuthorID     *int64         `json:"author_id"`
	EventType    string         `json:"event_type"`
	EventInfo    map[string]any `json:"event_info"`
}

// Notification is a SubscriptionEvent joined with its subscriber's contact
// details, as consumed by the email delivery plugin.
type Notification struct {
	SubscriptionEvent
	SubscriberEmail    string
	SubscriberFullName string
	AuthorFullName     string
	EmailPreference    *string
}

type Worklist struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Title     string    `json:"title"`
	CreatorID int64     `json:"creator_id"`
	ProjectID *int64    `json:"project_id"`
	Private   bool      `json:"private"`
	Archived  bool      `json:"archived"`
	Automatic bool      `json:"automatic"`
}

type WorklistItem struct {
	ID             int64     `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ListID         int64     `json:"list_id"`
	ItemType       string    `json:"item_type"`
	ItemID         int64     `json:"item_id"`
	ListPosition   int       `json:"list_position"`
	Archived       bool      `json:"archived"`
	DisplayDueDate *int64    `json:"display_due_date"`
}

type WorklistFilter struct {
	ID         int64             `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ListID     int64             `json:"list_id"`
	FilterType string            `json:"filter_type"`
	Criteria   []FilterCriterion `json:"filter_criteria"`
}

type FilterCriterion struct {
	ID       int64  `json:"id"`
	FilterID int64  `json:"filter_id"`
	Title    string `json:"title"`
	Field    string `json:"field"`
	Value    string `json:"value"`
	Negative bool   `json:"negative"`
}

type Board struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatorID   int64     `json:"creator_id"`
	ProjectID   *int64    `json:"project_id"`
	Private     bool      `json:"private"`
	Archived    bool      `json:"archived"`
	Lanes       []Lane    `json:"lanes"`
}

// Lane ties a worklist into a board at a position. The lane's contents are
// exactly the referenced worklist's items.
type Lane struct {
	ID       int64 `json:"id"`
	BoardID  int64 `json:"board_id"`
	ListID   int64 `json:"list_id"`
	Position int   `json:"position"`
}

type DueDate struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	Private   bool      `json:"private"`
	CreatorID int64     `json:"creator_id"`
}

type Permission struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Codename string  `json:"codename"`
	Users    []int64 `json:"users"`
	Teams    []int64 `json:"teams"`
}

type AuthorizationCode struct {
	ID        int64     `json:"-"`
	CreatedAt time.Time `json:"-"`
	Code      string    `json:"code"`
	State     string    `json:"state"`
	UserID    int64     `json:"-"`
	ExpiresIn int       `json:"expires_in"`
}

type AccessToken struct {
	ID        int64
	CreatedAt time.Time
	Token     string
	UserID    int64
	ExpiresIn int
	ExpiresAt time.Time
}

type RefreshToken struct {
	ID            int64
	CreatedAt     time.Time
	Token         string
	AccessTokenID int64
	UserID        int64
	ExpiresIn     int
	ExpiresAt     time.Time
}
