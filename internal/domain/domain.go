package domain

const (
	RequestPending    = "pending"
	RequestInProgress = "in_progress"
	RequestCompleted  = "completed"

	TaskAssigned = "assigned"
	TaskDone     = "done"

	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"

	TeamDay   = "day"
	TeamNight = "night"

	EntityRequest  = "request"
	EntityTask     = "task"
	EntityApproval = "approval"
	EntityReminder = "reminder"
	EntityRoster   = "roster"

	NoteComment  = "comment"
	NoteQuestion = "question"
)

// Teams lists the roster teams in rotation order.
var Teams = []string{TeamDay, TeamNight}

// ValidTeam reports whether team names a roster team.
func ValidTeam(team string) bool {
	return team == TeamDay || team == TeamNight
}

type Request struct {
	ID          int64     `json:"id"`
	RequesterID string    `json:"requester_id"`
	Text        string    `json:"text"`
	Status      string    `json:"status" enum:"pending,in_progress,completed"`
	AssigneeID  *string   `json:"assignee_id,omitempty"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
	TakenAt     *string   `json:"taken_at,omitempty" format:"date-time"`
	CompletedAt *string   `json:"completed_at,omitempty" format:"date-time"`
	Comments    []Comment `json:"comments,omitempty"`
}

// Assignee returns the assignee id or "" when the request is unassigned.
func (r Request) Assignee() string {
	if r.AssigneeID == nil {
		return ""
	}
	return *r.AssigneeID
}

type Task struct {
	ID          int64     `json:"id"`
	CreatorID   string    `json:"creator_id"`
	AssigneeID  string    `json:"assignee_id"`
	Text        string    `json:"text"`
	Status      string    `json:"status" enum:"assigned,done"`
	Deadline    *string   `json:"deadline,omitempty" format:"date"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
	CompletedAt *string   `json:"completed_at,omitempty" format:"date-time"`
	Questions   []Comment `json:"questions,omitempty"`
}

type Approval struct {
	ID         int64   `json:"id"`
	RequestID  int64   `json:"request_id"`
	ApproverID string  `json:"approver_id"`
	Status     string  `json:"status" enum:"pending,approved,rejected"`
	Comment    string  `json:"comment,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	ResolvedAt *string `json:"resolved_at,omitempty" format:"date-time"`
}

type Reminder struct {
	ID        int64  `json:"id"`
	OwnerID   string `json:"owner_id"`
	Text      string `json:"text"`
	FireAt    string `json:"fire_at" format:"date-time"`
	Sent      bool   `json:"sent"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID         int64  `json:"id"`
	EntityKind string `json:"entity_kind" enum:"request,task"`
	EntityID   int64  `json:"entity_id"`
	AuthorID   string `json:"author_id"`
	Kind       string `json:"kind" enum:"comment,question"`
	Text       string `json:"text"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Roster holds the ordered members of each team. The first members of a team
// are the ones on duty.
type Roster struct {
	Day             []string `json:"day"`
	Night           []string `json:"night"`
	RotationStarted string   `json:"rotation_started,omitempty" format:"date-time"`
}

// Team returns the members of the named team.
func (r Roster) Team(team string) []string {
	switch team {
	case TeamDay:
		return r.Day
	case TeamNight:
		return r.Night
	}
	return nil
}

type Shift struct {
	Date     string `json:"date" format:"date"`
	Team     string `json:"team" enum:"day,night"`
	MemberID string `json:"member_id"`
}

type Stats struct {
	Requests         map[string]int `json:"requests"`
	Tasks            map[string]int `json:"tasks"`
	Approvals        map[string]int `json:"approvals"`
	PendingReminders int            `json:"pending_reminders"`
	SentReminders    int            `json:"sent_reminders"`
}

type Workload struct {
	MemberID     string `json:"member_id"`
	OpenRequests int    `json:"open_requests"`
	OpenTasks    int    `json:"open_tasks"`
	DoneRequests int    `json:"done_requests"`
	DoneTasks    int    `json:"done_tasks"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
